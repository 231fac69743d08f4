package prompts

import (
	"fmt"

	"github.com/dulus-bm/server/internal/agent/tools"
)

// Rule identifiers the command policy must always contain.
const (
	RulePlanActions         = "plan-actions"
	RuleResolveReferences   = "resolve-references"
	RuleAskMissingFields    = "ask-missing-fields"
	RuleConfirmSpecifically = "confirm-specifically"
	RuleNoToolWhenNotNeeded = "no-tool-when-not-needed"
	RuleSynonyms            = "synonyms"
)

var requiredRules = []string{
	RulePlanActions,
	RuleResolveReferences,
	RuleAskMissingFields,
	RuleConfirmSpecifically,
}

type Rule struct {
	ID    string
	Title string
	Text  string
}

// Policy is the ordered reasoning policy rendered into the command system prompt.
type Policy struct {
	Version string
	Rules   []Rule
}

// DefaultPolicy returns the policy the dispatcher runs with.
func DefaultPolicy() Policy {
	return Policy{
		Version: "2025-03",
		Rules: []Rule{
			{
				ID:    RulePlanActions,
				Title: "Plan the actions",
				Text: "Decide whether the request is one atomic action or a sequence of dependent actions. " +
					"Perform dependent actions in order, one step after the other.",
			},
			{
				ID:    RuleResolveReferences,
				Title: "Resolve references before acting",
				Text: "Tools that take an ID (clientId, stockItemId) need a real ID returned by a tool in this conversation. " +
					"If the user names a client, call " + tools.ToolListClients + " first and use the matching client's id; for stock, call " + tools.ToolListStock + " first. " +
					"Never guess or invent an ID. If no record matches the name, do not create anything: ask the user whether to create a new client.",
			},
			{
				ID:    RuleAskMissingFields,
				Title: "Ask for missing information",
				Text: "If a required detail is missing (for example a new client's email, phone or address, or an invoice amount), " +
					"ask the user for it in your reply. Do not make up values and do not call a tool with incomplete data.",
			},
			{
				ID:    RuleConfirmSpecifically,
				Title: "Confirm specifically",
				Text: "After tools run, reply with a short, friendly confirmation that names what was acted on, " +
					"for example \"Done! I've created invoice INV-0042 for Jane Doe for 500.\" " +
					"When several tools ran, summarize every one of them. If a tool reported an error, say what did not happen.",
			},
			{
				ID:    RuleNoToolWhenNotNeeded,
				Title: "Answer directly when no action is needed",
				Text:  "If the message is a question you can answer without a tool, answer it. Prefer tools whenever the user wants something created, listed or updated.",
			},
			{
				ID:    RuleSynonyms,
				Title: "Understand casual phrasing",
				Text: "Users write casually, briefly and with typos. \"make invoice\", \"create bill\" and \"send receipt\" all mean " + tools.ToolCreateInvoice + "; " +
					"\"add a to-do\" or \"remind me to\" mean " + tools.ToolCreateTask + "; \"how much stock\" means " + tools.ToolListStock + ".",
			},
		},
	}
}

// Validate reports a policy that is missing a required rule or repeats an ID.
func (p Policy) Validate() error {
	seen := make(map[string]bool, len(p.Rules))
	for _, r := range p.Rules {
		if r.ID == "" || r.Text == "" {
			return fmt.Errorf("policy %s: rule with empty id or text", p.Version)
		}
		if seen[r.ID] {
			return fmt.Errorf("policy %s: duplicate rule %q", p.Version, r.ID)
		}
		seen[r.ID] = true
	}
	for _, id := range requiredRules {
		if !seen[id] {
			return fmt.Errorf("policy %s: missing required rule %q", p.Version, id)
		}
	}
	return nil
}

// RuleIDs lists the rule identifiers in order.
func (p Policy) RuleIDs() []string {
	ids := make([]string, 0, len(p.Rules))
	for _, r := range p.Rules {
		ids = append(ids, r.ID)
	}
	return ids
}
