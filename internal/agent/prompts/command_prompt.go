package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/dulus-bm/server/internal/agent/model"
)

//go:embed template/command_prompt.txt
var commandSystemPrompt string

type numberedRule struct {
	N     int
	ID    string
	Title string
	Text  string
}

// RenderCommandSystem renders the dispatcher's system prompt through an Eino
// prompt template so prompt callbacks fire. The user id is deliberately not
// part of the variables.
func RenderCommandSystem(ctx context.Context, cfg model.PromptConfig, policy Policy, toolNames []string, now time.Time) (string, error) {
	if err := policy.Validate(); err != nil {
		return "", err
	}

	loc, err := Location(cfg.Timezone)
	if err != nil {
		return "", fmt.Errorf("command prompt: %w", err)
	}
	local := now.In(loc)

	rules := make([]numberedRule, 0, len(policy.Rules))
	for i, r := range policy.Rules {
		rules = append(rules, numberedRule{N: i + 1, ID: r.ID, Title: r.Title, Text: r.Text})
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(commandSystemPrompt),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"AssistantName": cfg.AssistantName,
		"BusinessName":  cfg.BusinessName,
		"Tools":         toolNames,
		"Today":         local.Format("2006-01-02"),
		"Weekday":       local.Weekday().String(),
		"Timezone":      loc.String(),
		"PolicyVersion": policy.Version,
		"Rules":         rules,
	})
	if err != nil {
		return "", fmt.Errorf("command prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("command prompt render: empty result")
	}
	return msgs[0].Content, nil
}
