package model

// CommandInput is one natural-language instruction. UserID travels out of band
// (from the authenticated session) and is never parsed from Instruction.
type CommandInput struct {
	Instruction string `json:"instruction"`
	UserID      string `json:"-"`
}

type CommandOutput struct {
	Reply   string   `json:"reply"`
	Actions []Action `json:"actions"`
	CostUSD float64  `json:"costUsd,omitempty"`
}

type ActionStatus string

const (
	ActionSucceeded ActionStatus = "succeeded"
	// ActionRejected means the call never reached the provider (bad arguments,
	// unknown tool, unresolved reference).
	ActionRejected ActionStatus = "rejected"
	ActionFailed   ActionStatus = "failed"
	// ActionSkipped means the caller went away before the call was started.
	ActionSkipped ActionStatus = "skipped"
)

// Action records one tool call attempted while resolving an instruction.
type Action struct {
	Tool     string       `json:"tool"`
	CallID   string       `json:"callId"`
	Status   ActionStatus `json:"status"`
	EntityID string       `json:"entityId,omitempty"`
	Detail   string       `json:"detail,omitempty"`
}
