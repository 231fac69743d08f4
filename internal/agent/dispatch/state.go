package dispatch

// state is a step of the command resolution loop:
// AwaitingModel -> ToolRequested -> ToolExecuting -> AwaitingModel ... -> Finalized.
type state int

const (
	stateAwaitingModel state = iota
	stateToolRequested
	stateToolExecuting
	stateFinalized
)

func (s state) String() string {
	switch s {
	case stateAwaitingModel:
		return "awaiting_model"
	case stateToolRequested:
		return "tool_requested"
	case stateToolExecuting:
		return "tool_executing"
	case stateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}
