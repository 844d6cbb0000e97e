package agent

// EventKind discriminates agent execution events.
type EventKind string

const (
	// EventMessage carries model-produced text. Final marks the last
	// message of the run.
	EventMessage EventKind = "message"

	// EventToolCall marks the start of a tool invocation.
	EventToolCall EventKind = "tool_call"

	// EventToolResult carries a tool's output text.
	EventToolResult EventKind = "tool_result"

	// EventError terminates the run with a failure.
	EventError EventKind = "error"
)

// Event is one step of an agent run.
type Event struct {
	Kind     EventKind
	Author   string
	Text     string
	ToolName string
	Final    bool
	Err      error
}

func errorEvent(author string, err error) Event {
	return Event{Kind: EventError, Author: author, Err: err}
}
