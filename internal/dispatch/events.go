package dispatch

// EventKind discriminates the agent event sum: assistant_text, thought,
// tool_started, tool_result, run_result, error.
type EventKind string

const (
	EventAssistantText EventKind = "assistant_text"
	EventThought       EventKind = "thought"
	EventToolStarted   EventKind = "tool_started"
	EventToolResult    EventKind = "tool_result"
	EventRunResult     EventKind = "run_result"
	EventError         EventKind = "error"
)

// ToolStatus is the outcome attached to a tool_result event.
type ToolStatus string

const (
	ToolOK      ToolStatus = "ok"
	ToolError   ToolStatus = "error"
	ToolDenied  ToolStatus = "denied"
)

// Event is one streamed unit from a running agent. Only the fields relevant to Kind
// are populated.
type Event struct {
	Kind EventKind

	Text string // assistant_text / thought

	ToolID    string // tool_started / tool_result
	ToolName  string
	ToolInput string // tool_started

	ToolStatus     ToolStatus // tool_result
	ToolOutputSummary string  // tool_result

	Result AgentResult // run_result

	ErrMessage        string              // error
	ErrClassification ErrorClassification // error
}
