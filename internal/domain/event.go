package domain

// Stream event types. A session emits exactly one terminal event (done or
// error), always last.
const (
	EventThinking   = "thinking"
	EventText       = "text"
	EventToolUse    = "tool_use"
	EventToolResult = "tool_result"
	EventSources    = "sources"
	EventDone       = "done"
	EventError      = "error"
)

// StreamEvent is the tagged union written to the outbound channel, one JSON
// object per SSE data line.
type StreamEvent struct {
	Type       string         `json:"type"`
	Content    string         `json:"content,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolInput  map[string]any `json:"toolInput,omitempty"`
	ToolResult any            `json:"toolResult,omitempty"`
	Sources    []SourceRecord `json:"sources,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// TextEvent builds a visible text event.
func TextEvent(content string) StreamEvent {
	return StreamEvent{Type: EventText, Content: content}
}

// ThinkingEvent builds a thinking event. Content may be empty: an empty
// thinking event is emitted eagerly to signal that reasoning has started.
func ThinkingEvent(content string) StreamEvent {
	return StreamEvent{Type: EventThinking, Content: content}
}

// ToolUseEvent announces a tool invocation.
func ToolUseEvent(name string, input map[string]any, content string) StreamEvent {
	return StreamEvent{Type: EventToolUse, ToolName: name, ToolInput: input, Content: content}
}

// ToolResultEvent reports a completed tool invocation, success or failure.
func ToolResultEvent(name string, result any, content string) StreamEvent {
	return StreamEvent{Type: EventToolResult, ToolName: name, ToolResult: result, Content: content}
}

// SourcesEvent carries one or more citation records.
func SourcesEvent(records ...SourceRecord) StreamEvent {
	return StreamEvent{Type: EventSources, Sources: records}
}

// DoneEvent is the successful terminal event.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}

// ErrorEvent is the failure terminal event.
func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, Error: msg}
}
