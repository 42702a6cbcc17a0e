// Package llm provides abstractions for Large Language Model clients
// stream.go defines the events of a streamed response

package llm

const (
	StreamEventDelta = "delta"
	StreamEventDone  = "done"
	StreamEventError = "error"
)

// Finish reasons reported on done events
const (
	FinishReasonStop      = "stop"
	FinishReasonLength    = "length"
	FinishReasonToolCalls = "tool_calls"
)

// StreamEvent is a single event of a streamed response. Content carries the
// next text fragment. ToolCalls carries complete calls; a backend may send
// them on any event, including the final one.
type StreamEvent struct {
	Type         string     `json:"type"` // "delta", "done", "error"
	Content      string     `json:"content,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Error        *Error     `json:"error,omitempty"`
}

// IsDelta returns true if this is a delta event
func (e StreamEvent) IsDelta() bool {
	return e.Type == StreamEventDelta
}

// IsDone returns true if this is the final event of a successful stream
func (e StreamEvent) IsDone() bool {
	return e.Type == StreamEventDone
}

// IsError returns true if this is an error event
func (e StreamEvent) IsError() bool {
	return e.Type == StreamEventError && e.Error != nil
}

// NewDeltaEvent creates a text fragment event
func NewDeltaEvent(content string) StreamEvent {
	return StreamEvent{Type: StreamEventDelta, Content: content}
}

// NewToolCallsEvent creates a delta event carrying complete tool calls
func NewToolCallsEvent(calls ...ToolCall) StreamEvent {
	return StreamEvent{Type: StreamEventDelta, ToolCalls: calls}
}

// NewDoneEvent creates the final event of a stream
func NewDoneEvent(finishReason string, calls ...ToolCall) StreamEvent {
	return StreamEvent{Type: StreamEventDone, FinishReason: finishReason, ToolCalls: calls}
}

// NewErrorEvent creates an error event
func NewErrorEvent(err *Error) StreamEvent {
	return StreamEvent{Type: StreamEventError, Error: err}
}
