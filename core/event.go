package core

import "github.com/google/uuid"

// Event is the normalized engine-to-caller stream element. Concrete event
// types implement the unexported isEvent marker enabling a closed set, the
// same pattern used for Part.
type Event interface{ isEvent() }

// ContentEvent carries a fragment of model-generated text.
type ContentEvent struct {
	Text string
}

func (ContentEvent) isEvent() {}

// ThoughtEvent carries a parsed reasoning summary.
type ThoughtEvent struct {
	Subject     string
	Description string
}

func (ThoughtEvent) isEvent() {}

// ToolCallRequestEvent signals that the model asked for a tool invocation.
type ToolCallRequestEvent struct {
	Request ToolCallRequest
}

func (ToolCallRequestEvent) isEvent() {}

// ToolCallStatusEvent reports a scheduler-side lifecycle transition for a
// single tool call (awaiting approval, started, succeeded, failed, cancelled).
type ToolCallStatusEvent struct {
	CallID string
	Name   string
	Status string
}

func (ToolCallStatusEvent) isEvent() {}

// ErrorEvent carries a normalized non-fatal turn error.
type ErrorEvent struct {
	Err *StructuredError
}

func (ErrorEvent) isEvent() {}

// UserCancelledEvent is emitted exactly once when cancellation is observed
// mid-stream.
type UserCancelledEvent struct{}

func (UserCancelledEvent) isEvent() {}

// ChatCompressedEvent reports a completed history compression.
type ChatCompressedEvent struct {
	Info CompressionInfo
}

func (ChatCompressedEvent) isEvent() {}

// CompressionInfo is an immutable record of one compression event.
type CompressionInfo struct {
	OriginalTokenCount int
	NewTokenCount      int
}

// ToolCallRequest is created by the turn engine when the model emits a
// function-call part. Args may be rewritten during an edit-before-execute
// confirmation flow; all other fields are immutable.
type ToolCallRequest struct {
	CallID          string
	Name            string
	Args            map[string]any
	ClientInitiated bool
}

// ToolCallResponse is produced by the scheduler on terminal success, error or
// cancellation and fed back into the session as a synthetic continuation.
type ToolCallResponse struct {
	CallID  string
	Parts   []Part
	Err     *StructuredError
	Display string
}

// NewID generates a new unique identifier for events and tool calls.
func NewID() string { return uuid.NewString() }
