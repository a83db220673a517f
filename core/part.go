package core

// Part represents a polymorphic segment of role-based content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string // Plain UTF-8 text
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ThoughtPart is a raw reasoning summary emitted by a model backend. The turn
// engine splits its text into subject/description before surfacing it.
type ThoughtPart struct {
	Text string
}

// isPart implements the Part interface for ThoughtPart.
func (ThoughtPart) isPart() {}

// BlobPart is inline binary data (images, audio, arbitrary bytes).
type BlobPart struct {
	MIMEType string
	Data     []byte
}

// isPart implements the Part interface for BlobPart.
func (BlobPart) isPart() {}

// FileRefPart references externally stored binary content by URI.
type FileRefPart struct {
	MIMEType string
	URI      string
}

// isPart implements the Part interface for FileRefPart.
func (FileRefPart) isPart() {}

// FunctionCall describes a tool/function invocation request.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"` // Optional stable id (generated when the backend omits one)
	Name string         `json:"name"`         // Tool / function name
	Args map[string]any `json:"args,omitempty"`
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse describes the outcome of a function call.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"` // Matches originating FunctionCall ID
	Name     string         `json:"name"`         // Function name
	Response map[string]any `json:"response,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Conversation roles. The engine distinguishes only the two speakers of a
// turn; system instructions travel separately on the model request.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Content holds role + ordered parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// NewUserContent builds a user message with a single text part.
func NewUserContent(text string) Content {
	return Content{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// NewModelContent builds a model message with a single text part.
func NewModelContent(text string) Content {
	return Content{Role: RoleModel, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all plain text parts in order.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// FunctionCalls returns any FunctionCall parts preserving original order.
func (c Content) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns any FunctionResponse parts preserving original order.
func (c Content) FunctionResponses() []FunctionResponse {
	var responses []FunctionResponse
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsToolResponseOnly reports whether a user message consists entirely of
// function responses. Such messages are synthetic continuations produced by
// the scheduler, not human turns, and must not influence next-speaker
// inference.
func (c Content) IsToolResponseOnly() bool {
	if c.Role != RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if _, ok := p.(FunctionResponsePart); !ok {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the content carries neither text, function calls,
// responses nor binary payloads. Empty model outputs are excluded from the
// curated history view.
func (c Content) IsEmpty() bool {
	for _, p := range c.Parts {
		switch part := p.(type) {
		case TextPart:
			if part.Text != "" {
				return false
			}
		case ThoughtPart:
			// Thoughts alone do not make a turn valid.
		default:
			return false
		}
	}
	return true
}
