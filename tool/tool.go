// Package tool implements the capability subsystem: the Tool execution
// contract with its confirmation gate, a registry merging statically
// registered, subprocess-discovered and remote-protocol (MCP) tools, and a
// session-scoped trust policy.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentloop/core"
)

// Result is the outcome of one tool execution. Parts feed the model; Display
// is a human-oriented rendering. A non-empty Error settles the call in the
// error state without aborting sibling calls.
type Result struct {
	Parts   []core.Part
	Display string
	Error   string
}

// TextResult wraps plain text output.
func TextResult(text string) *Result {
	return &Result{Parts: []core.Part{core.TextPart{Text: text}}, Display: text}
}

// ErrorResult wraps an execution failure message.
func ErrorResult(msg string) *Result {
	return &Result{Error: msg, Display: msg}
}

// Confirmation carries the display metadata shown to the user while a call
// waits at the confirmation gate.
type Confirmation struct {
	Title       string
	Description string
	Command     string // populated for shell-style tools
	Diff        string // populated for edit-style tools
	ServerName  string // populated for remote-protocol tools
}

// Outcome records the user's decision at the confirmation gate.
type Outcome int

const (
	// OutcomeNone means no decision has been recorded yet.
	OutcomeNone Outcome = iota
	// OutcomeProceed approves this single execution.
	OutcomeProceed
	// OutcomeProceedAlways approves and trusts the tool for the session.
	OutcomeProceedAlways
	// OutcomeModifyWithEditor requests an edit round-trip before re-prompting.
	OutcomeModifyWithEditor
	// OutcomeCancel rejects the execution.
	OutcomeCancel
)

// String returns the audit-log label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeProceed:
		return "proceed"
	case OutcomeProceedAlways:
		return "proceed_always"
	case OutcomeModifyWithEditor:
		return "modify_with_editor"
	case OutcomeCancel:
		return "cancel"
	default:
		return "none"
	}
}

// Tool defines one invocable capability exposed to the model.
//
// Implementations should provide descriptive names, a minimal JSON schema for
// parameters, and be safe for concurrent use: all calls of a batch execute in
// parallel.
type Tool interface {
	// Name returns the unique identifier for this tool (last registration wins).
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// CanUpdateOutput reports whether Execute streams live output chunks.
	CanUpdateOutput() bool

	// ShouldConfirm returns the confirmation details required before this
	// invocation, or nil when no confirmation is needed.
	ShouldConfirm(ctx context.Context, args map[string]any) (*Confirmation, error)

	// Execute runs the tool. onOutput, when non-nil and the tool is
	// live-output capable, receives intermediate output chunks. Cancellation
	// is cooperative via ctx.
	Execute(ctx context.Context, args map[string]any, onOutput func(string)) (*Result, error)
}

// ArgModifier is implemented by tools that support the edit-before-execute
// confirmation flow. ModifyArgs folds externally edited content back into the
// argument map and returns the updated confirmation diff.
type ArgModifier interface {
	ModifyArgs(args map[string]any, edited string) (map[string]any, string)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`    // Name of the tool that failed
	Message string `json:"message"` // Error message
	Code    string `json:"code"`    // Error code for categorization
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
