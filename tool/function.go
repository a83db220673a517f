package tool

import "context"

// FunctionTool is a generic adapter that exposes a plain Go function as an
// engine tool.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification
//   - Validates model supplied arguments against that schema before execution
//   - Normalizes error handling so callers receive *ToolError with consistent
//     codes: VALIDATION_ERROR for schema mismatch, EXECUTION_ERROR otherwise
//     (custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	confirm     func(ctx context.Context, args map[string]any) (*Confirmation, error)
	liveOutput  bool
	fn          func(ctx context.Context, args map[string]any, onOutput func(string)) (*Result, error)
}

// FunctionToolOption mutates optional FunctionTool behavior.
type FunctionToolOption func(t *FunctionTool)

// WithConfirm installs a tool-specific confirmation predicate (e.g. diff
// preview for file edits, warning for destructive shell commands).
func WithConfirm(fn func(ctx context.Context, args map[string]any) (*Confirmation, error)) FunctionToolOption {
	return func(t *FunctionTool) { t.confirm = fn }
}

// WithLiveOutput marks the tool as capable of streaming intermediate output.
func WithLiveOutput() FunctionToolOption {
	return func(t *FunctionTool) { t.liveOutput = true }
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any, onOutput func(string)) (*Result, error),
	optFns ...FunctionToolOption,
) *FunctionTool {
	t := &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
	for _, opt := range optFns {
		opt(t)
	}
	return t
}

// Name returns the unique tool name used in function declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// CanUpdateOutput implements Tool.
func (t *FunctionTool) CanUpdateOutput() bool { return t.liveOutput }

// ShouldConfirm implements Tool; without an installed predicate no
// confirmation is required.
func (t *FunctionTool) ShouldConfirm(ctx context.Context, args map[string]any) (*Confirmation, error) {
	if t.confirm == nil {
		return nil, nil
	}
	return t.confirm(ctx, args)
}

// Execute validates the provided args against the declared schema then
// invokes the underlying function. Validation or execution failures are
// wrapped (or passed through) as *ToolError for uniform downstream handling.
func (t *FunctionTool) Execute(ctx context.Context, args map[string]any, onOutput func(string)) (*Result, error) {
	if err := ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: "parameter validation failed: " + err.Error(),
			Code:    "VALIDATION_ERROR",
		}
	}

	result, err := t.fn(ctx, args, onOutput)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}

	return result, nil
}
