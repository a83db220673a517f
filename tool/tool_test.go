package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
)

// -------------------- Schema & Validation Tests --------------------

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		// Use []any to mirror possible JSON decoded schema shape
		"required": []any{"x"},
	}

	// Success
	err := ValidateParameters(map[string]any{"x": 5}, schema)
	assert.NoError(t, err)

	// JSON numbers arrive as float64; whole values still satisfy integer.
	err = ValidateParameters(map[string]any{"x": float64(7)}, schema)
	assert.NoError(t, err)

	// Missing required
	err = ValidateParameters(map[string]any{}, schema)
	assert.Error(t, err)
	if vErr, ok := err.(*ValidationError); ok {
		assert.Equal(t, "x", vErr.Field)
	} else {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	// Wrong type
	err = ValidateParameters(map[string]any{"x": "not-int"}, schema)
	assert.Error(t, err)
	if vErr, ok := err.(*ValidationError); ok {
		assert.Contains(t, vErr.Message, "expected type integer")
	} else {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestValidateParameters_RequiredAsStringSlice(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []string{"name"},
	}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"name": "ok"}, schema))
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params,
		func(_ context.Context, args map[string]any, _ func(string)) (*Result, error) {
			a := args["a"].(float64)
			b := args["b"].(float64)
			return TextResult(fmt.Sprintf("%g", a+b)), nil
		})

	result, err := sumTool.Execute(context.Background(), map[string]any{"a": 2.0, "b": 3.0}, nil)
	require.NoError(t, err)
	assert.Equal(t, "5", resultText(result))
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		// Use interface slice to match ValidateParameters implementation expectation
		"required": []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params,
		func(_ context.Context, _ map[string]any, _ func(string)) (*Result, error) {
			return TextResult("unreachable"), nil
		})

	_, err := tTool.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	execTool := NewFunctionTool("fail", "Fails", params,
		func(_ context.Context, _ map[string]any, _ func(string)) (*Result, error) {
			return nil, errors.New("boom")
		})

	_, err := execTool.Execute(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	toolErr, ok := err.(*ToolError)
	require.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}

func TestFunctionTool_ConfirmationAndLiveOutput(t *testing.T) {
	plain := NewFunctionTool("plain", "No frills", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, _ func(string)) (*Result, error) {
			return TextResult("ok"), nil
		})
	confirmation, err := plain.ShouldConfirm(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, confirmation)
	assert.False(t, plain.CanUpdateOutput())

	guarded := NewFunctionTool("guarded", "Asks first", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, onOutput func(string)) (*Result, error) {
			if onOutput != nil {
				onOutput("working...")
			}
			return TextResult("ok"), nil
		},
		WithConfirm(func(_ context.Context, _ map[string]any) (*Confirmation, error) {
			return &Confirmation{Title: "Proceed?"}, nil
		}),
		WithLiveOutput())

	confirmation, err = guarded.ShouldConfirm(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, confirmation)
	assert.Equal(t, "Proceed?", confirmation.Title)
	assert.True(t, guarded.CanUpdateOutput())
}

// -------------------- Trust Policy --------------------

func TestTrustPolicy(t *testing.T) {
	trust := NewTrustPolicy()
	assert.False(t, trust.IsTrusted("", "shell"))

	trust.Trust("", "shell")
	assert.True(t, trust.IsTrusted("", "shell"))
	assert.False(t, trust.IsTrusted("files", "shell"))

	trust.TrustServer("files")
	assert.True(t, trust.IsTrusted("files", "anything"))
}

// -------------------- Outcome & ToolError --------------------

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "proceed", OutcomeProceed.String())
	assert.Equal(t, "proceed_always", OutcomeProceedAlways.String())
	assert.Equal(t, "modify_with_editor", OutcomeModifyWithEditor.String())
	assert.Equal(t, "cancel", OutcomeCancel.String())
}

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")
}

// -------------------- helpers --------------------

func resultText(r *Result) string {
	if r == nil {
		return ""
	}
	var out string
	for _, p := range r.Parts {
		if tp, ok := p.(core.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
