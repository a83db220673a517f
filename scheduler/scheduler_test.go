package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/tool"
)

// -------------------- Test Helpers --------------------

func echoTool(name string) *tool.FunctionTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
	}
	return tool.NewFunctionTool(name, "Echoes its input", params,
		func(_ context.Context, args map[string]any, _ func(string)) (*tool.Result, error) {
			text, _ := args["text"].(string)
			return tool.TextResult(text), nil
		})
}

func gatedTool(name string) *tool.FunctionTool {
	return tool.NewFunctionTool(name, "Requires approval", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, _ func(string)) (*tool.Result, error) {
			return tool.TextResult("done"), nil
		},
		tool.WithConfirm(func(_ context.Context, _ map[string]any) (*tool.Confirmation, error) {
			return &tool.Confirmation{Title: "Approve " + name}, nil
		}))
}

// modifiableTool records the args it ran with and supports edit-before-execute.
type modifiableTool struct {
	*tool.FunctionTool
	mu      sync.Mutex
	ranWith map[string]any
}

func newModifiableTool(name string) *modifiableTool {
	mt := &modifiableTool{}
	mt.FunctionTool = tool.NewFunctionTool(name, "Editable", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, args map[string]any, _ func(string)) (*tool.Result, error) {
			mt.mu.Lock()
			mt.ranWith = args
			mt.mu.Unlock()
			return tool.TextResult("ok"), nil
		},
		tool.WithConfirm(func(_ context.Context, _ map[string]any) (*tool.Confirmation, error) {
			return &tool.Confirmation{Title: "Edit?"}, nil
		}))
	return mt
}

func (m *modifiableTool) ModifyArgs(args map[string]any, edited string) (map[string]any, string) {
	out := map[string]any{}
	for k, v := range args {
		out[k] = v
	}
	out["content"] = edited
	return out, "updated diff"
}

func newTestScheduler(reg *tool.Registry, optFns ...func(o *Options)) (*Scheduler, chan []ToolCall) {
	done := make(chan []ToolCall, 1)
	all := append([]func(o *Options){func(o *Options) {
		o.OnComplete = func(calls []ToolCall) { done <- calls }
	}}, optFns...)
	return New(reg, all...), done
}

func waitComplete(t *testing.T, done chan []ToolCall) []ToolCall {
	t.Helper()
	select {
	case calls := <-done:
		return calls
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not complete in time")
		return nil
	}
}

func req(id, name string, args map[string]any) core.ToolCallRequest {
	return core.ToolCallRequest{CallID: id, Name: name, Args: args}
}

// -------------------- Lifecycle Tests --------------------

func TestScheduler_SuccessCollapsesSingleText(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(echoTool("echo"))
	s, done := newTestScheduler(reg)

	err := s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "echo", map[string]any{"text": "hello"})})
	require.NoError(t, err)

	calls := waitComplete(t, done)
	require.Len(t, calls, 1)
	assert.Equal(t, StatusSuccess, calls[0].Status)
	assert.Equal(t, "hello", ResponseText(calls[0].Response))
	// The function response echoes the originating call id and name.
	fr := calls[0].Response.Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.Equal(t, "c1", fr.ID)
	assert.Equal(t, "echo", fr.Name)
}

func TestScheduler_UnknownToolSettlesWithoutAffectingSiblings(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(echoTool("echo"))
	s, done := newTestScheduler(reg)

	err := s.Schedule(context.Background(), []core.ToolCallRequest{
		req("c1", "missing", nil),
		req("c2", "echo", map[string]any{"text": "still runs"}),
	})
	require.NoError(t, err)

	calls := waitComplete(t, done)
	require.Len(t, calls, 2)
	assert.Equal(t, StatusError, calls[0].Status)
	assert.NotNil(t, calls[0].Response.Err)
	assert.Equal(t, StatusSuccess, calls[1].Status)
	assert.Equal(t, "still runs", ResponseText(calls[1].Response))
}

func TestScheduler_ToolFailureBecomesErrorResponse(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(tool.NewFunctionTool("boom", "Always fails", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, _ func(string)) (*tool.Result, error) {
			return nil, errors.New("kaput")
		}))
	s, done := newTestScheduler(reg)

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "boom", nil)}))

	calls := waitComplete(t, done)
	require.Len(t, calls, 1)
	assert.Equal(t, StatusError, calls[0].Status)
	fr := calls[0].Response.Parts[0].(core.FunctionResponsePart).FunctionResponse
	assert.Contains(t, fr.Response["error"], "kaput")
}

func TestScheduler_RejectsConcurrentBatch(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(gatedTool("gated"))
	s, _ := newTestScheduler(reg)

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "gated", nil)}))

	err := s.Schedule(context.Background(), []core.ToolCallRequest{req("c2", "gated", nil)})
	var concErr *ConcurrentScheduleError
	assert.ErrorAs(t, err, &concErr)
}

// -------------------- Confirmation Gate Tests --------------------

func TestScheduler_NoExecutionWhileSiblingAwaitsApproval(t *testing.T) {
	var echoRan atomic.Bool
	reg := tool.NewRegistry()
	reg.Register(tool.NewFunctionTool("free", "No gate", map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any, _ func(string)) (*tool.Result, error) {
			echoRan.Store(true)
			return tool.TextResult("ran"), nil
		}))
	reg.Register(gatedTool("gated"))
	s, done := newTestScheduler(reg)

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{
		req("c1", "free", nil),
		req("c2", "gated", nil),
	}))

	// The ungated sibling must hold until the gate resolves.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, echoRan.Load())

	require.NoError(t, s.HandleConfirmationResponse(context.Background(), "c2", tool.OutcomeProceed, ""))
	calls := waitComplete(t, done)
	require.Len(t, calls, 2)
	assert.True(t, echoRan.Load())
	assert.Equal(t, StatusSuccess, calls[0].Status)
	assert.Equal(t, StatusSuccess, calls[1].Status)
}

func TestScheduler_RejectionSettlesAsCancelled(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(gatedTool("gated"))
	s, done := newTestScheduler(reg)

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "gated", nil)}))
	require.NoError(t, s.HandleConfirmationResponse(context.Background(), "c1", tool.OutcomeCancel, ""))

	calls := waitComplete(t, done)
	require.Len(t, calls, 1)
	assert.Equal(t, StatusCancelled, calls[0].Status)
	assert.Equal(t, tool.OutcomeCancel, calls[0].Outcome)
	assert.Contains(t, ResponseText(calls[0].Response), "cancelled")
}

func TestScheduler_ProceedAlwaysRecordsTrust(t *testing.T) {
	trust := tool.NewTrustPolicy()
	reg := tool.NewRegistry()
	reg.Register(gatedTool("gated"))
	s, done := newTestScheduler(reg, func(o *Options) { o.Trust = trust })

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "gated", nil)}))
	require.NoError(t, s.HandleConfirmationResponse(context.Background(), "c1", tool.OutcomeProceedAlways, ""))

	calls := waitComplete(t, done)
	assert.Equal(t, StatusSuccess, calls[0].Status)
	assert.True(t, trust.IsTrusted("", "gated"))
}

func TestScheduler_ModifyWithEditorReentersGate(t *testing.T) {
	mt := newModifiableTool("edit")
	reg := tool.NewRegistry()
	reg.Register(mt)
	s, done := newTestScheduler(reg)

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "edit", map[string]any{"path": "a.txt"})}))

	// Modify keeps the call awaiting approval with rewritten args.
	require.NoError(t, s.HandleConfirmationResponse(context.Background(), "c1", tool.OutcomeModifyWithEditor, "new content"))
	err := s.Schedule(context.Background(), []core.ToolCallRequest{req("c9", "edit", nil)})
	var concErr *ConcurrentScheduleError
	require.ErrorAs(t, err, &concErr)

	require.NoError(t, s.HandleConfirmationResponse(context.Background(), "c1", tool.OutcomeProceed, ""))
	calls := waitComplete(t, done)
	assert.Equal(t, StatusSuccess, calls[0].Status)

	mt.mu.Lock()
	defer mt.mu.Unlock()
	assert.Equal(t, "new content", mt.ranWith["content"])
	assert.Equal(t, "a.txt", mt.ranWith["path"])
}

func TestScheduler_HandleConfirmationUnknownCall(t *testing.T) {
	reg := tool.NewRegistry()
	s, _ := newTestScheduler(reg)
	err := s.HandleConfirmationResponse(context.Background(), "nope", tool.OutcomeProceed, "")
	assert.Error(t, err)
}

// -------------------- Cancellation Tests --------------------

func TestScheduler_PreCancelledContextCancelsEverything(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(echoTool("echo"))
	reg.Register(gatedTool("gated"))
	s, done := newTestScheduler(reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Schedule(ctx, []core.ToolCallRequest{
		req("c1", "echo", map[string]any{"text": "x"}),
		req("c2", "gated", nil),
	}))

	calls := waitComplete(t, done)
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, StatusCancelled, call.Status)
		assert.Contains(t, ResponseText(call.Response), "cancelled")
	}
}

func TestScheduler_CancellationBeatsExecutionError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reg := tool.NewRegistry()
	reg.Register(tool.NewFunctionTool("flaky", "Cancels then throws", map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, _ map[string]any, _ func(string)) (*tool.Result, error) {
			cancel()
			<-ctx.Done()
			return nil, errors.New("exploded after cancel")
		}))
	s, done := newTestScheduler(reg)

	require.NoError(t, s.Schedule(ctx, []core.ToolCallRequest{req("c1", "flaky", nil)}))

	calls := waitComplete(t, done)
	require.Len(t, calls, 1)
	assert.Equal(t, StatusCancelled, calls[0].Status)
	assert.Nil(t, calls[0].Response.Err)
}

func TestScheduler_CancelPendingSettlesAwaitingCalls(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(gatedTool("gated"))
	s, done := newTestScheduler(reg)

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "gated", nil)}))
	s.CancelPending("user cancelled the request")

	calls := waitComplete(t, done)
	assert.Equal(t, StatusCancelled, calls[0].Status)
}

// -------------------- Completion Semantics --------------------

func TestScheduler_CompletionFiresExactlyOnce(t *testing.T) {
	var completions atomic.Int32
	reg := tool.NewRegistry()
	reg.Register(echoTool("echo"))

	done := make(chan struct{})
	s := New(reg, func(o *Options) {
		o.OnComplete = func([]ToolCall) {
			completions.Add(1)
			close(done)
		}
	})

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{
		req("c1", "echo", map[string]any{"text": "a"}),
		req("c2", "echo", map[string]any{"text": "b"}),
		req("c3", "echo", map[string]any{"text": "c"}),
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not complete")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), completions.Load())
}

func TestScheduler_ApproveAllSkipsGate(t *testing.T) {
	reg := tool.NewRegistry()
	reg.Register(gatedTool("gated"))
	s, done := newTestScheduler(reg, func(o *Options) { o.ApproveAll = true })

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "gated", nil)}))
	calls := waitComplete(t, done)
	assert.Equal(t, StatusSuccess, calls[0].Status)
	assert.Equal(t, tool.OutcomeNone, calls[0].Outcome)
}

func TestScheduler_StatusUpdatesObserved(t *testing.T) {
	var mu sync.Mutex
	seen := map[Status]bool{}

	reg := tool.NewRegistry()
	reg.Register(echoTool("echo"))
	s, done := newTestScheduler(reg, func(o *Options) {
		o.OnUpdate = func(calls []ToolCall) {
			mu.Lock()
			for _, c := range calls {
				seen[c.Status] = true
			}
			mu.Unlock()
		}
	})

	require.NoError(t, s.Schedule(context.Background(), []core.ToolCallRequest{req("c1", "echo", map[string]any{"text": "x"})}))
	waitComplete(t, done)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen[StatusExecuting])
	assert.True(t, seen[StatusSuccess])
}
