// Package scheduler drives tool calls through their confirmation/execution
// state machine. It admits one batch at a time, executes all scheduled calls
// of a batch concurrently and reports completion exactly once when every
// member has settled.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/telemetry"
	"github.com/hupe1980/agentloop/tool"
)

// Status is the closed set of tool call lifecycle states.
type Status int

const (
	// StatusValidating is the initial state while the tool is resolved and
	// the confirmation policy consulted.
	StatusValidating Status = iota
	// StatusScheduled means the call is approved and waiting for the batch
	// to become executable.
	StatusScheduled
	// StatusAwaitingApproval means the call is parked at the confirmation gate.
	StatusAwaitingApproval
	// StatusExecuting means the tool is running.
	StatusExecuting
	// StatusSuccess is terminal.
	StatusSuccess
	// StatusError is terminal.
	StatusError
	// StatusCancelled is terminal.
	StatusCancelled
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// String returns the event/audit label of the status.
func (s Status) String() string {
	switch s {
	case StatusValidating:
		return "validating"
	case StatusScheduled:
		return "scheduled"
	case StatusAwaitingApproval:
		return "awaiting_approval"
	case StatusExecuting:
		return "executing"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ToolCall is the scheduler's unit of work: a request plus its current state
// and state-specific payload. Fields are only mutated while holding the
// scheduler mutex.
type ToolCall struct {
	Request      core.ToolCallRequest
	Status       Status
	Tool         tool.Tool // nil when resolution failed
	Confirmation *tool.Confirmation
	Outcome      tool.Outcome
	Response     *core.ToolCallResponse
	LiveOutput   string
	startedAt    time.Time
	Duration     time.Duration
}

// ConcurrentScheduleError rejects a batch submitted while another batch is
// still executing or awaiting approval.
type ConcurrentScheduleError struct{}

func (e *ConcurrentScheduleError) Error() string {
	return "cannot schedule tool calls while a batch is executing or awaiting approval"
}

// Options configure a Scheduler.
type Options struct {
	// ApproveAll skips every confirmation gate (auto-approve policy).
	ApproveAll bool
	// Trust receives standing approvals recorded via OutcomeProceedAlways.
	Trust *tool.TrustPolicy
	// OnUpdate is invoked after any state transition with a snapshot of the
	// active batch.
	OnUpdate func(calls []ToolCall)
	// OnComplete is invoked exactly once per batch, after every member
	// reached a terminal state and the batch was drained.
	OnComplete func(calls []ToolCall)
	// Recorder receives one audit record per completed call.
	Recorder *telemetry.Recorder
	Logger   logging.Logger
}

// Scheduler tracks the active batch. The active set is mutated from multiple
// callback paths (confirmation resolution, execution completion); all
// mutation and the batch-completion check happen under one mutex.
type Scheduler struct {
	registry *tool.Registry
	opts     Options

	mu     sync.Mutex
	active []*ToolCall
}

// New constructs a Scheduler bound to a registry.
func New(registry *tool.Registry, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Trust:  tool.NewTrustPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Scheduler{registry: registry, opts: opts}
}

// Schedule admits a batch of tool call requests. It fails with
// *ConcurrentScheduleError when a previous batch is still executing or
// awaiting approval. Unknown tools settle immediately as errors without
// affecting their siblings.
func (s *Scheduler) Schedule(ctx context.Context, requests []core.ToolCallRequest) error {
	s.mu.Lock()
	for _, call := range s.active {
		if call.Status == StatusExecuting || call.Status == StatusAwaitingApproval {
			s.mu.Unlock()
			return &ConcurrentScheduleError{}
		}
	}

	batch := make([]*ToolCall, 0, len(requests))
	for _, req := range requests {
		call := &ToolCall{Request: req, Status: StatusValidating}
		if t, ok := s.registry.Get(req.Name); ok {
			call.Tool = t
		} else {
			s.settleLocked(call, StatusError, errorResponse(req, fmt.Sprintf("tool %q not found in registry", req.Name)))
		}
		batch = append(batch, call)
	}
	s.active = append(s.active, batch...)
	s.mu.Unlock()
	s.notifyUpdate()

	for _, call := range batch {
		s.gate(ctx, call)
	}

	s.maybeExecute(ctx)
	return nil
}

// gate moves one validating call through the confirmation gate.
func (s *Scheduler) gate(ctx context.Context, call *ToolCall) {
	s.mu.Lock()
	if call.Status != StatusValidating {
		s.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		s.settleLocked(call, StatusCancelled, cancelResponse(call.Request, "user cancelled the request before confirmation"))
		s.mu.Unlock()
		s.notifyUpdate()
		return
	}
	s.mu.Unlock()

	if s.opts.ApproveAll {
		s.transition(call, StatusScheduled)
		return
	}

	confirmation, err := call.Tool.ShouldConfirm(ctx, call.Request.Args)
	s.mu.Lock()
	switch {
	case err != nil:
		s.settleLocked(call, StatusError, errorResponse(call.Request, fmt.Sprintf("confirmation check failed: %v", err)))
	case confirmation == nil:
		call.Status = StatusScheduled
	default:
		call.Confirmation = confirmation
		call.Status = StatusAwaitingApproval
	}
	s.mu.Unlock()
	s.notifyUpdate()
}

// HandleConfirmationResponse resolves one awaiting call. The outcome is
// recorded for audit regardless of the branch taken. ModifyWithEditor keeps
// the call in awaiting_approval with updated args and diff; every proceed
// outcome schedules it; cancellation (explicit or via a fired token) settles
// it.
func (s *Scheduler) HandleConfirmationResponse(ctx context.Context, callID string, outcome tool.Outcome, edited string) error {
	s.mu.Lock()
	var call *ToolCall
	for _, c := range s.active {
		if c.Request.CallID == callID {
			call = c
			break
		}
	}
	if call == nil || call.Status != StatusAwaitingApproval {
		s.mu.Unlock()
		return fmt.Errorf("no tool call awaiting approval with id %q", callID)
	}

	call.Outcome = outcome

	switch {
	case outcome == tool.OutcomeCancel || ctx.Err() != nil:
		s.settleLocked(call, StatusCancelled, cancelResponse(call.Request, "user rejected the tool call at the confirmation gate"))
	case outcome == tool.OutcomeModifyWithEditor:
		if modifier, ok := call.Tool.(tool.ArgModifier); ok {
			args, diff := modifier.ModifyArgs(call.Request.Args, edited)
			call.Request.Args = args
			call.Confirmation.Diff = diff
		}
		// Re-prompt with updated content; the one state that re-enters itself.
		s.mu.Unlock()
		s.notifyUpdate()
		return nil
	default:
		if outcome == tool.OutcomeProceedAlways {
			serverName := ""
			if call.Confirmation != nil {
				serverName = call.Confirmation.ServerName
			}
			s.opts.Trust.Trust(serverName, call.Request.Name)
		}
		call.Status = StatusScheduled
	}
	s.mu.Unlock()
	s.notifyUpdate()

	s.maybeExecute(ctx)
	return nil
}

// CancelPending settles every call that has not started executing yet.
// Executing calls keep running and settle through their own completion path.
func (s *Scheduler) CancelPending(reason string) {
	s.mu.Lock()
	for _, call := range s.active {
		switch call.Status {
		case StatusValidating, StatusAwaitingApproval, StatusScheduled:
			s.settleLocked(call, StatusCancelled, cancelResponse(call.Request, reason))
		}
	}
	s.mu.Unlock()
	s.notifyUpdate()
	s.checkCompletion()
}

// maybeExecute launches every scheduled call concurrently once no call in
// the tracked set is still validating or awaiting approval.
func (s *Scheduler) maybeExecute(ctx context.Context) {
	s.mu.Lock()
	for _, call := range s.active {
		if call.Status == StatusValidating || call.Status == StatusAwaitingApproval {
			s.mu.Unlock()
			return
		}
	}
	var launch []*ToolCall
	for _, call := range s.active {
		if call.Status == StatusScheduled {
			call.Status = StatusExecuting
			call.startedAt = time.Now()
			launch = append(launch, call)
		}
	}
	s.mu.Unlock()

	if len(launch) == 0 {
		s.checkCompletion()
		return
	}
	s.notifyUpdate()

	for _, call := range launch {
		go s.run(ctx, call)
	}
}

// run executes one call. Cancellation observed during execution wins over
// both results and errors.
func (s *Scheduler) run(ctx context.Context, call *ToolCall) {
	var onOutput func(string)
	if call.Tool.CanUpdateOutput() {
		onOutput = func(chunk string) {
			s.mu.Lock()
			call.LiveOutput = chunk
			s.mu.Unlock()
			s.notifyUpdate()
		}
	}

	result, err := call.Tool.Execute(ctx, call.Request.Args, onOutput)

	s.mu.Lock()
	call.Duration = time.Since(call.startedAt)
	switch {
	case ctx.Err() != nil:
		s.settleLocked(call, StatusCancelled, cancelResponse(call.Request, "user cancelled the request during execution"))
	case err != nil:
		s.settleLocked(call, StatusError, errorResponse(call.Request, err.Error()))
	case result != nil && result.Error != "":
		s.settleLocked(call, StatusError, errorResponse(call.Request, result.Error))
	default:
		s.settleLocked(call, StatusSuccess, successResponse(call.Request, result))
	}
	s.mu.Unlock()
	s.notifyUpdate()

	s.checkCompletion()
}

// settleLocked records a terminal state. Caller holds s.mu.
func (s *Scheduler) settleLocked(call *ToolCall, status Status, response *core.ToolCallResponse) {
	call.Status = status
	call.Response = response
}

// checkCompletion drains the batch atomically once every member is terminal,
// emits one audit record per call and delivers the single batch-complete
// notification.
func (s *Scheduler) checkCompletion() {
	s.mu.Lock()
	if len(s.active) == 0 {
		s.mu.Unlock()
		return
	}
	for _, call := range s.active {
		if !call.Status.Terminal() {
			s.mu.Unlock()
			return
		}
	}
	batch := s.active
	s.active = nil
	s.mu.Unlock()

	snapshot := snapshotCalls(batch)
	for _, call := range snapshot {
		s.audit(call)
	}
	if s.opts.OnComplete != nil {
		s.opts.OnComplete(snapshot)
	}
}

func (s *Scheduler) audit(call ToolCall) {
	outcome := call.Outcome.String()
	if call.Outcome == tool.OutcomeNone {
		outcome = call.Status.String()
	}
	s.opts.Logger.Debug("tool call settled",
		"tool", call.Request.Name, "call_id", call.Request.CallID, "status", call.Status.String())
	if s.opts.Recorder != nil {
		s.opts.Recorder.Emit(telemetry.ToolCallRecord{
			Name:     call.Request.Name,
			Args:     call.Request.Args,
			Duration: call.Duration,
			Outcome:  outcome,
			Success:  call.Status == StatusSuccess,
		})
	}
}

func (s *Scheduler) notifyUpdate() {
	if s.opts.OnUpdate == nil {
		return
	}
	s.mu.Lock()
	snapshot := snapshotCalls(s.active)
	s.mu.Unlock()
	s.opts.OnUpdate(snapshot)
}

// transition applies a simple status change outside the gate/settle paths.
func (s *Scheduler) transition(call *ToolCall, status Status) {
	s.mu.Lock()
	call.Status = status
	s.mu.Unlock()
	s.notifyUpdate()
}

func snapshotCalls(calls []*ToolCall) []ToolCall {
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = *c
	}
	return out
}
