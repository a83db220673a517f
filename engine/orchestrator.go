package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/agentloop/chat"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/retry"
	"github.com/hupe1980/agentloop/scheduler"
	"github.com/hupe1980/agentloop/telemetry"
	"github.com/hupe1980/agentloop/tool"
)

// DefaultMaxTurns bounds the number of model invocations a single
// SendMessageStream call may perform. Reaching the bound stops the loop
// silently.
const DefaultMaxTurns = 100

const continuePrompt = "Please continue."

// Options configure an Orchestrator.
type Options struct {
	// SystemInstruction travels on every model request.
	SystemInstruction string
	// MaxTurns caps model invocations per SendMessageStream call. Values
	// outside (0, DefaultMaxTurns] are clamped to DefaultMaxTurns.
	MaxTurns int
	// CompressionThreshold is the fraction of the model token limit at which
	// history compression kicks in. Defaults to 0.7.
	CompressionThreshold float64
	// ApproveAll skips every tool confirmation gate.
	ApproveAll bool
	// Trust holds standing tool approvals shared with the scheduler.
	Trust    *tool.TrustPolicy
	Retry    *retry.Policy
	Recorder *telemetry.Recorder
	Logger   logging.Logger
}

// Orchestrator drives the conversational loop for one session: it invokes the
// model through the retry policy, schedules requested tool calls, feeds their
// responses back as a synthetic continuation and decides via next-speaker
// inference whether the model still owes output.
//
// One SendMessageStream call may be active at a time per Orchestrator.
type Orchestrator struct {
	backend  model.Model
	session  *chat.Session
	registry *tool.Registry
	sched    *scheduler.Scheduler
	opts     Options

	completeCh chan []scheduler.ToolCall

	mu         sync.Mutex
	modelName  string
	emit       func(core.Event)
	lastStatus map[string]scheduler.Status
}

// New constructs an Orchestrator. The registry may be nil for tool-less
// conversations.
func New(backend model.Model, session *chat.Session, registry *tool.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxTurns:             DefaultMaxTurns,
		CompressionThreshold: 0.7,
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxTurns <= 0 || opts.MaxTurns > DefaultMaxTurns {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.Retry == nil {
		opts.Retry = retry.New(func(o *retry.Options) {
			o.Auth = backend.Info().Auth
			o.Logger = opts.Logger
		})
	}
	if opts.Trust == nil {
		opts.Trust = tool.NewTrustPolicy()
	}

	o := &Orchestrator{
		backend:    backend,
		session:    session,
		registry:   registry,
		opts:       opts,
		modelName:  backend.Info().Name,
		completeCh: make(chan []scheduler.ToolCall, 1),
		lastStatus: make(map[string]scheduler.Status),
	}
	if registry != nil {
		o.sched = scheduler.New(registry, func(so *scheduler.Options) {
			so.ApproveAll = opts.ApproveAll
			so.Trust = opts.Trust
			so.Recorder = opts.Recorder
			so.Logger = opts.Logger
			so.OnUpdate = o.emitStatuses
			so.OnComplete = func(calls []scheduler.ToolCall) { o.completeCh <- calls }
		})
	}
	return o
}

// Model returns the identifier of the model currently in use. It changes when
// the retry policy engages fallback.
func (o *Orchestrator) Model() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.modelName
}

// Session returns the conversation session.
func (o *Orchestrator) Session() *chat.Session { return o.session }

// HandleConfirmationResponse resolves a tool call parked at the confirmation
// gate.
func (o *Orchestrator) HandleConfirmationResponse(ctx context.Context, callID string, outcome tool.Outcome, edited string) error {
	if o.sched == nil {
		return errors.New("engine: no tool scheduler configured")
	}
	return o.sched.HandleConfirmationResponse(ctx, callID, outcome, edited)
}

// SendMessageStream runs the conversational loop for one user input and
// streams normalized events. The returned channel is closed when the loop
// terminates; it fails when another stream is already active.
func (o *Orchestrator) SendMessageStream(ctx context.Context, input core.Content) (<-chan core.Event, error) {
	events := make(chan core.Event, 64)

	o.mu.Lock()
	if o.emit != nil {
		o.mu.Unlock()
		return nil, errors.New("engine: a message stream is already active for this session")
	}
	o.emit = func(ev core.Event) { events <- ev }
	o.mu.Unlock()

	go o.loop(ctx, input, events)
	return events, nil
}

func (o *Orchestrator) loop(ctx context.Context, input core.Content, events chan<- core.Event) {
	defer func() {
		o.mu.Lock()
		o.emit = nil
		o.mu.Unlock()
		close(events)
	}()

	pendingInput := &input

	for remaining := o.opts.MaxTurns; remaining > 0; remaining-- {
		// Compression is checked before the fresh input joins the history so
		// the snapshot covers only what the model has already seen.
		if info := o.tryCompress(ctx, false); info != nil {
			o.send(core.ChatCompressedEvent{Info: *info})
		}
		if pendingInput != nil {
			o.session.Append(*pendingInput)
			pendingInput = nil
		}

		turn, err := o.runTurn(ctx)
		o.session.Append(o.modelContent(turn))
		if err != nil {
			// Non-auth errors were already surfaced as events per attempt.
			if core.IsAuthError(err) {
				o.send(core.ErrorEvent{Err: core.NewStructuredError(err)})
			}
			return
		}
		if turn.Cancelled() {
			return
		}

		pending := turn.Pending()
		if len(pending) > 0 {
			continuation, ok := o.runTools(ctx, pending)
			if continuation != nil {
				o.session.Append(*continuation)
			}
			if !ok {
				return
			}
			continue
		}

		if ctx.Err() != nil {
			return
		}
		if o.nextSpeaker(ctx) != core.RoleModel {
			return
		}
		o.session.Append(core.NewUserContent(continuePrompt))
	}
}

// runTurn performs one model round-trip through the retry policy. The policy
// may switch the model identifier via fallback; the switch is sticky for the
// session.
func (o *Orchestrator) runTurn(ctx context.Context) (*Turn, error) {
	turn := NewTurn(o.backend, o.opts.Logger)
	start := time.Now()

	err := o.opts.Retry.Do(ctx, o.Model(), func(ctx context.Context, modelName string) error {
		o.setModel(modelName)
		turn = NewTurn(o.backend, o.opts.Logger)
		req := o.buildRequest(modelName)
		return turn.Run(ctx, req, o.send)
	})

	o.record(telemetry.ModelCallRecord{
		Model:    o.Model(),
		Duration: time.Since(start),
		Error:    errString(err),
	})
	return turn, err
}

// runTools schedules the pending calls, waits for the batch to settle and
// builds the synthetic continuation carrying the responses. ok is false when
// the loop must stop (cancellation or scheduling failure).
func (o *Orchestrator) runTools(ctx context.Context, pending []core.ToolCallRequest) (*core.Content, bool) {
	if o.sched == nil {
		o.send(core.ErrorEvent{Err: &core.StructuredError{Message: "model requested tool calls but no registry is configured"}})
		return nil, false
	}
	if err := o.sched.Schedule(ctx, pending); err != nil {
		o.send(core.ErrorEvent{Err: core.NewStructuredError(err)})
		return nil, false
	}

	var calls []scheduler.ToolCall
	cancelled := false
	select {
	case calls = <-o.completeCh:
	case <-ctx.Done():
		cancelled = true
		o.send(core.UserCancelledEvent{})
		// Settle everything not yet running so the batch can drain; executing
		// calls observe ctx themselves.
		o.sched.CancelPending("user cancelled the request")
		calls = <-o.completeCh
	}

	continuation := core.Content{Role: core.RoleUser}
	for _, call := range calls {
		if call.Response != nil {
			continuation.Parts = append(continuation.Parts, call.Response.Parts...)
		}
	}
	if len(continuation.Parts) == 0 {
		return nil, !cancelled
	}
	return &continuation, !cancelled
}

func (o *Orchestrator) buildRequest(modelName string) model.Request {
	req := model.Request{
		Model:             modelName,
		SystemInstruction: o.opts.SystemInstruction,
		Contents:          o.session.History(true),
	}
	if o.registry != nil {
		req.Tools = o.registry.Declarations()
	}
	return req
}

// modelContent normalizes the turn output for history: even an empty model
// response is recorded so the comprehensive view stays faithful, the curated
// view filters it later.
func (o *Orchestrator) modelContent(turn *Turn) core.Content {
	c := turn.FinalContent()
	c.Role = core.RoleModel
	return c
}

// emitStatuses forwards scheduler state transitions as status events,
// deduplicated per call.
func (o *Orchestrator) emitStatuses(calls []scheduler.ToolCall) {
	o.mu.Lock()
	emit := o.emit
	var changed []scheduler.ToolCall
	for _, call := range calls {
		if last, ok := o.lastStatus[call.Request.CallID]; !ok || last != call.Status {
			o.lastStatus[call.Request.CallID] = call.Status
			changed = append(changed, call)
		}
	}
	o.mu.Unlock()

	if emit == nil {
		return
	}
	for _, call := range changed {
		emit(core.ToolCallStatusEvent{
			CallID: call.Request.CallID,
			Name:   call.Request.Name,
			Status: call.Status.String(),
		})
	}
}

func (o *Orchestrator) send(ev core.Event) {
	o.mu.Lock()
	emit := o.emit
	o.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func (o *Orchestrator) setModel(name string) {
	o.mu.Lock()
	o.modelName = name
	o.mu.Unlock()
}

func (o *Orchestrator) record(rec any) {
	if o.opts.Recorder != nil {
		o.opts.Recorder.Emit(rec)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
