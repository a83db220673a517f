// Package agentloop provides a high-level façade over the conversation engine
// enabling rapid construction of tool-using model applications. Most programs
// interact with this package by:
//  1. Creating a Loop via New() with a model backend (optionally a tool registry)
//  2. Sending user input asynchronously (SendMessageStream) or synchronously (SendMessage)
//
// The façade delegates orchestration to engine.Orchestrator while keeping setup
// and usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a retry policy tuned to
// their quota, a telemetry recorder and a structured logger.
package agentloop

import (
	"context"
	"strings"

	"github.com/hupe1980/agentloop/chat"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/engine"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/retry"
	"github.com/hupe1980/agentloop/telemetry"
	"github.com/hupe1980/agentloop/tool"
)

// Options configures the Loop instance.
type Options struct {
	// SystemInstruction travels on every model request.
	SystemInstruction string

	// Registry supplies the invocable tools. Nil disables tool calling.
	Registry *tool.Registry

	// MaxTurns caps model invocations per message. Zero keeps the engine
	// default.
	MaxTurns int

	// ApproveAll skips every tool confirmation gate. Intended for trusted
	// registries and tests.
	ApproveAll bool

	// Retry overrides the default retry policy (defaults derive from the
	// backend's auth mode).
	Retry *retry.Policy

	// Recorder receives model and tool call telemetry (defaults to none)
	Recorder *telemetry.Recorder

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Loop is the high-level façade aggregating the orchestrator and its session.
type Loop struct {
	orchestrator *engine.Orchestrator
}

// New creates a new Loop around the given backend with a fresh in-memory
// session. Any unset option keeps the engine default.
func New(backend model.Model, optFns ...func(o *Options)) *Loop {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	orchestrator := engine.New(backend, chat.NewSession(), opts.Registry, func(o *engine.Options) {
		o.SystemInstruction = opts.SystemInstruction
		o.MaxTurns = opts.MaxTurns
		o.ApproveAll = opts.ApproveAll
		o.Retry = opts.Retry
		o.Recorder = opts.Recorder
		o.Logger = opts.Logger
	})

	return &Loop{orchestrator: orchestrator}
}

// Orchestrator exposes the underlying engine for advanced use such as
// confirmation handling or direct session access.
func (l *Loop) Orchestrator() *engine.Orchestrator { return l.orchestrator }

// Session returns the conversation session backing the loop.
func (l *Loop) Session() *chat.Session { return l.orchestrator.Session() }

// SendMessageStream sends one user message and returns the event stream. The
// channel is closed when the conversational loop terminates.
func (l *Loop) SendMessageStream(ctx context.Context, text string) (<-chan core.Event, error) {
	return l.orchestrator.SendMessageStream(ctx, core.NewUserContent(text))
}

// SendMessage is a synchronous helper that drains the event stream,
// accumulates the model text and returns it. A terminal error event is
// returned as the error.
func (l *Loop) SendMessage(ctx context.Context, text string) (string, error) {
	events, err := l.SendMessageStream(ctx, text)
	if err != nil {
		return "", err
	}

	var sb strings.Builder

	var terminal error

	for ev := range events {
		switch e := ev.(type) {
		case core.ContentEvent:
			sb.WriteString(e.Text)
		case core.ErrorEvent:
			terminal = e.Err
		}
	}

	return sb.String(), terminal
}
