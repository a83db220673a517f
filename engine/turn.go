package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// Turn translates one raw model stream into normalized engine events and
// tracks the tool calls the model requested during the round-trip.
//
// Backends emit incremental chunks (Partial=true) followed by exactly one
// final chunk carrying the complete turn content; the Turn emits text and
// thought events from partials and derives tool call requests and the final
// content from the terminal chunk.
type Turn struct {
	backend   model.Model
	logger    logging.Logger
	pending   []core.ToolCallRequest
	final     core.Content
	streamed  bool
	cancelled bool
}

// NewTurn constructs a Turn bound to a backend.
func NewTurn(backend model.Model, logger logging.Logger) *Turn {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Turn{backend: backend, logger: logger}
}

// Run consumes one model stream, forwarding normalized events to emit. The
// returned error is nil on normal or cancelled completion; authorization
// failures propagate as-is so the caller can abort, any other stream error
// is surfaced as an ErrorEvent and also returned for retry classification.
// Cancellation observed mid-stream emits exactly one UserCancelled event and
// stops consuming: chunks already received but not yet processed are
// discarded, never yielded.
func (t *Turn) Run(ctx context.Context, req model.Request, emit func(core.Event)) error {
	respCh, errCh := t.backend.GenerateContentStream(ctx, req)

	for {
		// Cancellation is checked before processing each raw chunk.
		select {
		case <-ctx.Done():
			t.cancel(emit)
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			t.cancel(emit)
			return nil
		case resp, ok := <-respCh:
			if !ok {
				return t.finish(ctx, errCh, emit)
			}
			t.process(resp, emit)
		case err, ok := <-errCh:
			if !ok || err == nil {
				continue
			}
			return t.fail(ctx, err, emit)
		}
	}
}

// finish drains the error channel after the response stream closed.
func (t *Turn) finish(ctx context.Context, errCh <-chan error, emit func(core.Event)) error {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return t.fail(ctx, err, emit)
		}
	default:
	}
	return nil
}

// fail normalizes a stream error. Cancellation takes precedence over error
// surfacing; auth failures propagate untouched.
func (t *Turn) fail(ctx context.Context, err error, emit func(core.Event)) error {
	if ctx.Err() != nil {
		t.cancel(emit)
		return nil
	}
	if core.IsAuthError(err) {
		return err
	}
	emit(core.ErrorEvent{Err: core.NewStructuredError(err)})
	return err
}

func (t *Turn) cancel(emit func(core.Event)) {
	if t.cancelled {
		return
	}
	t.cancelled = true
	emit(core.UserCancelledEvent{})
}

func (t *Turn) process(resp model.Response, emit func(core.Event)) {
	if resp.Partial {
		for _, p := range resp.Content.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" {
					t.streamed = true
					emit(core.ContentEvent{Text: part.Text})
				}
			case core.ThoughtPart:
				subject, description := parseThought(part.Text)
				emit(core.ThoughtEvent{Subject: subject, Description: description})
			}
		}
		return
	}

	t.final = resp.Content
	for _, p := range resp.Content.Parts {
		switch part := p.(type) {
		case core.TextPart:
			// Backends that streamed deltas repeat the full text in the
			// final chunk; emit it only when nothing was streamed.
			if part.Text != "" && !t.streamed {
				emit(core.ContentEvent{Text: part.Text})
			}
		case core.ThoughtPart:
			if !t.streamed {
				subject, description := parseThought(part.Text)
				emit(core.ThoughtEvent{Subject: subject, Description: description})
			}
		case core.FunctionCallPart:
			req := t.toRequest(part.FunctionCall)
			t.pending = append(t.pending, req)
			emit(core.ToolCallRequestEvent{Request: req})
		}
	}
}

// toRequest builds a ToolCallRequest, generating a callId when the backend
// did not supply one.
func (t *Turn) toRequest(fc core.FunctionCall) core.ToolCallRequest {
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("%s-%d-%s", fc.Name, time.Now().UnixMilli(), core.NewID()[:8])
	}
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	return core.ToolCallRequest{CallID: id, Name: fc.Name, Args: args}
}

// Pending returns the tool call requests collected during the stream, read
// by the caller after the stream completes.
func (t *Turn) Pending() []core.ToolCallRequest { return t.pending }

// FinalContent returns the complete model content of the turn.
func (t *Turn) FinalContent() core.Content { return t.final }

// Cancelled reports whether the turn observed cancellation.
func (t *Turn) Cancelled() bool { return t.cancelled }

// parseThought splits a raw thought on the first markdown-bold span: the
// bolded capture is the subject, the remainder (span removed) the
// description. Without a bold span the subject is empty and the full text
// becomes the description.
func parseThought(text string) (subject, description string) {
	start := strings.Index(text, "**")
	if start >= 0 {
		rest := text[start+2:]
		if end := strings.Index(rest, "**"); end >= 0 {
			subject = strings.TrimSpace(rest[:end])
			description = strings.TrimSpace(text[:start] + rest[end+2:])
			return subject, description
		}
	}
	return "", strings.TrimSpace(text)
}
