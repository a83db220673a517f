// Package telemetry emits fire-and-forget audit records through a bounded
// background queue with explicit flush-on-shutdown, guaranteeing no event
// loss on normal termination without ever blocking the engine.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentloop/logging"
)

// ToolCallRecord describes one completed tool call.
type ToolCallRecord struct {
	Name     string         `json:"name"`
	Args     map[string]any `json:"args,omitempty"`
	Duration time.Duration  `json:"duration"`
	Outcome  string         `json:"outcome"` // confirmation outcome or terminal status
	Success  bool           `json:"success"`
}

// ModelCallRecord describes one model request/response/error.
type ModelCallRecord struct {
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
	Tokens   int           `json:"tokens,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Sink consumes records. Implementations must be safe for use from a single
// background goroutine.
type Sink interface {
	Write(record any)
}

// LogSink writes records to a structured logger.
type LogSink struct {
	Logger logging.Logger
}

// Write implements Sink.
func (s *LogSink) Write(record any) {
	switch rec := record.(type) {
	case ToolCallRecord:
		s.Logger.Info("tool call completed",
			"tool", rec.Name, "duration_ms", rec.Duration.Milliseconds(),
			"outcome", rec.Outcome, "success", rec.Success)
	case ModelCallRecord:
		if rec.Error != "" {
			s.Logger.Error("model call failed", "model", rec.Model, "duration_ms", rec.Duration.Milliseconds(), "error", rec.Error)
			return
		}
		s.Logger.Info("model call completed", "model", rec.Model, "duration_ms", rec.Duration.Milliseconds(), "tokens", rec.Tokens)
	default:
		s.Logger.Info("telemetry record", "record", record)
	}
}

// Recorder buffers records and forwards them to a Sink from a background
// goroutine. Emit never blocks: when the buffer is full the record is dropped
// and counted.
type Recorder struct {
	ch      chan any
	sink    Sink
	dropped int
	mu      sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewRecorder starts a Recorder with the given buffer size (minimum 1).
func NewRecorder(sink Sink, buffer int) *Recorder {
	if buffer < 1 {
		buffer = 1
	}
	r := &Recorder{
		ch:   make(chan any, buffer),
		sink: sink,
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	for record := range r.ch {
		r.sink.Write(record)
	}
}

// Emit enqueues a record without blocking.
func (r *Recorder) Emit(record any) {
	select {
	case r.ch <- record:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// Dropped returns the number of records discarded due to a full buffer.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close drains the queue and stops the background goroutine. It is safe to
// call multiple times; ctx bounds the wait.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.ch) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
