package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	records []any
}

func (s *captureSink) Write(record any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestRecorder_DeliversRecordsInOrder(t *testing.T) {
	sink := &captureSink{}
	r := NewRecorder(sink, 16)

	r.Emit(ToolCallRecord{Name: "one", Success: true})
	r.Emit(ModelCallRecord{Model: "m", Tokens: 12})

	require.NoError(t, r.Close(context.Background()))
	require.Equal(t, 2, sink.count())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "one", sink.records[0].(ToolCallRecord).Name)
	assert.Equal(t, 12, sink.records[1].(ModelCallRecord).Tokens)
}

func TestRecorder_CloseFlushesQueue(t *testing.T) {
	sink := &captureSink{}
	r := NewRecorder(sink, 64)
	for i := 0; i < 50; i++ {
		r.Emit(ToolCallRecord{Name: "t"})
	}
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 50, sink.count())
	assert.Zero(t, r.Dropped())
}

func TestRecorder_CloseIsIdempotent(t *testing.T) {
	r := NewRecorder(&captureSink{}, 1)
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))
}

// slowSink blocks until released so the queue can be saturated.
type slowSink struct{ release chan struct{} }

func (s *slowSink) Write(any) { <-s.release }

func TestRecorder_EmitNeverBlocksWhenFull(t *testing.T) {
	sink := &slowSink{release: make(chan struct{})}
	r := NewRecorder(sink, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			r.Emit(ToolCallRecord{Name: "burst"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	assert.Greater(t, r.Dropped(), 0)

	close(sink.release)
	_ = r.Close(context.Background())
}
