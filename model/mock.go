package model

import (
	"context"
	"sync"

	"github.com/hupe1980/agentloop/core"
)

// MockTurn scripts one Generate invocation of a MockModel: the chunks to
// stream followed by an optional terminal error.
type MockTurn struct {
	Chunks []Response
	Err    error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Turns are consumed in FIFO order; when the script is exhausted a canned
// text response is produced.
type MockModel struct {
	mu     sync.Mutex
	info   Info
	turns  []MockTurn
	tokens int
	calls  []Request
}

// NewMockModel constructs a MockModel with a default token limit suitable for
// compression tests.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:   Info{Name: name, Provider: provider, TokenLimit: 32768},
		tokens: -1,
	}
}

// AddTurn appends a scripted turn.
func (m *MockModel) AddTurn(turn MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
}

// AddTextTurn appends a turn producing a single final text response.
func (m *MockModel) AddTextTurn(text string) {
	m.AddTurn(MockTurn{Chunks: []Response{{
		Content:      core.Content{Role: core.RoleModel, Parts: []core.Part{core.TextPart{Text: text}}},
		FinishReason: "stop",
	}}})
}

// AddFunctionCallTurn appends a turn requesting a single tool invocation.
func (m *MockModel) AddFunctionCallTurn(id, name string, args map[string]any) {
	m.AddTurn(MockTurn{Chunks: []Response{{
		Content: core.Content{Role: core.RoleModel, Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Args: args}},
		}},
		FinishReason: "tool_calls",
	}}})
}

// SetTokenCount fixes the value returned by CountTokens. A negative value
// makes CountTokens report ErrUnsupported.
func (m *MockModel) SetTokenCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = n
}

// SetTokenLimit overrides the advertised model token limit.
func (m *MockModel) SetTokenLimit(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.TokenLimit = n
}

// Requests returns all requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockModel) nextTurn(req Request) MockTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.turns) == 0 {
		return MockTurn{Chunks: []Response{{
			Content:      core.NewModelContent("Mock response."),
			FinishReason: "stop",
		}}}
	}
	turn := m.turns[0]
	m.turns = m.turns[1:]
	return turn
}

// GenerateContent implements Model.
func (m *MockModel) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	turn := m.nextTurn(req)
	if turn.Err != nil {
		return nil, turn.Err
	}
	// Collapse chunks into the final response.
	final := turn.Chunks[len(turn.Chunks)-1]
	return &final, ctx.Err()
}

// GenerateContentStream implements Model; emits scripted chunks then closes.
func (m *MockModel) GenerateContentStream(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	turn := m.nextTurn(req)

	go func() {
		defer close(respCh)
		defer close(errCh)
		for _, chunk := range turn.Chunks {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- chunk:
			}
		}
		if turn.Err != nil {
			errCh <- turn.Err
		}
	}()

	return respCh, errCh
}

// CountTokens implements Model.
func (m *MockModel) CountTokens(_ context.Context, _ Request) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens < 0 {
		return 0, ErrUnsupported
	}
	return m.tokens, nil
}

// EmbedContent implements Model with deterministic zero vectors.
func (m *MockModel) EmbedContent(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

// Info implements Model.
func (m *MockModel) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}
