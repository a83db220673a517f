package model

import (
	"context"
	"errors"

	"github.com/hupe1980/agentloop/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by the engine.
type Request struct {
	Model             string           `json:"model,omitempty"` // Overrides the backend default (used by fallback)
	SystemInstruction string           `json:"system_instruction,omitempty"`
	Contents          []core.Content   `json:"contents"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	// ResponseJSONSchema, when set, constrains output to a JSON document
	// matching the schema. Used for structured extraction and next-speaker
	// inference.
	ResponseJSONSchema map[string]any `json:"response_json_schema,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model backend.
type Response struct {
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// AuthKind categorizes the credential class a backend was constructed with.
// Model fallback on persistent rate limits is only offered for OAuth-class
// credentials, never for raw API keys.
type AuthKind int

const (
	// AuthAPIKey denotes direct API key authentication.
	AuthAPIKey AuthKind = iota
	// AuthOAuth denotes OAuth-backed (proxy or personal) authentication.
	AuthOAuth
)

// Info contains metadata about a model implementation.
type Info struct {
	Name       string   `json:"name"`
	Provider   string   `json:"provider"` // "gemini", "anthropic", "openai", ...
	TokenLimit int      `json:"token_limit"`
	Auth       AuthKind `json:"-"`
}

// ErrUnsupported is returned by backends for operations they cannot serve
// (e.g. token counting on Chat Completions). Callers treat it as "value
// unknown", not as a failure.
var ErrUnsupported = errors.New("model: operation not supported by this backend")

// Model is the abstract invocation interface consumed by the engine. Any
// backend satisfying this contract is interchangeable; the engine never looks
// past it.
type Model interface {
	// GenerateContent performs a one-shot, non-streaming invocation.
	GenerateContent(ctx context.Context, req Request) (*Response, error)

	// GenerateContentStream submits the conversation and streams response
	// chunks. Both channels are closed when the stream ends; at most one
	// error is delivered.
	GenerateContentStream(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// CountTokens returns the prompt token count for the request, or
	// ErrUnsupported when the backend cannot count.
	CountTokens(ctx context.Context, req Request) (int, error)

	// EmbedContent embeds the given texts, or returns ErrUnsupported.
	EmbedContent(ctx context.Context, texts []string) ([][]float32, error)

	// Info returns metadata about the model implementation.
	Info() Info
}
