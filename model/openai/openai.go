// Package openai provides a model.Model implementation backed by the OpenAI
// Chat Completions API (including streaming + function/tool calling). It
// adapts the normalized Request/Response structures into the SDK's message
// format and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete function call parts when finish reason
// is emitted. Internal helper (unexported).
type aggCall struct{ id, name, args string }

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	EmbedModel          openai.EmbeddingModel
	Temperature         float64
	MaxCompletionTokens int64
	TokenLimit          int
	Auth                model.AuthKind
	APIKey              string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		EmbedModel:          openai.EmbeddingModelTextEmbedding3Small,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		TokenLimit:          128_000,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, req model.Request) (*model.Response, error) {
	resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req))
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	ch0 := resp.Choices[0]
	parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+1)
	if ch0.Message.Content != "" {
		parts = append(parts, core.TextPart{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: parseArgs(tc.Function.Arguments),
		}})
	}
	return &model.Response{
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// GenerateContentStream implements model.Model. Text deltas are forwarded as
// partial responses; tool calls are aggregated across deltas and emitted with
// the final chunk.
func (m *Model) GenerateContentStream(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(req))
		var textBuilder strings.Builder
		toolAgg := map[int64]*aggCall{}
		order := []int64{}
		finishReason := ""

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					textBuilder.WriteString(choice.Delta.Content)
					select {
					case out <- model.Response{
						Partial: true,
						Content: core.Content{Role: core.RoleModel, Parts: []core.Part{core.TextPart{Text: choice.Delta.Content}}},
					}:
					case <-ctx.Done():
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
						order = append(order, tc.Index)
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}
				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classify(err)
			return
		}

		parts := make([]core.Part, 0, len(order)+1)
		if textBuilder.Len() > 0 {
			parts = append(parts, core.TextPart{Text: textBuilder.String()})
		}
		for _, idx := range order {
			ac := toolAgg[idx]
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:   ac.id,
				Name: ac.name,
				Args: parseArgs(ac.args),
			}})
		}
		select {
		case out <- model.Response{
			Content:      core.Content{Role: core.RoleModel, Parts: parts},
			FinishReason: finishReason,
		}:
		case <-ctx.Done():
		}
	}()

	return out, errCh
}

// CountTokens implements model.Model. Chat Completions exposes usage only
// after the fact, so counting up front is unsupported.
func (m *Model) CountTokens(_ context.Context, _ model.Request) (int, error) {
	return 0, model.ErrUnsupported
}

// EmbedContent implements model.Model.
func (m *Model) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: m.opts.EmbedModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, classify(err)
	}
	out := make([][]float32, len(resp.Data))
	for i, emb := range resp.Data {
		vec := make([]float32, len(emb.Embedding))
		for j, v := range emb.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:       m.opts.Model,
		Provider:   "openai",
		TokenLimit: m.opts.TokenLimit,
		Auth:       m.opts.Auth,
	}
}

func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	modelName := m.opts.Model
	if req.Model != "" {
		modelName = req.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               modelName,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Function.Name,
					Description: openai.String(tdef.Function.Description),
					Parameters:  tdef.Function.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	if req.ResponseJSONSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "response",
					Schema: req.ResponseJSONSchema,
				},
			},
		}
	}
	return params
}

// buildMessages converts normalized contents into OpenAI chat messages. Tool
// responses embedded in user continuations become tool messages keyed by
// call id.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}

	for _, c := range req.Contents {
		var textBuilder strings.Builder
		var toolMessages []openai.ChatCompletionMessageParamUnion
		var toolCalls []openai.ChatCompletionMessageToolCallParam

		for _, p := range c.Parts {
			switch part := p.(type) {
			case core.TextPart:
				textBuilder.WriteString(part.Text)
			case core.FunctionCallPart:
				fc := part.FunctionCall
				args := "{}"
				if raw, err := json.Marshal(fc.Args); err == nil {
					args = string(raw)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   fc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      fc.Name,
						Arguments: args,
					},
				})
			case core.FunctionResponsePart:
				fr := part.FunctionResponse
				toolMessages = append(toolMessages, openai.ToolMessage(responseText(fr), fr.ID))
			}
		}

		text := textBuilder.String()
		switch {
		case c.Role == core.RoleModel && len(toolCalls) > 0:
			assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case c.Role == core.RoleModel:
			if text != "" {
				messages = append(messages, openai.AssistantMessage(text))
			}
		default:
			if text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
			messages = append(messages, toolMessages...)
		}
	}
	return messages
}

func responseText(fr core.FunctionResponse) string {
	if out, ok := fr.Response["output"].(string); ok {
		return out
	}
	if errText, ok := fr.Response["error"].(string); ok {
		return errText
	}
	if raw, err := json.Marshal(fr.Response); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", fr.Response)
}

func parseArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &args)
	}
	return args
}

// classify maps SDK failures onto the engine's error taxonomy.
func classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 401 || apierr.StatusCode == 403:
			return &core.AuthError{Err: err}
		case apierr.StatusCode == 429:
			return &core.RateLimitError{Err: err}
		default:
			return &core.StructuredError{Message: err.Error(), Status: apierr.StatusCode}
		}
	}
	return err
}
