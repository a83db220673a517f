// Package anthropic provides a model.Model implementation backed by the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// Options configure the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	TokenLimit  int
	Auth        model.AuthKind
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaudeSonnet4_20250514,
		Temperature: 0.7,
		MaxTokens:   4096,
		TokenLimit:  200_000,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, req model.Request) (*model.Response, error) {
	resp, err := m.client.Messages.New(ctx, m.buildParams(req))
	if err != nil {
		return nil, classify(err)
	}

	var parts []core.Part
	for _, block := range resp.Content {
		if p := fromBlock(block); p != nil {
			parts = append(parts, p)
		}
	}
	return &model.Response{
		Content:      core.Content{Role: core.RoleModel, Parts: parts},
		FinishReason: string(resp.StopReason),
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// GenerateContentStream implements model.Model. Text and thinking deltas are
// forwarded as partial responses; the accumulated message becomes the final
// chunk.
func (m *Model) GenerateContentStream(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		stream := m.client.Messages.NewStreaming(ctx, m.buildParams(req))
		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
				return
			}

			deltaEvent, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			var part core.Part
			switch delta := deltaEvent.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				part = core.TextPart{Text: delta.Text}
			case anthropic.ThinkingDelta:
				part = core.ThoughtPart{Text: delta.Thinking}
			default:
				continue
			}
			select {
			case out <- model.Response{Partial: true, Content: core.Content{Role: core.RoleModel, Parts: []core.Part{part}}}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classify(err)
			return
		}

		var parts []core.Part
		for _, block := range message.Content {
			if p := fromBlock(block); p != nil {
				parts = append(parts, p)
			}
		}
		final := model.Response{
			Content:      core.Content{Role: core.RoleModel, Parts: parts},
			FinishReason: string(message.StopReason),
			Usage: &model.TokenUsage{
				PromptTokens:     int(message.Usage.InputTokens),
				CompletionTokens: int(message.Usage.OutputTokens),
				TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
			},
		}
		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()

	return out, errCh
}

// CountTokens implements model.Model. Tool definitions are excluded from the
// count, which keeps the result a close lower bound.
func (m *Model) CountTokens(ctx context.Context, req model.Request) (int, error) {
	params := anthropic.MessageCountTokensParams{
		Model:    m.model(req),
		Messages: buildMessages(req.Contents),
	}
	if req.SystemInstruction != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{
			OfTextBlockArray: []anthropic.TextBlockParam{{Text: req.SystemInstruction}},
		}
	}
	resp, err := m.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, classify(err)
	}
	return int(resp.InputTokens), nil
}

// EmbedContent implements model.Model. The Messages API has no embedding
// endpoint.
func (m *Model) EmbedContent(_ context.Context, _ []string) ([][]float32, error) {
	return nil, model.ErrUnsupported
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:       string(m.opts.Model),
		Provider:   "anthropic",
		TokenLimit: m.opts.TokenLimit,
		Auth:       m.opts.Auth,
	}
}

func (m *Model) model(req model.Request) anthropic.Model {
	if req.Model != "" {
		return anthropic.Model(req.Model)
	}
	return m.opts.Model
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       m.model(req),
		Messages:    buildMessages(req.Contents),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	system := req.SystemInstruction
	if req.ResponseJSONSchema != nil {
		// No native schema constraint on the Messages API; instruct instead.
		if schemaBytes, err := json.Marshal(req.ResponseJSONSchema); err == nil {
			if system != "" {
				system += "\n\n"
			}
			system += "Respond only with a JSON document matching this schema, no other text: " + string(schemaBytes)
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = anthropic.ToolUnionParamOfTool(inputSchema(t.Function.Parameters), t.Function.Name)
		}
		params.Tools = tools
	}
	return params
}

func inputSchema(parameters map[string]any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if parameters == nil {
		return schema
	}
	if properties, ok := parameters["properties"]; ok {
		schema.Properties = properties
	}
	switch required := parameters["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// buildMessages converts normalized contents into Anthropic messages. Tool
// results live in user messages, tool uses in assistant messages, matching
// how the engine lays out its history.
func buildMessages(contents []core.Content) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, c := range contents {
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range c.Parts {
			switch part := p.(type) {
			case core.TextPart:
				if part.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case core.BlobPart:
				blocks = append(blocks, anthropic.NewImageBlockBase64(part.MIMEType, base64.StdEncoding.EncodeToString(part.Data)))
			case core.FunctionCallPart:
				fc := part.FunctionCall
				blocks = append(blocks, anthropic.NewToolUseBlock(fc.ID, fc.Args, fc.Name))
			case core.FunctionResponsePart:
				fr := part.FunctionResponse
				isError := false
				text, ok := fr.Response["output"].(string)
				if !ok {
					if errText, errOK := fr.Response["error"].(string); errOK {
						text = errText
						isError = true
					} else if raw, err := json.Marshal(fr.Response); err == nil {
						text = string(raw)
					}
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(fr.ID, text, isError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if c.Role == core.RoleModel {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return messages
}

func fromBlock(block anthropic.ContentBlockUnion) core.Part {
	switch block.Type {
	case "text":
		if text := block.AsText().Text; text != "" {
			return core.TextPart{Text: text}
		}
	case "thinking":
		if thinking := block.AsThinking().Thinking; thinking != "" {
			return core.ThoughtPart{Text: thinking}
		}
	case "tool_use":
		toolBlock := block.AsToolUse()
		args := map[string]any{}
		if raw, err := json.Marshal(toolBlock.Input); err == nil {
			_ = json.Unmarshal(raw, &args)
		}
		return core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:   toolBlock.ID,
			Name: toolBlock.Name,
			Args: args,
		}}
	}
	return nil
}

// classify maps SDK failures onto the engine's error taxonomy.
func classify(err error) error {
	var apierr *anthropic.Error
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
