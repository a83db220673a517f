// Package gemini provides a model.Model implementation backed by the Google
// Gen AI SDK (Gemini API and Vertex AI backends).
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

// Options configure the Gemini model adapter.
type Options struct {
	Model       string
	EmbedModel  string
	Temperature float64
	TokenLimit  int
	Auth        model.AuthKind
	APIKey      string
	Backend     genai.Backend
}

// Model wraps the Gen AI SDK behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a new Gemini model, building a client from the options.
func NewModel(ctx context.Context, optFns ...func(o *Options)) (*Model, error) {
	opts := defaultOptions(optFns)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: opts.Backend,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Model{client: client, opts: opts}, nil
}

// NewModelFromClient creates a new Gemini model from an existing client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	return &Model{client: client, opts: defaultOptions(optFns)}
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       "gemini-2.5-pro",
		EmbedModel:  "gemini-embedding-001",
		Temperature: 0.7,
		TokenLimit:  1_048_576,
		Backend:     genai.BackendGeminiAPI,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// GenerateContent implements model.Model.
func (m *Model) GenerateContent(ctx context.Context, req model.Request) (*model.Response, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.modelName(req), buildContents(req.Contents), m.buildConfig(req))
	if err != nil {
		return nil, classify(err)
	}
	return toResponse(resp), nil
}

// GenerateContentStream implements model.Model. Each SDK chunk is forwarded
// as a partial response; the accumulated turn is emitted as the final chunk.
func (m *Model) GenerateContentStream(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		var final model.Response
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.modelName(req), buildContents(req.Contents), m.buildConfig(req)) {
			if err != nil {
				errCh <- classify(err)
				return
			}
			chunk := toResponse(resp)
			final.Content.Parts = append(final.Content.Parts, chunk.Content.Parts...)
			final.Content.Role = chunk.Content.Role
			if chunk.FinishReason != "" {
				final.FinishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				final.Usage = chunk.Usage
			}

			chunk.Partial = true
			select {
			case out <- *chunk:
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()

	return out, errCh
}

// CountTokens implements model.Model.
func (m *Model) CountTokens(ctx context.Context, req model.Request) (int, error) {
	resp, err := m.client.Models.CountTokens(ctx, m.modelName(req), buildContents(req.Contents), nil)
	if err != nil {
		return 0, classify(err)
	}
	return int(resp.TotalTokens), nil
}

// EmbedContent implements model.Model.
func (m *Model) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: text}}}
	}
	resp, err := m.client.Models.EmbedContent(ctx, m.opts.EmbedModel, contents, nil)
	if err != nil {
		return nil, classify(err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:       m.opts.Model,
		Provider:   "gemini",
		TokenLimit: m.opts.TokenLimit,
		Auth:       m.opts.Auth,
	}
}

func (m *Model) modelName(req model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return m.opts.Model
}

func (m *Model) buildConfig(req model.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(m.opts.Temperature)),
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}
	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			declarations[i] = &genai.FunctionDeclaration{
				Name:                 t.Function.Name,
				Description:          t.Function.Description,
				ParametersJsonSchema: t.Function.Parameters,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	if req.ResponseJSONSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseJsonSchema = req.ResponseJSONSchema
	}
	return config
}

func buildContents(contents []core.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		gc := &genai.Content{Role: toRole(c.Role)}
		for _, p := range c.Parts {
			if gp := toPart(p); gp != nil {
				gc.Parts = append(gc.Parts, gp)
			}
		}
		if len(gc.Parts) > 0 {
			out = append(out, gc)
		}
	}
	return out
}

func toRole(role string) string {
	if role == core.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func toPart(p core.Part) *genai.Part {
	switch part := p.(type) {
	case core.TextPart:
		return &genai.Part{Text: part.Text}
	case core.ThoughtPart:
		return &genai.Part{Text: part.Text, Thought: true}
	case core.BlobPart:
		return &genai.Part{InlineData: &genai.Blob{MIMEType: part.MIMEType, Data: part.Data}}
	case core.FileRefPart:
		return &genai.Part{FileData: &genai.FileData{MIMEType: part.MIMEType, FileURI: part.URI}}
	case core.FunctionCallPart:
		fc := part.FunctionCall
		return &genai.Part{FunctionCall: &genai.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}}
	case core.FunctionResponsePart:
		fr := part.FunctionResponse
		return &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: fr.ID, Name: fr.Name, Response: fr.Response}}
	default:
		return nil
	}
}

func toResponse(resp *genai.GenerateContentResponse) *model.Response {
	out := &model.Response{Content: core.Content{Role: core.RoleModel}}
	if usage := resp.UsageMetadata; usage != nil {
		out.Usage = &model.TokenUsage{
			PromptTokens:     int(usage.PromptTokenCount),
			CompletionTokens: int(usage.CandidatesTokenCount),
			TotalTokens:      int(usage.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	candidate := resp.Candidates[0]
	out.FinishReason = string(candidate.FinishReason)
	if candidate.Content == nil {
		return out
	}
	for _, p := range candidate.Content.Parts {
		if cp := fromPart(p); cp != nil {
			out.Content.Parts = append(out.Content.Parts, cp)
		}
	}
	return out
}

func fromPart(p *genai.Part) core.Part {
	switch {
	case p.FunctionCall != nil:
		return core.FunctionCallPart{FunctionCall: core.FunctionCall{
			ID:   p.FunctionCall.ID,
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}}
	case p.FunctionResponse != nil:
		return core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID:       p.FunctionResponse.ID,
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}}
	case p.InlineData != nil:
		return core.BlobPart{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}
	case p.FileData != nil:
		return core.FileRefPart{MIMEType: p.FileData.MIMEType, URI: p.FileData.FileURI}
	case p.Thought:
		return core.ThoughtPart{Text: p.Text}
	case p.Text != "":
		return core.TextPart{Text: p.Text}
	default:
		return nil
	}
}

// classify maps SDK failures onto the engine's error taxonomy so the retry
// policy can act on them.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return &core.AuthError{Err: err}
		case apiErr.Code == 429:
			return &core.RateLimitError{Err: err}
		default:
			return &core.StructuredError{Message: err.Error(), Status: apiErr.Code}
		}
	}
	return err
}
