package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/telemetry"
)

// GenerateContent performs a one-shot, non-streaming invocation outside the
// conversational loop, still covered by the retry policy. An answer without
// any text fails with core.ErrEmptyResponse.
func (o *Orchestrator) GenerateContent(ctx context.Context, contents []core.Content) (*model.Response, error) {
	return o.generate(ctx, contents, nil)
}

// GenerateJSON performs a one-shot invocation constrained to a JSON document
// matching schema and returns the parsed document. Unparseable output fails
// with *core.ParseError carrying the raw text.
func (o *Orchestrator) GenerateJSON(ctx context.Context, contents []core.Content, schema map[string]any) (map[string]any, error) {
	resp, err := o.generate(ctx, contents, schema)
	if err != nil {
		return nil, err
	}

	text := stripFences(strings.TrimSpace(resp.Content.Text()))
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &core.ParseError{Raw: text, Err: err}
	}
	return doc, nil
}

func (o *Orchestrator) generate(ctx context.Context, contents []core.Content, schema map[string]any) (*model.Response, error) {
	var resp *model.Response
	start := time.Now()

	err := o.opts.Retry.Do(ctx, o.Model(), func(ctx context.Context, modelName string) error {
		o.setModel(modelName)
		r, callErr := o.backend.GenerateContent(ctx, model.Request{
			Model:              modelName,
			SystemInstruction:  o.opts.SystemInstruction,
			Contents:           contents,
			ResponseJSONSchema: schema,
		})
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	})

	rec := telemetry.ModelCallRecord{Model: o.Model(), Duration: time.Since(start), Error: errString(err)}
	if err == nil && resp != nil && resp.Usage != nil {
		rec.Tokens = resp.Usage.TotalTokens
	}
	o.record(rec)

	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Content.Text()) == "" {
		return nil, core.ErrEmptyResponse
	}
	return resp, nil
}

// stripFences removes a surrounding markdown code fence, which some backends
// wrap JSON answers in despite schema constraints.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if i := strings.LastIndex(text, "```"); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}
