package engine

import (
	"context"
	"errors"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/model"
)

const compressionPrompt = `Your task is to create a dense snapshot of the conversation so far. It will replace the full history, so it must carry everything needed to seamlessly continue the work.

Produce a single <state_snapshot> document with these sections:
 - overall_goal: the user's high-level objective, one sentence.
 - key_knowledge: crucial facts, conventions and constraints established so far.
 - artifacts: files, data or other artifacts created, read or modified, with their relevant state.
 - current_state: what was just completed and what is in progress.
 - next_steps: the concrete follow-ups, quoting any direct user instructions verbatim.

Be thorough on substance, terse on prose. Output only the snapshot document.`

const compressionAck = "Got it. Thanks for the additional context!"

// Compress forces a history compression regardless of the token threshold and
// returns the before/after counts, or nil when compression was not possible.
func (o *Orchestrator) Compress(ctx context.Context) *core.CompressionInfo {
	return o.tryCompress(ctx, true)
}

// tryCompress replaces the history with a model-written snapshot when the
// curated view exceeds the configured fraction of the model token limit.
// Backends that cannot count tokens skip compression silently; a failed
// snapshot attempt leaves the history untouched.
func (o *Orchestrator) tryCompress(ctx context.Context, force bool) *core.CompressionInfo {
	curated := o.session.History(true)
	if len(curated) == 0 {
		return nil
	}
	limit := o.backend.Info().TokenLimit
	if limit <= 0 {
		return nil
	}

	count, err := o.backend.CountTokens(ctx, model.Request{Model: o.Model(), Contents: curated})
	if err != nil {
		if !errors.Is(err, model.ErrUnsupported) {
			o.opts.Logger.Warn("token count failed, skipping compression", "error", err)
		}
		return nil
	}
	if !force && float64(count) < o.opts.CompressionThreshold*float64(limit) {
		return nil
	}

	// The snapshot is written from the comprehensive view so nothing the
	// model said is lost to curation.
	contents := append(o.session.History(false), core.NewUserContent(compressionPrompt))
	resp, err := o.GenerateContent(ctx, contents)
	if err != nil {
		o.opts.Logger.Warn("history compression failed", "error", err)
		return nil
	}

	o.session.Replace([]core.Content{
		core.NewUserContent(resp.Content.Text()),
		core.NewModelContent(compressionAck),
	})

	newCount, err := o.backend.CountTokens(ctx, model.Request{Model: o.Model(), Contents: o.session.History(true)})
	if err != nil {
		newCount = 0
	}
	if newCount >= count {
		o.opts.Logger.Warn("compression did not reduce token count", "before", count, "after", newCount)
	}
	o.opts.Logger.Info("chat history compressed", "before", count, "after", newCount)
	return &core.CompressionInfo{OriginalTokenCount: count, NewTokenCount: newCount}
}
