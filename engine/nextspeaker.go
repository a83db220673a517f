package engine

import (
	"context"

	"github.com/hupe1980/agentloop/core"
)

const nextSpeakerPrompt = `Analyze *only* your immediately preceding response. Decide who should speak next based on these rules, applied in order:

1. If you stated an immediate next action you intend to perform (e.g. "Next, I will...", "Now I'm going to..."), then you ('model') should speak next to perform that action.
2. If your response was an incomplete fragment, clearly cut off mid-task, then you ('model') should speak next to finish.
3. If you asked the user a direct question or completed the task and are waiting for input, then the 'user' should speak next.

Respond with a JSON object matching the requested schema. Do not include any other text.`

var nextSpeakerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"reasoning": map[string]any{
			"type":        "string",
			"description": "Brief justification for the decision, citing the applied rule.",
		},
		"next_speaker": map[string]any{
			"type": "string",
			"enum": []string{"user", "model"},
		},
	},
	"required": []string{"reasoning", "next_speaker"},
}

// nextSpeaker infers whether the model still owes output after a turn that
// requested no tool calls. Any failure or ambiguity terminates the loop: the
// engine prefers stopping early over talking to itself.
func (o *Orchestrator) nextSpeaker(ctx context.Context) string {
	if o.session.LastSpeaker() != core.RoleModel {
		return ""
	}

	contents := append(o.session.History(true), core.NewUserContent(nextSpeakerPrompt))
	doc, err := o.GenerateJSON(ctx, contents, nextSpeakerSchema)
	if err != nil {
		o.opts.Logger.Warn("next speaker check failed", "error", err)
		return ""
	}

	switch speaker, _ := doc["next_speaker"].(string); speaker {
	case core.RoleUser, core.RoleModel:
		return speaker
	default:
		return ""
	}
}
