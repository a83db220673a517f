package scheduler

import (
	"fmt"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/tool"
)

// successResponse applies the uniform response-part conversion rule:
//
//   - a single textual part collapses to that text
//   - a mixed/non-text list is preserved verbatim behind a generic
//     "succeeded" marker
//   - binary parts are annotated with a one-line marker alongside the
//     original part, never inlined into the conversation text
func successResponse(req core.ToolCallRequest, result *tool.Result) *core.ToolCallResponse {
	display := ""
	var resultParts []core.Part
	if result != nil {
		display = result.Display
		resultParts = result.Parts
	}

	if text, ok := singleText(resultParts); ok {
		return &core.ToolCallResponse{
			CallID:  req.CallID,
			Parts:   []core.Part{functionOutput(req, text)},
			Display: display,
		}
	}

	parts := []core.Part{functionOutput(req, "Tool execution succeeded.")}
	for _, p := range resultParts {
		switch bin := p.(type) {
		case core.BlobPart:
			parts = append(parts, functionOutput(req, binaryMarker(bin.MIMEType)), p)
		case core.FileRefPart:
			parts = append(parts, functionOutput(req, binaryMarker(bin.MIMEType)), p)
		default:
			parts = append(parts, p)
		}
	}
	return &core.ToolCallResponse{CallID: req.CallID, Parts: parts, Display: display}
}

func errorResponse(req core.ToolCallRequest, message string) *core.ToolCallResponse {
	return &core.ToolCallResponse{
		CallID: req.CallID,
		Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID:       req.CallID,
			Name:     req.Name,
			Response: map[string]any{"error": message},
		}}},
		Err:     &core.StructuredError{Message: message},
		Display: message,
	}
}

func cancelResponse(req core.ToolCallRequest, reason string) *core.ToolCallResponse {
	return &core.ToolCallResponse{
		CallID: req.CallID,
		Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID:       req.CallID,
			Name:     req.Name,
			Response: map[string]any{"output": "Tool call cancelled by the user: " + reason},
		}}},
		Display: reason,
	}
}

// singleText reports the collapse case: a result that is exactly one textual
// part (or empty, treated as empty text).
func singleText(parts []core.Part) (string, bool) {
	if len(parts) == 0 {
		return "", true
	}
	if len(parts) == 1 {
		if tp, ok := parts[0].(core.TextPart); ok {
			return tp.Text, true
		}
	}
	return "", false
}

func functionOutput(req core.ToolCallRequest, text string) core.Part {
	return core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
		ID:       req.CallID,
		Name:     req.Name,
		Response: map[string]any{"output": text},
	}}
}

// ResponseText extracts the textual output of a converted response, the
// inverse of the single-text collapse.
func ResponseText(resp *core.ToolCallResponse) string {
	if resp == nil {
		return ""
	}
	for _, p := range resp.Parts {
		if fr, ok := p.(core.FunctionResponsePart); ok {
			if out, ok := fr.FunctionResponse.Response["output"].(string); ok {
				return out
			}
		}
	}
	return ""
}

func binaryMarker(mimeType string) string {
	return fmt.Sprintf("Binary content of type %s was processed.", mimeType)
}
