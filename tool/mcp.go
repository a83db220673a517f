package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPSession is the subset of *mcp.ClientSession the registry depends on.
// Narrowing the surface keeps remote discovery testable without a live
// server process.
type MCPSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// MCPServer binds a configured remote-protocol server to its live session.
type MCPServer struct {
	Name    string
	Session MCPSession
}

// listTools queries the server and wraps each remote tool.
func (s *MCPServer) listTools(ctx context.Context, trust *TrustPolicy) ([]Tool, error) {
	result, err := s.Session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, &MCPTool{server: s.Name, tool: t, session: s.Session, trust: trust})
	}
	return tools, nil
}

// MCPTool wraps a remote-protocol tool behind the Tool interface.
type MCPTool struct {
	server  string
	tool    *mcp.Tool
	session MCPSession
	trust   *TrustPolicy
}

// Name returns the tool name prefixed with the server name to avoid
// collisions between servers.
func (t *MCPTool) Name() string {
	return t.server + "__" + t.tool.Name
}

// Description implements Tool.
func (t *MCPTool) Description() string {
	if t.tool.Description == "" {
		return fmt.Sprintf("Tool %s provided by the %s server", t.tool.Name, t.server)
	}
	return t.tool.Description
}

// Parameters implements Tool. The remote input schema is already a JSON
// schema; it is normalized into a plain map.
func (t *MCPTool) Parameters() map[string]any {
	fallback := map[string]any{"type": "object", "properties": map[string]any{}}

	schema := t.tool.InputSchema
	if schema == nil {
		return fallback
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return fallback
	}
	return out
}

// CanUpdateOutput implements Tool.
func (t *MCPTool) CanUpdateOutput() bool { return false }

// ShouldConfirm implements Tool. Remote tools are untrusted by default;
// standing approvals are looked up in the injected trust policy.
func (t *MCPTool) ShouldConfirm(_ context.Context, _ map[string]any) (*Confirmation, error) {
	if t.trust != nil && t.trust.IsTrusted(t.server, t.tool.Name) {
		return nil, nil
	}
	return &Confirmation{
		Title:       fmt.Sprintf("Run remote tool %s", t.tool.Name),
		Description: t.Description(),
		ServerName:  t.server,
	}, nil
}

// Execute implements Tool by forwarding the call to the remote session.
// A server-reported error settles as an error result, not a raised error.
func (t *MCPTool) Execute(ctx context.Context, args map[string]any, _ func(string)) (*Result, error) {
	result, err := t.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.tool.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, NewToolError(t.Name(), fmt.Sprintf("tools/call: %v", err), "EXECUTION_ERROR")
	}
	if result.IsError {
		return ErrorResult(fmt.Sprintf("remote tool error: %s", contentText(result))), nil
	}
	return TextResult(contentText(result)), nil
}

// contentText flattens SDK content blocks into text, annotating binary blocks
// instead of inlining them.
func contentText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes]", c.MIMEType, len(c.Data)))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio: %s, %d bytes]", c.MIMEType, len(c.Data)))
		}
	}
	return strings.Join(parts, "\n")
}
