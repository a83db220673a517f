package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// functionDeclaration is the wire shape expected from a discovery command:
// a JSON array of these objects on stdout.
type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// discoverFromCommand invokes the configured discovery command and wraps each
// declared function as a subprocess-backed tool.
func (r *Registry) discoverFromCommand(ctx context.Context) ([]Tool, error) {
	cmd := r.opts.DiscoveryCommand
	out, err := exec.CommandContext(ctx, cmd[0], cmd[1:]...).Output()
	if err != nil {
		return nil, &DiscoveryError{Source: "command", Err: err}
	}

	var decls []functionDeclaration
	if err := json.Unmarshal(bytes.TrimSpace(out), &decls); err != nil {
		return nil, &DiscoveryError{Source: "command", Err: fmt.Errorf("parse declarations: %w", err)}
	}

	tools := make([]Tool, 0, len(decls))
	for _, decl := range decls {
		if decl.Name == "" {
			return nil, &DiscoveryError{Source: "command", Err: fmt.Errorf("declaration without name")}
		}
		tools = append(tools, &CommandTool{
			name:        decl.Name,
			description: decl.Description,
			parameters:  decl.Parameters,
			callCommand: r.opts.CallCommand,
			trust:       r.opts.Trust,
		})
	}
	return tools, nil
}

// CommandTool executes a discovered tool by spawning the configured call
// command with the tool name as argument and the parameters piped as JSON.
// Non-zero exit, stderr output or a signal are reported as an error result
// rather than raised.
type CommandTool struct {
	name        string
	description string
	parameters  map[string]any
	callCommand []string
	trust       *TrustPolicy
}

// Name implements Tool.
func (t *CommandTool) Name() string { return t.name }

// Description implements Tool.
func (t *CommandTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *CommandTool) Parameters() map[string]any {
	if t.parameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.parameters
}

// CanUpdateOutput implements Tool; subprocess output is collected, not streamed.
func (t *CommandTool) CanUpdateOutput() bool { return false }

// ShouldConfirm implements Tool. Discovered tools run arbitrary subprocesses,
// so execution requires approval until the tool is trusted for the session.
func (t *CommandTool) ShouldConfirm(_ context.Context, _ map[string]any) (*Confirmation, error) {
	if t.trust != nil && t.trust.IsTrusted("", t.name) {
		return nil, nil
	}
	return &Confirmation{
		Title:       "Run discovered tool " + t.name,
		Description: t.description,
		Command:     strings.Join(append(append([]string{}, t.callCommand...), t.name), " "),
	}, nil
}

// Execute implements Tool.
func (t *CommandTool) Execute(ctx context.Context, args map[string]any, _ func(string)) (*Result, error) {
	if len(t.callCommand) == 0 {
		return nil, NewToolError(t.name, "no call command configured", "CONFIGURATION_ERROR")
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, NewToolError(t.name, fmt.Sprintf("encode arguments: %v", err), "VALIDATION_ERROR")
	}

	argv := append(append([]string{}, t.callCommand[1:]...), t.name)
	cmd := exec.CommandContext(ctx, t.callCommand[0], argv...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if runErr != nil || stderr.Len() > 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return ErrorResult(fmt.Sprintf("tool process failed: %s", msg)), nil
	}

	return TextResult(stdout.String()), nil
}
