package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

// DiscoveryError marks a failed dynamic discovery pass. Manual registrations
// are never affected by a failed pass.
type DiscoveryError struct {
	Source string // "command" or the server name
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("tool discovery from %s failed: %v", e.Source, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	// DiscoveryCommand, when set, is invoked by Discover; its stdout must be
	// a JSON array of function declarations.
	DiscoveryCommand []string
	// CallCommand executes a discovered tool: the tool name is appended as
	// the final argument and parameters are piped as JSON on stdin.
	CallCommand []string
	// Servers lists remote-protocol servers queried during Discover.
	Servers []*MCPServer
	// Trust is consulted by discovered/remote tools at the confirmation gate.
	Trust  *TrustPolicy
	Logger logging.Logger
}

// Registry holds the set of invocable tools, merged from static
// registrations, subprocess-discovered tools and remote-protocol tools.
// Identity is by name; last registration wins with a warning.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	discovered map[string]bool // names populated by the last Discover pass
	opts       RegistryOptions
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		Trust:  NewTrustPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:      make(map[string]Tool),
		discovered: make(map[string]bool),
		opts:       opts,
	}
}

// Register adds a tool. Name collisions are tolerated (hot reload of
// discovered tools): the new tool replaces the old one and a warning is
// logged.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(t, false)
}

func (r *Registry) registerLocked(t Tool, viaDiscovery bool) {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		r.opts.Logger.Warn("tool already registered, overwriting", "tool", name)
	}
	r.tools[name] = t
	if viaDiscovery {
		r.discovered[name] = true
	} else {
		delete(r.discovered, name)
	}
}

// Get resolves a tool by exact name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted for stable iteration.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Declarations exposes the full current tool set as model function
// declarations.
func (r *Registry) Declarations() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Discover re-scans all dynamic sources. Previously auto-discovered tools are
// evicted first (never manually registered ones), so discovery is idempotent
// and safe to re-run. A failure leaves the registry with discovered tools
// already collected from earlier sources in the same pass; manual tools are
// untouched either way.
func (r *Registry) Discover(ctx context.Context) error {
	var staged []Tool

	if len(r.opts.DiscoveryCommand) > 0 {
		tools, err := r.discoverFromCommand(ctx)
		if err != nil {
			return err
		}
		staged = append(staged, tools...)
	}

	for _, server := range r.opts.Servers {
		tools, err := r.discoverFromServer(ctx, server)
		if err != nil {
			return err
		}
		staged = append(staged, tools...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.discovered {
		delete(r.tools, name)
	}
	r.discovered = make(map[string]bool)
	for _, t := range staged {
		r.registerLocked(t, true)
	}
	r.opts.Logger.Info("tool discovery completed", "discovered", len(staged), "total", len(r.tools))
	return nil
}

func (r *Registry) discoverFromServer(ctx context.Context, server *MCPServer) ([]Tool, error) {
	tools, err := server.listTools(ctx, r.opts.Trust)
	if err != nil {
		return nil, &DiscoveryError{Source: server.Name, Err: err}
	}
	return tools, nil
}
