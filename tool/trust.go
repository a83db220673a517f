package tool

import "sync"

// TrustPolicy is an explicit, session-scoped allow-list for "always trust
// this tool/server" decisions, keyed by (serverName, toolName). It is
// injected into the components that need it rather than shared implicitly
// across instances. Local tools use an empty server name.
type TrustPolicy struct {
	mu      sync.RWMutex
	trusted map[trustKey]bool
}

type trustKey struct {
	server string
	tool   string
}

// NewTrustPolicy constructs an empty policy.
func NewTrustPolicy() *TrustPolicy {
	return &TrustPolicy{trusted: make(map[trustKey]bool)}
}

// Trust records a standing approval for the given server/tool pair.
func (p *TrustPolicy) Trust(serverName, toolName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trusted[trustKey{server: serverName, tool: toolName}] = true
}

// TrustServer records a standing approval for every tool of a server.
func (p *TrustPolicy) TrustServer(serverName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trusted[trustKey{server: serverName}] = true
}

// IsTrusted reports whether the pair (or its whole server) has a standing
// approval.
func (p *TrustPolicy) IsTrusted(serverName, toolName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.trusted[trustKey{server: serverName, tool: toolName}] {
		return true
	}
	return serverName != "" && p.trusted[trustKey{server: serverName}]
}
