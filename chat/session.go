// Package chat owns conversation state: the ordered message history with its
// comprehensive and curated views. History is mutated only through Append,
// Replace and Reset.
package chat

import (
	"sync"
	"time"

	"github.com/hupe1980/agentloop/core"
)

// Session represents one conversation. It is safe for concurrent access.
//
// Two history views exist:
//   - comprehensive: every message, including empty or invalid model outputs
//   - curated: only valid turns, suitable for building the next model request
type Session struct {
	mu      sync.RWMutex
	history []core.Content
	created time.Time
	updated time.Time
}

// NewSession creates an empty session, optionally seeded with an initial
// history (e.g. environment context).
func NewSession(initial ...core.Content) *Session {
	now := time.Now()
	s := &Session{created: now, updated: now}
	s.history = append(s.history, initial...)
	return s
}

// Append adds a message to the history.
func (s *Session) Append(c core.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, c)
	s.updated = time.Now()
}

// Replace swaps the entire history, used by compression.
func (s *Session) Replace(history []core.Content) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]core.Content, len(history))
	copy(s.history, history)
	s.updated = time.Now()
}

// Reset clears the history.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.updated = time.Now()
}

// History returns a defensive copy of the requested view.
//
// The curated view drops invalid model outputs together with the user input
// that provoked them, so the model never sees a dangling user turn paired
// with garbage output. Synthetic tool-response continuations are kept: the
// model needs them to resolve its own function calls.
func (s *Session) History(curated bool) []core.Content {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !curated {
		out := make([]core.Content, len(s.history))
		copy(out, s.history)
		return out
	}
	return curate(s.history)
}

// Len returns the comprehensive history length.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// LastSpeaker returns the role of the last curated message that is not a
// synthetic continuation, or "" for an empty history. Next-speaker inference
// keys off this value.
func (s *Session) LastSpeaker() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	curated := curate(s.history)
	for i := len(curated) - 1; i >= 0; i-- {
		if curated[i].IsToolResponseOnly() {
			continue
		}
		return curated[i].Role
	}
	return ""
}

func curate(history []core.Content) []core.Content {
	out := make([]core.Content, 0, len(history))
	for i := 0; i < len(history); i++ {
		c := history[i]
		if c.Role != core.RoleModel {
			out = append(out, c)
			continue
		}
		// Collect the full model run (consecutive model messages) and judge
		// it as a whole.
		run := []core.Content{c}
		for i+1 < len(history) && history[i+1].Role == core.RoleModel {
			i++
			run = append(run, history[i])
		}
		if runValid(run) {
			out = append(out, run...)
		} else if len(out) > 0 && out[len(out)-1].Role == core.RoleUser {
			out = out[:len(out)-1]
		}
	}
	return out
}

func runValid(run []core.Content) bool {
	for _, c := range run {
		if c.IsEmpty() {
			return false
		}
	}
	return true
}
