// Package permissions implements the user confirmation protocol for
// state-mutating tool calls.
package permissions

import (
	"fmt"
	"sync"
)

// Confirmer presents a yes/no decision to a human and returns the
// answer. Implementations may block indefinitely; the loop is designed
// to suspend across the wait.
type Confirmer interface {
	Ask(message string) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(message string) (bool, error)

// Ask calls the wrapped function.
func (f ConfirmerFunc) Ask(message string) (bool, error) {
	return f(message)
}

// Mode defines the permission checking mode
type Mode int

const (
	ModeAsk  Mode = iota // Prompt for breaking tools
	ModeAuto             // Approve everything automatically
)

func (m Mode) String() string {
	switch m {
	case ModeAsk:
		return "ask"
	case ModeAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// Decision represents a cached permission decision
type Decision int

const (
	DecisionAlwaysAllow Decision = iota // Always allow this tool
	DecisionNeverAllow                  // Never allow this tool
)

// Policy manages permission checking for breaking tool batches. It
// caches per-tool always/never answers so the user is not asked twice
// for the same tool in one session.
type Policy struct {
	mode      Mode
	confirmer Confirmer
	cache     map[string]Decision
	cacheMu   sync.RWMutex
}

// NewPolicy creates a new permission policy
func NewPolicy(mode Mode, confirmer Confirmer) *Policy {
	return &Policy{
		mode:      mode,
		confirmer: confirmer,
		cache:     make(map[string]Decision),
	}
}

// Mode returns the current permission mode.
func (p *Policy) Mode() Mode {
	return p.mode
}

// SetMode changes the permission mode.
func (p *Policy) SetMode(mode Mode) {
	p.mode = mode
}

// CachedDecision returns a previously cached decision for a tool.
func (p *Policy) CachedDecision(toolName string) (Decision, bool) {
	p.cacheMu.RLock()
	defer p.cacheMu.RUnlock()
	d, ok := p.cache[toolName]
	return d, ok
}

// CacheDecision stores an always/never decision for a tool.
func (p *Policy) CacheDecision(toolName string, decision Decision) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.cache[toolName] = decision
}

// Allowed checks whether a breaking batch may run without asking:
// auto mode, or every named tool already cached as always-allow.
// The second return value reports whether the answer was decided
// without the confirmation channel.
func (p *Policy) Allowed(toolNames []string) (bool, bool) {
	if p.mode == ModeAuto {
		return true, true
	}

	allCached := len(toolNames) > 0
	for _, name := range toolNames {
		d, ok := p.CachedDecision(name)
		if !ok {
			allCached = false
			break
		}
		if d == DecisionNeverAllow {
			return false, true
		}
	}
	if allCached {
		return true, true
	}
	return false, false
}

// Ask forwards a confirmation request to the channel. A policy built
// without a channel answers no instead of crashing, so headless
// embedders fail safe.
func (p *Policy) Ask(message string) (bool, error) {
	if p.confirmer == nil {
		return false, fmt.Errorf("no confirmation channel configured")
	}
	return p.confirmer.Ask(message)
}
