// Package override implements manual operator mode: a single operator
// takes over one channel and types replies that are delivered in place of
// assistant output.
package override

import "sync"

// Session is a snapshot of the override state. When Active is false,
// Target is empty.
type Session struct {
	Active bool   `json:"active"`
	Target string `json:"target,omitempty"`
}

// Gate holds the process-wide override session. At most one channel is
// under manual control at a time.
type Gate struct {
	mu     sync.Mutex
	active bool
	target string
}

// NewGate creates an inactive Gate.
func NewGate() *Gate {
	return &Gate{}
}

// TryActivate claims override mode for channelID. It returns false when a
// session is already active, including one for the same channel.
func (g *Gate) TryActivate(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return false
	}
	g.active = true
	g.target = channelID
	return true
}

// DeactivateIfOwner ends the session only if channelID still owns it.
func (g *Gate) DeactivateIfOwner(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active || g.target != channelID {
		return false
	}
	g.active = false
	g.target = ""
	return true
}

// Deactivate ends any session regardless of owner.
func (g *Gate) Deactivate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.target = ""
}

// IsActiveFor reports whether channelID is under manual control.
func (g *Gate) IsActiveFor(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active && g.target == channelID
}

// IsActive reports whether any channel is under manual control.
func (g *Gate) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Snapshot returns the current session.
func (g *Gate) Snapshot() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Session{Active: g.active, Target: g.target}
}
