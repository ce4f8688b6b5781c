// Package gate implements the single-slot mutual-exclusion primitive that
// serializes active sessions: at most one (workspace, session id) pair is
// active at any instant. Unlike the teacher's silicon.cancellers map (one
// entry per task, many concurrent holders), this gate holds exactly zero
// or one holder — a plain mutex-guarded struct field is the right fit,
// not a map or a channel.
package gate

import "sync"

type holder struct {
	workspace string
	sessionID string
}

type Gate struct {
	mu     sync.Mutex
	active *holder
}

func New() *Gate {
	return &Gate{}
}

// Acquire succeeds iff the gate is currently empty, in which case it
// records (workspace, sessionID) as the holder and returns true.
func (g *Gate) Acquire(workspace, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil {
		return false
	}
	g.active = &holder{workspace: workspace, sessionID: sessionID}
	return true
}

// Release succeeds iff (workspace, sessionID) is the current holder. A
// stale release — e.g. from an aborted session whose slot was already
// reassigned — is a no-op, never frees a different holder's slot.
func (g *Gate) Release(workspace, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil || g.active.workspace != workspace || g.active.sessionID != sessionID {
		return false
	}
	g.active = nil
	return true
}

// ActiveSessionID returns the current holder's session id, or "" if the
// gate is empty.
func (g *Gate) ActiveSessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return ""
	}
	return g.active.sessionID
}
