// Package cancel is a process-global registry of per-session cancellation
// funcs, lifted from the original molecular server's silicon.cancellers
// map. The abort HTTP handler and the background supervisor goroutine
// have no other shared handle, so — same as the teacher — this one stays
// a package-level singleton rather than a dependency-injected collaborator.
package cancel

import (
	"context"
	"sync"
)

var (
	mu      sync.Mutex
	tokens  = map[string]context.CancelFunc{}
)

// Register records cancel as the cancellation token for sessionID,
// overwriting any previous entry.
func Register(sessionID string, cancel context.CancelFunc) {
	mu.Lock()
	defer mu.Unlock()
	tokens[sessionID] = cancel
}

// Unregister removes any cancellation token for sessionID.
func Unregister(sessionID string) {
	mu.Lock()
	defer mu.Unlock()
	delete(tokens, sessionID)
}

// Trigger calls the registered cancellation token for sessionID, if any.
// Returns true if a token was found and called.
func Trigger(sessionID string) bool {
	mu.Lock()
	fn, ok := tokens[sessionID]
	mu.Unlock()
	if !ok || fn == nil {
		return false
	}
	fn()
	return true
}
