// Package listener keeps at most one "messages available" callback per peer.
package listener

import (
	"sync"

	"github.com/n6x/watchdog/internal/gate"
	"github.com/n6x/watchdog/internal/peer"
)

// Callback is invoked with the peer whose inbox became non-empty.
type Callback func(peer.ID)

type entry struct {
	cb   Callback
	gate gate.Gate
}

// Registry maps each peer to its current listener. Registering a listener for a
// peer that already has one replaces it.
type Registry struct {
	mu      sync.RWMutex
	entries map[peer.ID]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[peer.ID]*entry)}
}

// Set installs cb as the listener for p and reports whether a previous
// listener was replaced. The previous listener is never invoked after Set returns.
func (r *Registry) Set(p peer.ID, cb Callback) bool {
	e := &entry{cb: cb}

	r.mu.Lock()
	old, ok := r.entries[p]
	r.entries[p] = e
	r.mu.Unlock()

	if ok {
		old.gate.Close()
	}
	return ok
}

// Clear removes the listener for p. It reports false when nothing was registered.
// Once Clear returns the removed callback will not be invoked again.
func (r *Registry) Clear(p peer.ID) bool {
	r.mu.Lock()
	old, ok := r.entries[p]
	delete(r.entries, p)
	r.mu.Unlock()

	if ok {
		old.gate.Close()
	}
	return ok
}

// Has reports whether p currently has a listener.
func (r *Registry) Has(p peer.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[p]
	return ok
}

// Notify invokes the current listener for p, if any, and reports whether it ran.
// The listener is resolved at call time, so a callback replaced or cleared in the
// meantime is skipped. No registry lock is held while the callback runs.
func (r *Registry) Notify(p peer.ID) bool {
	r.mu.RLock()
	e, ok := r.entries[p]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return e.gate.Do(func() { e.cb(p) })
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
