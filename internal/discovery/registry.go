// Package discovery tracks the set of currently known peers and notifies
// watchers whenever it changes.
package discovery

import (
	"sync"

	"github.com/n6x/watchdog/internal/gate"
	"github.com/n6x/watchdog/internal/peer"
)

// Watcher receives the new snapshot after every change of the peer set.
type Watcher func(Snapshot)

// Registry holds the live peer set. Joined and Left are idempotent: change
// detection is by set membership, so repeated events publish nothing.
type Registry struct {
	mu       sync.Mutex
	current  Snapshot
	watchers map[uint64]*WatchHandle
	nextID   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		current:  Snapshot{peers: map[peer.ID]struct{}{}},
		watchers: make(map[uint64]*WatchHandle),
	}
}

// Current returns the latest snapshot.
func (r *Registry) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Joined adds p to the peer set. It reports whether the set changed.
func (r *Registry) Joined(p peer.ID) bool {
	r.mu.Lock()
	if r.current.Contains(p) {
		r.mu.Unlock()
		return false
	}
	r.current = r.current.with(p)
	r.publishLocked()
	return true
}

// Left removes p from the peer set. It reports whether the set changed.
func (r *Registry) Left(p peer.ID) bool {
	r.mu.Lock()
	if !r.current.Contains(p) {
		r.mu.Unlock()
		return false
	}
	r.current = r.current.without(p)
	r.publishLocked()
	return true
}

// publishLocked releases r.mu and hands the current snapshot to every watcher.
func (r *Registry) publishLocked() {
	snap := r.current
	handles := make([]*WatchHandle, 0, len(r.watchers))
	for _, h := range r.watchers {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.deliver(snap)
	}
}

// Watch registers w. It is invoked once with the current snapshot before Watch
// returns and again after every subsequent change, until the handle is closed.
func (r *Registry) Watch(w Watcher) *WatchHandle {
	r.mu.Lock()
	r.nextID++
	h := &WatchHandle{id: r.nextID, registry: r, watcher: w}
	r.watchers[h.id] = h
	snap := r.current
	r.mu.Unlock()

	h.deliver(snap)
	return h
}

// Watchers returns the number of registered watchers.
func (r *Registry) Watchers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.watchers, id)
	r.mu.Unlock()
}

// WatchHandle unregisters a watcher when closed.
type WatchHandle struct {
	id       uint64
	registry *Registry
	watcher  Watcher
	gate     gate.Gate

	// last is only accessed inside the gate.
	last    uint64
	started bool
}

// deliver hands snap to the watcher unless it has already seen a newer one.
func (h *WatchHandle) deliver(snap Snapshot) {
	h.gate.Do(func() {
		if h.started && snap.Version <= h.last {
			return
		}
		h.started = true
		h.last = snap.Version
		h.watcher(snap)
	})
}

// Close unregisters the watcher. After Close returns the watcher is not invoked
// again. It may be called from inside the watcher.
func (h *WatchHandle) Close() {
	h.registry.remove(h.id)
	h.gate.Close()
}
