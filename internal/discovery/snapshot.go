package discovery

import (
	"golang.org/x/exp/maps"

	"github.com/n6x/watchdog/internal/peer"
)

// Snapshot is an immutable view of the known peers. Every change to the peer
// set produces a new Snapshot with a higher Version.
type Snapshot struct {
	Version uint64
	peers   map[peer.ID]struct{}
}

// Contains reports whether p is known in this snapshot.
func (s Snapshot) Contains(p peer.ID) bool {
	_, ok := s.peers[p]
	return ok
}

func (s Snapshot) Len() int {
	return len(s.peers)
}

// Peers returns the known peers in display order. The slice is a copy.
func (s Snapshot) Peers() []peer.ID {
	ids := maps.Keys(s.peers)
	peer.Sort(ids)
	return ids
}

// with returns a copy of s that additionally contains p.
func (s Snapshot) with(p peer.ID) Snapshot {
	next := make(map[peer.ID]struct{}, len(s.peers)+1)
	for id := range s.peers {
		next[id] = struct{}{}
	}
	next[p] = struct{}{}
	return Snapshot{Version: s.Version + 1, peers: next}
}

// without returns a copy of s that does not contain p.
func (s Snapshot) without(p peer.ID) Snapshot {
	next := make(map[peer.ID]struct{}, len(s.peers))
	for id := range s.peers {
		if id != p {
			next[id] = struct{}{}
		}
	}
	return Snapshot{Version: s.Version + 1, peers: next}
}
