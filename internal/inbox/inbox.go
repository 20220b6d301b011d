// Package inbox implements the per-peer FIFO buffer of pending messages.
package inbox

import (
	"errors"
	"sync"

	"github.com/n6x/watchdog/internal/peer"
)

var (
	ErrFull   = errors.New("inbox is full")
	ErrClosed = errors.New("inbox is closed")
)

// Inbox is a FIFO queue of messages from a single peer. Push and TryPop never
// block and are safe for concurrent use by any number of producers and consumers.
type Inbox struct {
	mu       sync.Mutex
	queue    []peer.Message
	head     int
	capacity int
	closed   bool
}

type Option func(*Inbox)

// WithCapacity bounds the inbox. Pushes beyond n pending messages are rejected
// with ErrFull. Zero or negative values leave the inbox unbounded.
func WithCapacity(n int) Option {
	return func(i *Inbox) {
		if n > 0 {
			i.capacity = n
		}
	}
}

func New(opts ...Option) *Inbox {
	i := &Inbox{}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Push appends msg to the tail and reports whether the inbox went from empty
// to non-empty. A closed inbox rejects every push with ErrClosed.
func (i *Inbox) Push(msg peer.Message) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return false, ErrClosed
	}
	n := len(i.queue) - i.head
	if i.capacity > 0 && n >= i.capacity {
		return false, ErrFull
	}
	i.queue = append(i.queue, msg)
	return n == 0, nil
}

// TryPop removes and returns the oldest message. The boolean is false when
// nothing is pending.
func (i *Inbox) TryPop() (peer.Message, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.head == len(i.queue) {
		return peer.Message{}, false
	}
	msg := i.queue[i.head]
	i.queue[i.head] = peer.Message{}
	i.head++

	// Reclaim the backing array once it is drained or mostly consumed.
	switch {
	case i.head == len(i.queue):
		i.queue = i.queue[:0]
		i.head = 0
	case i.head > 32 && i.head*2 >= len(i.queue):
		i.queue = append(i.queue[:0], i.queue[i.head:]...)
		i.head = 0
	}
	return msg, true
}

func (i *Inbox) IsEmpty() bool {
	return i.Len() == 0
}

// Len returns the number of pending messages.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.queue) - i.head
}

// Close discards every pending message, rejects later pushes and returns how
// many messages were dropped.
func (i *Inbox) Close() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := len(i.queue) - i.head
	i.queue = nil
	i.head = 0
	i.closed = true
	return n
}
