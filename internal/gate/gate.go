// Package gate serializes invocations of a registered callback and supports
// cancellation that no later invocation can outrun.
package gate

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Gate guards a single callback. Do invocations are serialized. Once Close has
// returned no invocation is running and none will start.
//
// Close may be called from inside the guarded callback. It then returns
// without waiting for the invocation that called it; the callback is not
// invoked again once it returns.
type Gate struct {
	mu     sync.Mutex
	closed atomic.Bool
	// owner is the id of the goroutine running fn, zero when idle.
	owner atomic.Int64
}

// Do runs fn unless the gate is closed and reports whether it ran.
func (g *Gate) Do(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return false
	}
	g.owner.Store(goroutineID())
	defer g.owner.Store(0)
	fn()
	return true
}

// Close shuts the gate and waits for an invocation running on another
// goroutine to finish.
func (g *Gate) Close() {
	g.closed.Store(true)
	if g.owner.Load() == goroutineID() {
		return
	}
	g.mu.Lock()
	//nolint:staticcheck
	g.mu.Unlock()
}

func (g *Gate) Closed() bool {
	return g.closed.Load()
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the id from the "goroutine N [running]:" stack header.
func goroutineID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
