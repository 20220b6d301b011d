package listener_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/n6x/watchdog/internal/listener"
	"github.com/n6x/watchdog/internal/peer"
	"github.com/stretchr/testify/assert"
)

var (
	alice = peer.MustFromString("alice")
	bob   = peer.MustFromString("bob")
)

func TestRegistry(t *testing.T) {
	t.Run("notify without listener", func(t *testing.T) {
		r := listener.NewRegistry()
		assert.False(t, r.Notify(alice))
	})

	t.Run("notify passes the peer", func(t *testing.T) {
		r := listener.NewRegistry()
		var got peer.ID
		r.Set(alice, func(p peer.ID) { got = p })
		assert.True(t, r.Notify(alice))
		assert.Equal(t, alice, got)
	})

	t.Run("replacement", func(t *testing.T) {
		r := listener.NewRegistry()
		var first, second int
		assert.False(t, r.Set(alice, func(peer.ID) { first++ }))
		assert.True(t, r.Set(alice, func(peer.ID) { second++ }))
		r.Notify(alice)
		assert.Zero(t, first)
		assert.Equal(t, 1, second)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("clear", func(t *testing.T) {
		r := listener.NewRegistry()
		calls := 0
		r.Set(alice, func(peer.ID) { calls++ })
		assert.True(t, r.Clear(alice))
		assert.False(t, r.Clear(alice), "clearing twice is benign")
		assert.False(t, r.Notify(alice))
		assert.Zero(t, calls)
		assert.False(t, r.Has(alice))
	})

	t.Run("peers are independent", func(t *testing.T) {
		r := listener.NewRegistry()
		var a, b int
		r.Set(alice, func(peer.ID) { a++ })
		r.Set(bob, func(peer.ID) { b++ })
		r.Clear(alice)
		r.Notify(alice)
		r.Notify(bob)
		assert.Zero(t, a)
		assert.Equal(t, 1, b)
	})

	t.Run("callback may clear itself", func(t *testing.T) {
		r := listener.NewRegistry()
		done := make(chan struct{})
		r.Set(alice, func(p peer.ID) { r.Clear(p) })
		go func() {
			r.Notify(alice)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("self clear deadlocked")
		}
		assert.False(t, r.Has(alice))
	})

	t.Run("callback may replace itself", func(t *testing.T) {
		r := listener.NewRegistry()
		var second atomic.Int32
		r.Set(alice, func(p peer.ID) {
			r.Set(p, func(peer.ID) { second.Add(1) })
		})
		r.Notify(alice)
		r.Notify(alice)
		assert.Equal(t, int32(1), second.Load())
	})
}

func TestRegistryClearRace(t *testing.T) {
	for round := 0; round < 100; round++ {
		r := listener.NewRegistry()
		var cleared atomic.Bool
		var late atomic.Int32
		r.Set(alice, func(peer.ID) {
			time.Sleep(time.Microsecond)
			if cleared.Load() {
				late.Add(1)
			}
		})

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					r.Notify(alice)
				}
			}()
		}
		r.Clear(alice)
		cleared.Store(true)
		wg.Wait()
		assert.Zero(t, late.Load(), "listener body ran after Clear returned")
	}
}

func TestRegistryClearWaitsForRunningCallback(t *testing.T) {
	for _, name := range []string{"clear", "replace"} {
		t.Run(name, func(t *testing.T) {
			r := listener.NewRegistry()
			started, release := make(chan struct{}), make(chan struct{})
			var finished atomic.Bool
			r.Set(alice, func(peer.ID) {
				close(started)
				<-release
				finished.Store(true)
			})
			go r.Notify(alice)
			<-started

			returned := make(chan bool)
			go func() {
				if name == "clear" {
					r.Clear(alice)
				} else {
					r.Set(alice, func(peer.ID) {})
				}
				returned <- finished.Load()
			}()
			select {
			case <-returned:
				t.Fatal("returned while the old callback was running")
			case <-time.After(50 * time.Millisecond):
			}
			close(release)
			select {
			case done := <-returned:
				assert.True(t, done, "old callback finished first")
			case <-time.After(time.Second):
				t.Fatal("did not return after the callback finished")
			}
		})
	}
}
