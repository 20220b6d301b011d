package gate_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/n6x/watchdog/internal/gate"
	"github.com/stretchr/testify/assert"
)

func TestGate(t *testing.T) {
	t.Run("runs until closed", func(t *testing.T) {
		var g gate.Gate
		calls := 0
		assert.True(t, g.Do(func() { calls++ }))
		g.Close()
		assert.False(t, g.Do(func() { calls++ }))
		assert.Equal(t, 1, calls)
		assert.True(t, g.Closed())
	})

	t.Run("close from inside callback", func(t *testing.T) {
		var g gate.Gate
		done := make(chan struct{})
		go func() {
			defer close(done)
			g.Do(func() { g.Close() })
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("close inside callback deadlocked")
		}
		assert.False(t, g.Do(func() { t.Fatal("ran after close") }))
	})

	t.Run("close waits for a callback running elsewhere", func(t *testing.T) {
		var g gate.Gate
		started, release := make(chan struct{}), make(chan struct{})
		var finished atomic.Bool
		go g.Do(func() {
			close(started)
			<-release
			finished.Store(true)
		})
		<-started

		closed := make(chan bool)
		go func() {
			g.Close()
			closed <- finished.Load()
		}()
		select {
		case <-closed:
			t.Fatal("Close returned while the callback was running")
		case <-time.After(50 * time.Millisecond):
		}
		close(release)
		select {
		case done := <-closed:
			assert.True(t, done, "callback finished before Close returned")
		case <-time.After(time.Second):
			t.Fatal("Close did not return after the callback finished")
		}
	})

	t.Run("second close waits too", func(t *testing.T) {
		var g gate.Gate
		started, release := make(chan struct{}), make(chan struct{})
		var finished atomic.Bool
		go g.Do(func() {
			g.Close()
			close(started)
			<-release
			finished.Store(true)
		})
		<-started

		closed := make(chan bool)
		go func() {
			g.Close()
			closed <- finished.Load()
		}()
		time.Sleep(20 * time.Millisecond)
		close(release)
		assert.True(t, <-closed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		var g gate.Gate
		g.Close()
		g.Close()
		assert.True(t, g.Closed())
	})
}

func TestGateNoCallbackRunsAfterClose(t *testing.T) {
	for round := 0; round < 200; round++ {
		var g gate.Gate
		var closed atomic.Bool
		var violations atomic.Int32

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					g.Do(func() {
						time.Sleep(time.Microsecond)
						if closed.Load() {
							violations.Add(1)
						}
					})
				}
			}()
		}
		g.Close()
		closed.Store(true)
		wg.Wait()
		assert.Zero(t, violations.Load())
	}
}
