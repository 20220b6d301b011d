package inbox_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/n6x/watchdog/internal/inbox"
	"github.com/n6x/watchdog/internal/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = peer.MustFromString("alice")

func msg(s string) peer.Message {
	return peer.NewMessage(alice, []byte(s))
}

func TestInbox(t *testing.T) {
	t.Run("pop on empty", func(t *testing.T) {
		i := inbox.New()
		_, ok := i.TryPop()
		assert.False(t, ok)
		assert.True(t, i.IsEmpty())
	})

	t.Run("fifo", func(t *testing.T) {
		i := inbox.New()
		for n := 0; n < 100; n++ {
			_, err := i.Push(msg(fmt.Sprint(n)))
			require.NoError(t, err)
		}
		assert.Equal(t, 100, i.Len())
		for n := 0; n < 100; n++ {
			m, ok := i.TryPop()
			require.True(t, ok)
			assert.Equal(t, fmt.Sprint(n), string(m.Payload))
		}
		_, ok := i.TryPop()
		assert.False(t, ok)
	})

	t.Run("edge trigger", func(t *testing.T) {
		i := inbox.New()
		became, _ := i.Push(msg("a"))
		assert.True(t, became)
		became, _ = i.Push(msg("b"))
		assert.False(t, became)

		i.TryPop()
		became, _ = i.Push(msg("c"))
		assert.False(t, became, "inbox still held b")

		i.TryPop()
		i.TryPop()
		became, _ = i.Push(msg("d"))
		assert.True(t, became)
	})

	t.Run("interleaved push and pop keeps order", func(t *testing.T) {
		i := inbox.New()
		var got []string
		next := 0
		for round := 0; round < 50; round++ {
			for k := 0; k < 3; k++ {
				i.Push(msg(fmt.Sprint(next)))
				next++
			}
			m, ok := i.TryPop()
			require.True(t, ok)
			got = append(got, string(m.Payload))
		}
		for {
			m, ok := i.TryPop()
			if !ok {
				break
			}
			got = append(got, string(m.Payload))
		}
		require.Len(t, got, next)
		for n, s := range got {
			assert.Equal(t, fmt.Sprint(n), s)
		}
	})

	t.Run("capacity", func(t *testing.T) {
		i := inbox.New(inbox.WithCapacity(2))
		_, err := i.Push(msg("a"))
		assert.NoError(t, err)
		_, err = i.Push(msg("b"))
		assert.NoError(t, err)
		_, err = i.Push(msg("c"))
		assert.ErrorIs(t, err, inbox.ErrFull)

		m, _ := i.TryPop()
		assert.Equal(t, "a", string(m.Payload))
		_, err = i.Push(msg("c"))
		assert.NoError(t, err)
	})

	t.Run("close", func(t *testing.T) {
		i := inbox.New()
		i.Push(msg("a"))
		i.Push(msg("b"))
		assert.Equal(t, 2, i.Close())
		assert.True(t, i.IsEmpty())

		became, err := i.Push(msg("c"))
		assert.ErrorIs(t, err, inbox.ErrClosed)
		assert.False(t, became)
		assert.True(t, i.IsEmpty())
		assert.Zero(t, i.Close())
	})
}

func TestInboxConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 500
	i := inbox.New()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < perProducer; n++ {
				i.Push(peer.NewMessage(alice, []byte(fmt.Sprintf("%d:%d", p, n))))
			}
		}()
	}

	// Each producer's own messages must come out in the order it pushed them.
	last := make(map[int]int)
	total := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	drain := func() {
		for {
			m, ok := i.TryPop()
			if !ok {
				return
			}
			var p, n int
			_, err := fmt.Sscanf(string(m.Payload), "%d:%d", &p, &n)
			require.NoError(t, err)
			if prev, seen := last[p]; seen {
				assert.Greater(t, n, prev)
			}
			last[p] = n
			total++
		}
	}
	for {
		select {
		case <-done:
			drain()
			assert.Equal(t, producers*perProducer, total)
			return
		default:
			drain()
		}
	}
}
