package mdns

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/mdns"
	"github.com/n6x/watchdog/internal/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	addrs  map[peer.ID]string
}

func newRecorder() *recorder {
	return &recorder{addrs: make(map[peer.ID]string)}
}

func (r *recorder) PeerJoined(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "joined "+p.String())
}

func (r *recorder) PeerLeft(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "left "+p.String())
}

func (r *recorder) SetAddr(p peer.ID, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[p] = addr
}

func (r *recorder) RemoveAddr(p peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrs, p)
}

func newTestDiscoverer(t *testing.T, self peer.ID) (*Discoverer, *recorder, *clock.Mock) {
	rec := newRecorder()
	mock := clock.NewMock()
	cfg := Config{Service: "_watchdog._tcp", Domain: "local.", Port: 7117, QueryInterval: 10 * time.Second, TTL: 30 * time.Second}
	d := New(cfg, self, rec, WithAddrBook(rec), WithClock(mock), WithLogger(zaptest.NewLogger(t)))
	return d, rec, mock
}

func serviceEntry(id string, ip string, port int) *mdns.ServiceEntry {
	return &mdns.ServiceEntry{
		Name:       "watchdog-test._watchdog._tcp.local.",
		AddrV4:     net.ParseIP(ip).To4(),
		Port:       port,
		InfoFields: []string{idPrefix + id, versionPrefix + "v1.0.0"},
	}
}

func TestHandleEntry(t *testing.T) {
	self := peer.New()

	t.Run("new peer joins once", func(t *testing.T) {
		d, rec, _ := newTestDiscoverer(t, self)
		p := peer.New()
		d.handleEntry(serviceEntry(p.String(), "192.168.1.20", 7117))
		d.handleEntry(serviceEntry(p.String(), "192.168.1.20", 7117))

		assert.Equal(t, []string{"joined " + p.String()}, rec.events)
		assert.Equal(t, "192.168.1.20:7117", rec.addrs[p])
		assert.Equal(t, 1, d.Known())
	})

	t.Run("address change updates the book", func(t *testing.T) {
		d, rec, _ := newTestDiscoverer(t, self)
		p := peer.New()
		d.handleEntry(serviceEntry(p.String(), "192.168.1.20", 7117))
		d.handleEntry(serviceEntry(p.String(), "192.168.1.21", 7118))

		assert.Len(t, rec.events, 1)
		assert.Equal(t, "192.168.1.21:7118", rec.addrs[p])
	})

	t.Run("ignored entries", func(t *testing.T) {
		d, rec, _ := newTestDiscoverer(t, self)
		d.handleEntry(nil)
		d.handleEntry(serviceEntry(self.String(), "192.168.1.20", 7117))
		d.handleEntry(&mdns.ServiceEntry{AddrV4: net.ParseIP("192.168.1.20").To4(), Port: 1})
		d.handleEntry(&mdns.ServiceEntry{InfoFields: []string{idPrefix + peer.New().String()}, Port: 1})
		d.handleEntry(serviceEntry(" ", "192.168.1.20", 7117))

		assert.Empty(t, rec.events)
		assert.Equal(t, 0, d.Known())
	})

	t.Run("ipv6 address", func(t *testing.T) {
		d, rec, _ := newTestDiscoverer(t, self)
		p := peer.New()
		d.handleEntry(&mdns.ServiceEntry{AddrV6: net.ParseIP("fe80::1"), Port: 7117, InfoFields: []string{idPrefix + p.String()}})
		assert.Equal(t, "[fe80::1]:7117", rec.addrs[p])
	})
}

func TestExpire(t *testing.T) {
	d, rec, mock := newTestDiscoverer(t, peer.New())
	stale, fresh := peer.New(), peer.New()

	d.handleEntry(serviceEntry(stale.String(), "192.168.1.20", 7117))
	mock.Add(20 * time.Second)
	d.handleEntry(serviceEntry(fresh.String(), "192.168.1.21", 7117))

	mock.Add(15 * time.Second)
	d.expire()

	require.Equal(t, []string{
		"joined " + stale.String(),
		"joined " + fresh.String(),
		"left " + stale.String(),
	}, rec.events)
	assert.NotContains(t, rec.addrs, stale)
	assert.Contains(t, rec.addrs, fresh)
	assert.Equal(t, 1, d.Known())

	t.Run("rejoins after expiry", func(t *testing.T) {
		d.handleEntry(serviceEntry(stale.String(), "192.168.1.20", 7117))
		assert.Equal(t, "joined "+stale.String(), rec.events[len(rec.events)-1])
	})
}

func TestRunWithoutPort(t *testing.T) {
	d := New(Config{}, peer.New(), newRecorder())
	assert.ErrorIs(t, d.Run(context.Background()), ErrPortUnknown)
	assert.NoError(t, d.Close())
}
