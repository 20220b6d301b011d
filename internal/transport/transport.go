// Package transport carries watchdog payloads between peers over websockets.
// Every peer runs a small HTTP server accepting connections on /peer and dials
// the others on demand; outbound connections are cached and reused.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/n6x/watchdog/internal/conn"
	"github.com/n6x/watchdog/internal/peer"
	"github.com/n6x/watchdog/internal/semver"
	"github.com/n6x/watchdog/protocol/wire"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"nhooyr.io/websocket"
)

const (
	DEFAULT_MAX_CONNS    = 64
	DEFAULT_DIAL_TIMEOUT = 5 * time.Second
)

var (
	// ErrNoRoute is returned when no address is known for the target peer.
	ErrNoRoute = errors.New("no route to peer")
	// ErrIncompatible is returned when the remote peer speaks another major version.
	ErrIncompatible = errors.New("incompatible peer version")
	// ErrPeerMismatch is returned when the remote peer answers with another ID
	// than the one dialed.
	ErrPeerMismatch = errors.New("peer answered with unexpected id")
	// ErrClosed is returned by SendBytes after Close.
	ErrClosed = errors.New("transport closed")
)

// Deliverer receives inbound payloads.
type Deliverer interface {
	Deliver(payload []byte, source peer.ID) error
}

type Option func(*Transport)

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithMaxConns bounds the number of cached outbound connections. The least
// recently used connection is closed when the bound is exceeded.
func WithMaxConns(n int) Option {
	return func(t *Transport) {
		t.maxConns = n
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.dialTimeout = d
	}
}

// WithMetricsHandler exposes h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(t *Transport) {
		t.metricsHandler = h
	}
}

// Transport implements watchdog.Transport.
type Transport struct {
	self    peer.ID
	version semver.Version
	inbound Deliverer

	addrsMu sync.RWMutex
	addrs   map[peer.ID]string

	outbound *lru.Cache[peer.ID, *outbound]
	dials    singleflight.Group

	closeMu sync.Mutex
	closed  chan struct{}

	maxConns       int
	dialTimeout    time.Duration
	metricsHandler http.Handler
	logger         *zap.Logger
}

// New returns a transport identifying itself as self. Inbound payloads are
// handed to inbound.
func New(self peer.ID, version semver.Version, inbound Deliverer, opts ...Option) (*Transport, error) {
	t := &Transport{
		self:        self,
		version:     version,
		inbound:     inbound,
		addrs:       make(map[peer.ID]string),
		closed:      make(chan struct{}),
		maxConns:    DEFAULT_MAX_CONNS,
		dialTimeout: DEFAULT_DIAL_TIMEOUT,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "transport"))

	cache, err := lru.NewWithEvict(t.maxConns, func(id peer.ID, ob *outbound) {
		go ob.close("evicted")
	})
	if err != nil {
		return nil, fmt.Errorf("creating connection cache: %w", err)
	}
	t.outbound = cache
	return t, nil
}

// ------------------------------------------------------ Address book -------------------------------------------------

// SetAddr records host:port as the address of p. A changed address drops the
// cached connection so the next send dials the new one.
func (t *Transport) SetAddr(p peer.ID, addr string) {
	t.addrsMu.Lock()
	old, ok := t.addrs[p]
	t.addrs[p] = addr
	t.addrsMu.Unlock()
	if ok && old != addr {
		t.outbound.Remove(p)
	}
}

// RemoveAddr forgets p and closes any connection to it.
func (t *Transport) RemoveAddr(p peer.ID) {
	t.addrsMu.Lock()
	delete(t.addrs, p)
	t.addrsMu.Unlock()
	t.outbound.Remove(p)
}

// Addr returns the known address of p.
func (t *Transport) Addr(p peer.ID) (string, bool) {
	t.addrsMu.RLock()
	defer t.addrsMu.RUnlock()
	addr, ok := t.addrs[p]
	return addr, ok
}

// ------------------------------------------------------ Outbound -----------------------------------------------------

// SendBytes writes payload to target as a single Data frame, dialing target
// first if no connection is cached.
func (t *Transport) SendBytes(ctx context.Context, payload []byte, target peer.ID) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}
	ob, err := t.connection(ctx, target)
	if err != nil {
		return err
	}
	if err := ob.send(ctx, payload); err != nil {
		if cur, ok := t.outbound.Peek(target); ok && cur == ob {
			t.outbound.Remove(target)
		}
		return fmt.Errorf("writing to %s: %w", target, err)
	}
	return nil
}

// Conns returns the number of cached outbound connections.
func (t *Transport) Conns() int {
	return t.outbound.Len()
}

// connection returns the cached connection to target or dials one. Concurrent
// callers share a single dial, which is not tied to any one caller's context.
func (t *Transport) connection(ctx context.Context, target peer.ID) (*outbound, error) {
	if ob, ok := t.outbound.Get(target); ok {
		return ob, nil
	}
	res := t.dials.DoChan(target.String(), func() (any, error) {
		if ob, ok := t.outbound.Get(target); ok {
			return ob, nil
		}
		ob, err := t.dial(context.Background(), target)
		if err != nil {
			return nil, err
		}
		if err := t.store(target, ob); err != nil {
			return nil, err
		}
		return ob, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*outbound), nil
	}
}

// store caches ob unless the transport was closed while it was being dialed.
func (t *Transport) store(target peer.ID, ob *outbound) error {
	t.closeMu.Lock()
	select {
	case <-t.closed:
		t.closeMu.Unlock()
		_ = ob.close("shutting down")
		return ErrClosed
	default:
	}
	t.outbound.Add(target, ob)
	t.closeMu.Unlock()
	return nil
}

// dial connects to target and performs the Hello/Welcome handshake within the
// dial timeout.
func (t *Transport) dial(ctx context.Context, target peer.ID) (*outbound, error) {
	addr, ok := t.Addr(target)
	if !ok {
		return nil, fmt.Errorf("dialing %s: %w", target, ErrNoRoute)
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	wsConn, _, err := websocket.Dial(dialCtx, peerURL(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s at %s: %w", target, addr, err)
	}
	ws := &conn.WS{Conn: wsConn}
	pc := conn.Peer{Conn: ws}

	err = pc.WriteMsg(dialCtx, wire.Msg{
		Type:    wire.Hello,
		Payload: wire.Payload{ID: t.self.String(), Version: t.version.String()},
	})
	if err != nil {
		_ = ws.Close("handshake failed")
		return nil, fmt.Errorf("greeting %s: %w", target, err)
	}
	msg, err := pc.ReadMsg(dialCtx, wire.Welcome)
	if err != nil {
		_ = ws.Close("handshake failed")
		return nil, fmt.Errorf("handshake with %s: %w", target, err)
	}
	if msg.Payload.ID != target.String() {
		_ = ws.Close("unexpected peer")
		return nil, fmt.Errorf("handshake with %s: %w: %q", target, ErrPeerMismatch, msg.Payload.ID)
	}
	remote, err := semver.Parse(msg.Payload.Version)
	if err != nil || !t.version.Compatible(remote) {
		_ = ws.Close("incompatible version")
		return nil, fmt.Errorf("handshake with %s (%s): %w", target, msg.Payload.Version, ErrIncompatible)
	}

	// Nothing is read after the handshake; CloseRead keeps control frames flowing.
	wsConn.CloseRead(context.Background())
	t.logger.Debug("connected", zap.Stringer("peer", target), zap.String("address", addr))
	return &outbound{peer: pc, ws: ws}, nil
}

// Close closes every cached outbound connection. The HTTP server is stopped by
// cancelling the context given to ListenAndServe.
func (t *Transport) Close() error {
	t.closeMu.Lock()
	select {
	case <-t.closed:
		t.closeMu.Unlock()
		return nil
	default:
		close(t.closed)
	}
	t.closeMu.Unlock()

	var err error
	for _, id := range t.outbound.Keys() {
		ob, ok := t.outbound.Peek(id)
		if !ok {
			continue
		}
		err = multierr.Append(err, ob.close("shutting down"))
	}
	t.outbound.Purge()
	return err
}

// ------------------------------------------------------ Helpers ------------------------------------------------------

type outbound struct {
	mu   sync.Mutex
	peer conn.Peer
	ws   *conn.WS
	once sync.Once
}

// send serializes writers; a websocket allows one concurrent writer.
func (o *outbound) send(ctx context.Context, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peer.WriteMsg(ctx, wire.Msg{Type: wire.Data, Payload: wire.Payload{Data: payload}})
}

func (o *outbound) close(reason string) error {
	var err error
	o.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		o.mu.Lock()
		_ = o.peer.WriteMsg(ctx, wire.Msg{Type: wire.Bye})
		o.mu.Unlock()
		err = o.ws.Close(reason)
	})
	return err
}

func peerURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return strings.TrimSuffix(addr, "/") + "/peer"
	}
	return fmt.Sprintf("ws://%s/peer", addr)
}
