// Package watchdog buffers messages from peers, tells consumers when they
// arrive and when the set of known peers changes, and hands outbound messages
// to a transport.
//
// Inbound transports call Deliver, PeerJoined and PeerLeft. Consumers call
// Listen and then drain with TryReceive until it reports nothing pending; a
// listener fires once each time a peer's inbox goes from empty to non-empty.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/n6x/watchdog/internal/discovery"
	"github.com/n6x/watchdog/internal/inbox"
	"github.com/n6x/watchdog/internal/listener"
	"github.com/n6x/watchdog/internal/metrics"
	"github.com/n6x/watchdog/internal/peer"
	"go.uber.org/zap"
)

// Transport carries outbound payloads to peers.
type Transport interface {
	SendBytes(ctx context.Context, payload []byte, target peer.ID) error
}

// Watchdog is safe for concurrent use. None of Deliver, TryReceive, Listen or
// StopListening block waiting on another peer.
type Watchdog struct {
	inboxes   sync.Map // peer.ID -> *inbox.Inbox
	inboxOpts []inbox.Option
	listeners *listener.Registry
	discovery *discovery.Registry

	transportMu sync.RWMutex
	transport   Transport

	logger          *zap.Logger
	metrics         *metrics.Metrics
	dispatch        func(func())
	checkMembership bool
}

func New(opts ...Option) *Watchdog {
	w := &Watchdog{
		listeners:       listener.NewRegistry(),
		discovery:       discovery.NewRegistry(),
		logger:          zap.NewNop(),
		dispatch:        func(f func()) { go f() },
		checkMembership: true,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "watchdog"))
	return w
}

// ------------------------------------------------------ Outbound -----------------------------------------------------

// AttachTransport replaces the outbound transport.
func (w *Watchdog) AttachTransport(t Transport) {
	w.transportMu.Lock()
	w.transport = t
	w.transportMu.Unlock()
}

// DetachTransport removes the outbound transport; subsequent sends fail with
// ErrTransportUnavailable.
func (w *Watchdog) DetachTransport() {
	w.AttachTransport(nil)
}

// Send hands payload to the transport for delivery to target. Nothing is
// buffered: the result of the transport is returned to the caller.
func (w *Watchdog) Send(ctx context.Context, payload []byte, target peer.ID) error {
	w.transportMu.RLock()
	t := w.transport
	w.transportMu.RUnlock()

	if t == nil {
		w.metrics.SendFailed(metrics.ReasonNoTransport)
		return ErrTransportUnavailable
	}
	if w.checkMembership && !w.discovery.Current().Contains(target) {
		w.metrics.SendFailed(metrics.ReasonUnknownPeer)
		return fmt.Errorf("sending to %s: %w", target, ErrUnknownPeer)
	}
	if err := t.SendBytes(ctx, payload, target); err != nil {
		w.metrics.SendFailed(metrics.ReasonTransport)
		w.logger.Warn("transport send failed", zap.Stringer("peer", target), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	w.metrics.Sent()
	return nil
}

// ------------------------------------------------------ Inbound ------------------------------------------------------

// Deliver queues payload as a message from source and wakes the listener for
// source if its inbox was empty. It only fails when a bounded inbox is full.
func (w *Watchdog) Deliver(payload []byte, source peer.ID) error {
	msg := peer.NewMessage(source, payload)
	for {
		became, err := w.inboxFor(source).Push(msg)
		if errors.Is(err, inbox.ErrClosed) {
			// PeerLeft closed the inbox after we looked it up; use a fresh one.
			continue
		}
		if err != nil {
			w.metrics.Dropped(1)
			w.logger.Warn("dropping message", zap.Stringer("peer", source), zap.Error(err))
			return fmt.Errorf("delivering from %s: %w", source, err)
		}
		w.metrics.Delivered()
		if became {
			w.notify(source)
		}
		return nil
	}
}

// TryReceive removes and returns the oldest pending payload from source. The
// boolean is false when nothing is pending, including for peers never heard from.
func (w *Watchdog) TryReceive(source peer.ID) ([]byte, bool) {
	v, ok := w.inboxes.Load(source)
	if !ok {
		return nil, false
	}
	msg, ok := v.(*inbox.Inbox).TryPop()
	if !ok {
		return nil, false
	}
	if msg.Sender != source {
		w.logger.DPanic("inbox holds a message from another peer",
			zap.Stringer("inbox", source), zap.Stringer("sender", msg.Sender))
		return nil, false
	}
	w.metrics.Received()
	return msg.Payload, true
}

// Pending returns the number of messages waiting from source.
func (w *Watchdog) Pending(source peer.ID) int {
	v, ok := w.inboxes.Load(source)
	if !ok {
		return 0
	}
	return v.(*inbox.Inbox).Len()
}

// Listen registers cb as the only listener for target, replacing any previous
// one. If messages are already pending cb is invoked once straight away.
func (w *Watchdog) Listen(target peer.ID, cb func(peer.ID)) error {
	if w.checkMembership && !w.discovery.Current().Contains(target) {
		return fmt.Errorf("listening to %s: %w", target, ErrUnknownPeer)
	}
	in := w.inboxFor(target)
	if w.listeners.Set(target, cb) {
		w.logger.Debug("replaced listener", zap.Stringer("peer", target))
	}
	if !in.IsEmpty() {
		w.notify(target)
	}
	return nil
}

// StopListening removes the listener for target. Once it returns the removed
// listener is not invoked again. Calling it without a listener is harmless.
func (w *Watchdog) StopListening(target peer.ID) {
	if !w.listeners.Clear(target) {
		w.logger.Debug("stop listening without a listener", zap.Stringer("peer", target))
	}
}

// ------------------------------------------------------ Discovery ----------------------------------------------------

// WatchDiscovery registers a watcher for the peer set. It is invoked with the
// current snapshot before WatchDiscovery returns.
func (w *Watchdog) WatchDiscovery(cb discovery.Watcher) *discovery.WatchHandle {
	return w.discovery.Watch(cb)
}

// Peers returns the current discovery snapshot.
func (w *Watchdog) Peers() discovery.Snapshot {
	return w.discovery.Current()
}

// PeerJoined records that p has been discovered.
func (w *Watchdog) PeerJoined(p peer.ID) {
	if !w.discovery.Joined(p) {
		return
	}
	w.metrics.PeersKnown(w.discovery.Current().Len())
	w.logger.Info("peer joined", zap.Stringer("peer", p))
}

// PeerLeft forgets p. Its pending messages are discarded and its listener removed.
func (w *Watchdog) PeerLeft(p peer.ID) {
	if !w.discovery.Left(p) {
		return
	}
	w.listeners.Clear(p)
	dropped := 0
	if v, ok := w.inboxes.LoadAndDelete(p); ok {
		dropped = v.(*inbox.Inbox).Close()
	}
	w.metrics.Discarded(dropped)
	w.metrics.PeersKnown(w.discovery.Current().Len())
	w.logger.Info("peer left", zap.Stringer("peer", p), zap.Int("discarded", dropped))
}

// ------------------------------------------------------ Helpers ------------------------------------------------------

func (w *Watchdog) inboxFor(p peer.ID) *inbox.Inbox {
	if v, ok := w.inboxes.Load(p); ok {
		return v.(*inbox.Inbox)
	}
	v, _ := w.inboxes.LoadOrStore(p, inbox.New(w.inboxOpts...))
	return v.(*inbox.Inbox)
}

func (w *Watchdog) notify(p peer.ID) {
	w.dispatch(func() {
		w.listeners.Notify(p)
	})
}
