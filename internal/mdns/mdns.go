// Package mdns announces this peer on the local network and browses for
// others, reporting joins and departures to the watchdog.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/mdns"
	"github.com/n6x/watchdog/internal/peer"
	"go.uber.org/zap"
)

const (
	idPrefix      = "id="
	versionPrefix = "version="

	maxQueryTimeout      = 5 * time.Second
	defaultQueryInterval = 10 * time.Second
)

var ErrPortUnknown = errors.New("mdns port unknown")

// Sink receives membership changes.
type Sink interface {
	PeerJoined(peer.ID)
	PeerLeft(peer.ID)
}

// AddrBook records where discovered peers can be dialed.
type AddrBook interface {
	SetAddr(p peer.ID, addr string)
	RemoveAddr(p peer.ID)
}

type Config struct {
	Service       string
	Domain        string
	Port          int
	Version       string
	Interface     string
	QueryInterval time.Duration
	// TTL is how long a peer stays known without answering a query.
	TTL time.Duration
}

type Option func(*Discoverer)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Discoverer) {
		d.logger = logger
	}
}

func WithClock(c clock.Clock) Option {
	return func(d *Discoverer) {
		d.clock = c
	}
}

func WithAddrBook(b AddrBook) Option {
	return func(d *Discoverer) {
		d.addrs = b
	}
}

type entry struct {
	addr     string
	lastSeen time.Time
}

// Discoverer announces self under cfg.Service and queries for other
// announcements every cfg.QueryInterval.
type Discoverer struct {
	cfg   Config
	self  peer.ID
	sink  Sink
	addrs AddrBook
	clock clock.Clock

	mu    sync.Mutex
	peers map[peer.ID]entry

	server *mdns.Server
	logger *zap.Logger
}

func New(cfg Config, self peer.ID, sink Sink, opts ...Option) *Discoverer {
	d := &Discoverer{
		cfg:    cfg,
		self:   self,
		sink:   sink,
		clock:  clock.New(),
		peers:  make(map[peer.ID]entry),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.QueryInterval <= 0 {
		d.cfg.QueryInterval = defaultQueryInterval
	}
	d.logger = d.logger.With(zap.String("component", "mdns"))
	return d
}

// Run announces and browses until ctx is cancelled.
func (d *Discoverer) Run(ctx context.Context) error {
	if err := d.announce(); err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			d.logger.Warn("shutting down mdns server", zap.Error(err))
		}
	}()

	ticker := d.clock.Ticker(d.cfg.QueryInterval)
	defer ticker.Stop()

	d.query()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.query()
			d.expire()
		}
	}
}

// Close stops announcing. Known peers are not reported as left.
func (d *Discoverer) Close() error {
	d.mu.Lock()
	server := d.server
	d.server = nil
	d.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown()
}

// Known returns the number of peers currently tracked.
func (d *Discoverer) Known() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}

func (d *Discoverer) announce() error {
	if d.cfg.Port <= 0 {
		return ErrPortUnknown
	}
	txt := []string{idPrefix + d.self.String()}
	if d.cfg.Version != "" {
		txt = append(txt, versionPrefix+d.cfg.Version)
	}
	service, err := mdns.NewMDNSService(
		fmt.Sprintf("watchdog-%s", d.self.Short()),
		d.cfg.Service,
		d.cfg.Domain,
		"",
		d.cfg.Port,
		nil,
		txt,
	)
	if err != nil {
		return fmt.Errorf("creating mdns service: %w", err)
	}
	serverConfig := &mdns.Config{Zone: service}
	if iface := d.iface(); iface != nil {
		serverConfig.Iface = iface
	}
	server, err := mdns.NewServer(serverConfig)
	if err != nil {
		return fmt.Errorf("starting mdns server: %w", err)
	}
	d.mu.Lock()
	d.server = server
	d.mu.Unlock()
	d.logger.Info("announcing",
		zap.String("service", d.cfg.Service),
		zap.String("domain", d.cfg.Domain),
		zap.Int("port", d.cfg.Port))
	return nil
}

// query blocks until the mdns query times out.
func (d *Discoverer) query() {
	timeout := d.cfg.QueryInterval / 2
	if timeout <= 0 || timeout > maxQueryTimeout {
		timeout = maxQueryTimeout
	}
	entries := make(chan *mdns.ServiceEntry, 16)
	params := &mdns.QueryParam{
		Service:             d.cfg.Service,
		Domain:              d.cfg.Domain,
		Timeout:             timeout,
		Interface:           d.iface(),
		Entries:             entries,
		WantUnicastResponse: true,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			d.handleEntry(e)
		}
	}()
	if err := mdns.Query(params); err != nil {
		d.logger.Debug("mdns query failed", zap.Error(err))
	}
	close(entries)
	<-done
}

// handleEntry records an answer. New peers are reported to the sink after
// the address book knows how to reach them.
func (d *Discoverer) handleEntry(e *mdns.ServiceEntry) {
	if e == nil {
		return
	}
	var id peer.ID
	for _, txt := range e.InfoFields {
		if !strings.HasPrefix(txt, idPrefix) {
			continue
		}
		parsed, err := peer.FromString(strings.TrimPrefix(txt, idPrefix))
		if err != nil {
			d.logger.Debug("ignoring entry with bad id", zap.String("name", e.Name), zap.Error(err))
			return
		}
		id = parsed
	}
	if id.IsZero() || id == d.self {
		return
	}
	addr := entryAddr(e)
	if addr == "" {
		d.logger.Debug("ignoring entry without address", zap.Stringer("peer", id))
		return
	}

	d.mu.Lock()
	old, known := d.peers[id]
	d.peers[id] = entry{addr: addr, lastSeen: d.clock.Now()}
	d.mu.Unlock()

	if d.addrs != nil && (!known || old.addr != addr) {
		d.addrs.SetAddr(id, addr)
	}
	if !known {
		d.logger.Debug("discovered", zap.Stringer("peer", id), zap.String("address", addr))
		d.sink.PeerJoined(id)
	}
}

// expire forgets peers not seen within the TTL.
func (d *Discoverer) expire() {
	if d.cfg.TTL <= 0 {
		return
	}
	now := d.clock.Now()
	var gone []peer.ID
	d.mu.Lock()
	for id, e := range d.peers {
		if now.Sub(e.lastSeen) > d.cfg.TTL {
			gone = append(gone, id)
			delete(d.peers, id)
		}
	}
	d.mu.Unlock()

	for _, id := range gone {
		d.logger.Debug("expired", zap.Stringer("peer", id))
		if d.addrs != nil {
			d.addrs.RemoveAddr(id)
		}
		d.sink.PeerLeft(id)
	}
}

func (d *Discoverer) iface() *net.Interface {
	if d.cfg.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(d.cfg.Interface)
	if err != nil {
		d.logger.Warn("interface not found", zap.String("interface", d.cfg.Interface), zap.Error(err))
		return nil
	}
	return iface
}

func entryAddr(e *mdns.ServiceEntry) string {
	switch {
	case e.AddrV4 != nil:
		return net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port))
	case e.AddrV6 != nil:
		return net.JoinHostPort(e.AddrV6.String(), fmt.Sprint(e.Port))
	default:
		return ""
	}
}
