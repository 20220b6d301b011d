// Package console is a line based consumer of the watchdog: it listens to
// every discovered peer, prints what they send and sends what the user types.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/n6x/watchdog/internal/discovery"
	"github.com/n6x/watchdog/internal/peer"
	"go.uber.org/zap"
)

const usage = `commands:
  /peers              list discovered peers
  @<peer> <message>   send message to the peer whose id starts with <peer>
  /quit               exit
`

var (
	ErrNoSuchPeer    = errors.New("no discovered peer matches")
	ErrAmbiguousPeer = errors.New("more than one discovered peer matches")
)

// Mailbox is the part of the watchdog the console drives.
type Mailbox interface {
	Send(ctx context.Context, payload []byte, target peer.ID) error
	TryReceive(source peer.ID) ([]byte, bool)
	Listen(target peer.ID, cb func(peer.ID)) error
	StopListening(target peer.ID)
	WatchDiscovery(cb discovery.Watcher) *discovery.WatchHandle
	Peers() discovery.Snapshot
}

type Console struct {
	mailbox Mailbox
	in      io.Reader

	outMu sync.Mutex
	out   io.Writer

	mu        sync.Mutex
	listening map[peer.ID]struct{}

	logger *zap.Logger
}

func New(mailbox Mailbox, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		mailbox:   mailbox,
		in:        in,
		out:       out,
		listening: make(map[peer.ID]struct{}),
		logger:    logger.With(zap.String("component", "console")),
	}
}

// Run reads commands until the input ends, /quit is entered or ctx is
// cancelled.
func (c *Console) Run(ctx context.Context) error {
	handle := c.mailbox.WatchDiscovery(c.onPeers)
	defer func() {
		handle.Close()
		c.stopAll()
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("%s", usage)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.handleLine(ctx, line); quit {
				return nil
			}
		}
	}
}

func (c *Console) handleLine(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/peers":
		peers := c.mailbox.Peers().Peers()
		if len(peers) == 0 {
			c.printf("no peers discovered\n")
		}
		for _, p := range peers {
			c.printf("  %s\n", p)
		}
	case strings.HasPrefix(line, "@"):
		prefix, text, _ := strings.Cut(line[1:], " ")
		target, err := c.resolve(prefix)
		if err != nil {
			c.printf("! %s: %v\n", prefix, err)
			return false
		}
		if err := c.mailbox.Send(ctx, []byte(text), target); err != nil {
			c.logger.Debug("send failed", zap.Stringer("peer", target), zap.Error(err))
			c.printf("! %s: %v\n", target.Short(), err)
		}
	default:
		c.printf("%s", usage)
	}
	return false
}

// resolve finds the single discovered peer whose id starts with prefix.
func (c *Console) resolve(prefix string) (peer.ID, error) {
	var match peer.ID
	for _, p := range c.mailbox.Peers().Peers() {
		if !strings.HasPrefix(p.String(), prefix) {
			continue
		}
		if !match.IsZero() {
			return peer.ID{}, ErrAmbiguousPeer
		}
		match = p
	}
	if match.IsZero() {
		return peer.ID{}, ErrNoSuchPeer
	}
	return match, nil
}

// onPeers listens to new peers and forgets departed ones.
func (c *Console) onPeers(s discovery.Snapshot) {
	c.mu.Lock()
	var joined, left []peer.ID
	for _, p := range s.Peers() {
		if _, ok := c.listening[p]; !ok {
			c.listening[p] = struct{}{}
			joined = append(joined, p)
		}
	}
	for p := range c.listening {
		if !s.Contains(p) {
			delete(c.listening, p)
			left = append(left, p)
		}
	}
	c.mu.Unlock()

	for _, p := range joined {
		if err := c.mailbox.Listen(p, c.drain); err != nil {
			// The peer left again before we got to it.
			c.logger.Debug("listen failed", zap.Stringer("peer", p), zap.Error(err))
			continue
		}
		c.printf("+ %s joined\n", p.Short())
	}
	peer.Sort(left)
	for _, p := range left {
		c.printf("- %s left\n", p.Short())
	}
}

func (c *Console) drain(p peer.ID) {
	for {
		payload, ok := c.mailbox.TryReceive(p)
		if !ok {
			return
		}
		c.printf("<%s> %s\n", p.Short(), payload)
	}
}

func (c *Console) stopAll() {
	c.mu.Lock()
	peers := make([]peer.ID, 0, len(c.listening))
	for p := range c.listening {
		peers = append(peers, p)
	}
	c.listening = make(map[peer.ID]struct{})
	c.mu.Unlock()
	for _, p := range peers {
		c.mailbox.StopListening(p)
	}
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
