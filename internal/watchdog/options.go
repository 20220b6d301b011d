package watchdog

import (
	"github.com/n6x/watchdog/internal/inbox"
	"github.com/n6x/watchdog/internal/metrics"
	"go.uber.org/zap"
)

type Option func(*Watchdog)

// WithTransport attaches the outbound transport at construction time.
func WithTransport(t Transport) Option {
	return func(w *Watchdog) {
		w.transport = t
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Watchdog) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watchdog) {
		w.metrics = m
	}
}

// WithInboxCapacity bounds every inbox to n pending messages. Deliveries to a
// full inbox are rejected.
func WithInboxCapacity(n int) Option {
	return func(w *Watchdog) {
		w.inboxOpts = append(w.inboxOpts, inbox.WithCapacity(n))
	}
}

// WithSyncNotify invokes listeners on the goroutine that delivered the message
// instead of a fresh one. Deliver then takes as long as the listener.
func WithSyncNotify() Option {
	return func(w *Watchdog) {
		w.dispatch = func(f func()) { f() }
	}
}

// WithoutMembershipCheck lets Send and Listen target peers that are not in the
// current discovery snapshot.
func WithoutMembershipCheck() Option {
	return func(w *Watchdog) {
		w.checkMembership = false
	}
}
