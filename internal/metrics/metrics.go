// Package metrics exposes prometheus collectors for the watchdog.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Send failure reasons.
const (
	ReasonUnknownPeer = "unknown_peer"
	ReasonNoTransport = "no_transport"
	ReasonTransport   = "transport"
)

// Metrics groups the watchdog collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	delivered    prometheus.Counter
	dropped      prometheus.Counter
	received     prometheus.Counter
	sent         prometheus.Counter
	sendFailures *prometheus.CounterVec
	peersKnown   prometheus.Gauge
	pending      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_messages_delivered_total",
			Help: "Messages handed to the watchdog by the inbound transport",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_messages_dropped_total",
			Help: "Pending messages discarded on peer departure or rejected by a full inbox",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_messages_received_total",
			Help: "Messages taken out of an inbox by a consumer",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_messages_sent_total",
			Help: "Messages accepted by the outbound transport",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_send_failures_total",
			Help: "Failed sends by reason",
		}, []string{"reason"}),
		peersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchdog_peers_known",
			Help: "Number of peers in the current discovery snapshot",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchdog_inbox_pending",
			Help: "Messages waiting in inboxes across all peers",
		}),
	}
	reg.MustRegister(m.delivered, m.dropped, m.received, m.sent, m.sendFailures, m.peersKnown, m.pending)
	return m
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
	m.pending.Inc()
}

func (m *Metrics) Dropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}

// Discarded records pending messages thrown away with their inbox.
func (m *Metrics) Discarded(n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
	m.pending.Sub(float64(n))
}

func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.received.Inc()
	m.pending.Dec()
}

func (m *Metrics) Sent() {
	if m == nil {
		return
	}
	m.sent.Inc()
}

func (m *Metrics) SendFailed(reason string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) PeersKnown(n int) {
	if m == nil {
		return
	}
	m.peersKnown.Set(float64(n))
}
