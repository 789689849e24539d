// Package metrics holds the prometheus collectors of the service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "attendmeet"

type Metrics struct {
	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	relayed        *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	sessions       prometheus.Gauge
	attempts       *prometheus.CounterVec
	gatewayLatency prometheus.Histogram
	ledgerFailures *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Live participant connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Rooms with at least one member.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "delivered_total",
			Help: "Messages enqueued to a participant, by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "dropped_total",
			Help: "Messages dropped by the relay, by reason.",
		}, []string{"reason"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "verification", Name: "sessions",
			Help: "Participants with an active verification schedule.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "verification", Name: "attempts_total",
			Help: "Verification attempts, by outcome.",
		}, []string{"outcome"}),
		gatewayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "gateway", Name: "call_seconds",
			Help:    "Latency of calls to the face matching engine.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		ledgerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "write_failures_total",
			Help: "Failed attendance writes, by sink.",
		}, []string{"sink"}),
	}
	reg.MustRegister(
		m.connections, m.rooms, m.relayed, m.dropped,
		m.sessions, m.attempts, m.gatewayLatency, m.ledgerFailures,
	)
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) Delivered(msgType string) {
	if m != nil {
		m.relayed.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) SessionStopped() {
	if m != nil {
		m.sessions.Dec()
	}
}

func (m *Metrics) Attempt(outcome string) {
	if m != nil {
		m.attempts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) GatewayCall(d time.Duration) {
	if m != nil {
		m.gatewayLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) LedgerFailure(sink string) {
	if m != nil {
		m.ledgerFailures.WithLabelValues(sink).Inc()
	}
}

// DroppedCounter exposes the drop counter for reason, mainly to tests.
func (m *Metrics) DroppedCounter(reason string) prometheus.Counter {
	return m.dropped.WithLabelValues(reason)
}

func (m *Metrics) AttemptCounter(outcome string) prometheus.Counter {
	return m.attempts.WithLabelValues(outcome)
}

func (m *Metrics) LedgerFailureCounter(sink string) prometheus.Counter {
	return m.ledgerFailures.WithLabelValues(sink)
}
