// Package metrics exposes Prometheus collectors for the chatbot.
//
// All methods are safe to call on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zapito"

// Metrics groups the service collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	webhookRequests *prometheus.CounterVec
	turns           *prometheus.CounterVec
	sends           *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	statFailures    prometheus.Counter
	duplicates      prometheus.Counter
	turnDuration    prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Inbound webhook deliveries by outcome.",
		}, []string{"outcome"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation turns by source and destination state.",
		}, []string{"from", "to"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound sends by kind and outcome.",
		}, []string{"kind", "outcome"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staff_rotations_total",
			Help:      "Staff rotations by pool and outcome.",
		}, []string{"pool", "outcome"}),
		statFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stat_increment_failures_total",
			Help:      "Best-effort stat increments that failed.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_duplicate_messages_total",
			Help:      "Inbound messages skipped because they were already processed.",
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to process one inbound message, sends included.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.webhookRequests,
		m.turns,
		m.sends,
		m.rotations,
		m.statFailures,
		m.duplicates,
		m.turnDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WebhookRequest counts a webhook delivery.
func (m *Metrics) WebhookRequest(outcome string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(outcome).Inc()
}

// Turn counts a state transition.
func (m *Metrics) Turn(from, to string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(from, to).Inc()
}

// Send counts an outbound message attempt.
func (m *Metrics) Send(kind, outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, outcome).Inc()
}

// Rotation counts a staff rotation.
func (m *Metrics) Rotation(pool, outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(pool, outcome).Inc()
}

// StatFailure counts a swallowed stat increment error.
func (m *Metrics) StatFailure() {
	if m == nil {
		return
	}
	m.statFailures.Inc()
}

// Duplicate counts a skipped duplicate delivery.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// ObserveTurn records how long a turn took, in seconds.
func (m *Metrics) ObserveTurn(seconds float64) {
	if m == nil {
		return
	}
	m.turnDuration.Observe(seconds)
}
