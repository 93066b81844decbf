package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics receives turn-level measurements.
type Metrics interface {
	TurnStarted()
	TurnFinished(state string, dur time.Duration)
	DelegationFinished(worker, status string, dur time.Duration)
	GroundingWarning(kind string)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) TurnStarted()                                     {}
func (NoopMetrics) TurnFinished(string, time.Duration)               {}
func (NoopMetrics) DelegationFinished(string, string, time.Duration) {}
func (NoopMetrics) GroundingWarning(string)                          {}

// PrometheusMetrics implements Metrics on its own registry.
type PrometheusMetrics struct {
	registry     *prometheus.Registry
	inflight     prometheus.Gauge
	turns        *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
	delegations  *prometheus.CounterVec
	delegLatency *prometheus.HistogramVec
	grounding    *prometheus.CounterVec
}

// NewPrometheusMetrics registers the collectors under namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turns_in_flight",
			Help:      "Turns currently running.",
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns by terminal state.",
		}, []string{"state"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"state"}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegations_total",
			Help:      "Delegations by worker and status.",
		}, []string{"worker", "status"}),
		delegLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delegation_duration_seconds",
			Help:      "Worker resolve wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"worker"}),
		grounding: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grounding_warnings_total",
			Help:      "Grounding warnings by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.inflight, m.turns, m.turnLatency, m.delegations, m.delegLatency, m.grounding,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *PrometheusMetrics) TurnStarted() { m.inflight.Inc() }

func (m *PrometheusMetrics) TurnFinished(state string, dur time.Duration) {
	m.inflight.Dec()
	m.turns.WithLabelValues(state).Inc()
	m.turnLatency.WithLabelValues(state).Observe(dur.Seconds())
}

func (m *PrometheusMetrics) DelegationFinished(worker, status string, dur time.Duration) {
	m.delegations.WithLabelValues(worker, status).Inc()
	m.delegLatency.WithLabelValues(worker).Observe(dur.Seconds())
}

func (m *PrometheusMetrics) GroundingWarning(kind string) { m.grounding.WithLabelValues(kind).Inc() }

// Registry exposes the underlying registry, e.g. for tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
