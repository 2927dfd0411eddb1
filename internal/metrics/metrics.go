// Package metrics holds the worker's Prometheus collectors. Every method is
// safe on a nil *Metrics so callers can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edge_bot"

type Metrics struct {
	registry *prometheus.Registry

	claims          *prometheus.CounterVec
	acks            *prometheus.CounterVec
	ackErrors       prometheus.Counter
	progress        prometheus.Counter
	sessionDuration *prometheus.HistogramVec
}

// New builds a registry with the worker collectors plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by result (job, empty, error).",
		}, []string{"result"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Acknowledged jobs by class and outcome.",
		}, []string{"class", "outcome"}),
		ackErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_errors_total",
			Help:      "Acknowledgements the queue backend rejected.",
		}),
		progress: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_progress_notes_total",
			Help:      "Progress notes written while session jobs were outstanding.",
		}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of session jobs by terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"state"}),
	}
	reg.MustRegister(
		m.claims, m.acks, m.ackErrors, m.progress, m.sessionDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterGate exposes the session gate's queue depth and busy flag.
func (m *Metrics) RegisterGate(depth func() int, busy func() bool) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_queue_depth",
			Help:      "Session jobs waiting behind the active one.",
		}, func() float64 { return float64(depth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_busy",
			Help:      "1 while a session job is executing.",
		}, func() float64 {
			if busy() {
				return 1
			}
			return 0
		}),
	)
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *Metrics) Ack(class, outcome string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) AckError() {
	if m == nil {
		return
	}
	m.ackErrors.Inc()
}

func (m *Metrics) Progress() {
	if m == nil {
		return
	}
	m.progress.Inc()
}

func (m *Metrics) SessionDone(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessionDuration.WithLabelValues(state).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and custom handlers.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }
