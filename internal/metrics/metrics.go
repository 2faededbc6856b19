// Package metrics holds the Prometheus collectors of the totem backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	transitions       *prometheus.CounterVec

	generations       *prometheus.CounterVec
	generationRetries prometheus.Counter
	generationLatency *prometheus.HistogramVec

	shares      *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	evictions   prometheus.Counter
}

// New creates the collectors under namespace ("totem" when empty).
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "totem"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"service", "method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
	}, []string{"service", "method", "path"})

	m.sessionsStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kiosk",
		Name:      "sessions_started_total",
		Help:      "Visitor sessions started, by whether the record store accepted them.",
	}, []string{"persisted"})
	m.sessionsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kiosk",
		Name:      "sessions_completed_total",
		Help:      "Visitor sessions completed, by reason (share or cancel).",
	}, []string{"reason"})
	m.activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "kiosk",
		Name:      "active_sessions",
		Help:      "Flow states currently held.",
	})
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kiosk",
		Name:      "screen_transitions_total",
		Help:      "Screen transitions.",
	}, []string{"from", "to"})

	m.generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "requests_total",
		Help:      "Image generation requests by outcome.",
	}, []string{"outcome"})
	m.generationRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "retries_total",
		Help:      "Retries after transient generation failures.",
	})
	m.generationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "duration_seconds",
		Help:      "Wall time of a generation including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~2m
	}, []string{"outcome"})

	m.shares = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "whatsapp",
		Name:      "shares_total",
		Help:      "WhatsApp shares by final status.",
	}, []string{"status"})
	m.storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "records",
		Name:      "errors_total",
		Help:      "Record store failures that the flow tolerated.",
	}, []string{"op"})
	m.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "kiosk",
		Name:      "evicted_sessions_total",
		Help:      "Idle flow states evicted by the sweeper.",
	})

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.sessionsStarted,
		m.sessionsCompleted,
		m.activeSessions,
		m.transitions,
		m.generations,
		m.generationRetries,
		m.generationLatency,
		m.shares,
		m.storeErrors,
		m.evictions,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(service, method, path, status).Inc()
	m.httpDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordSessionStarted(persisted bool) {
	m.sessionsStarted.WithLabelValues(strconv.FormatBool(persisted)).Inc()
}

func (m *Metrics) RecordSessionCompleted(reason string) {
	m.sessionsCompleted.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordTransition(from, to string) {
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordGeneration records a finished generation. outcome is "success",
// "overloaded" or "error".
func (m *Metrics) RecordGeneration(outcome string, retries int, latency time.Duration) {
	if latency <= 0 {
		latency = time.Millisecond
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.generationRetries.Add(float64(retries))
	m.generationLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

func (m *Metrics) RecordShare(status string) {
	m.shares.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordStoreError(op string) {
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordEvictions(n int) {
	m.evictions.Add(float64(n))
}
