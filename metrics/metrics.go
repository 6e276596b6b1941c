// Package metrics holds the Prometheus instruments shared by the cache,
// the notification dispatcher and the HTTP layer.
//
// All methods are nil-safe so components can run without instrumentation
// in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finance"

type Metrics struct {
	registry *prometheus.Registry

	cacheLookups       *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	notifications      *prometheus.CounterVec
	pushes             *prometheus.CounterVec
	broadcasts         *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New creates and registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Aggregate cache lookups by endpoint and status (hit, miss, bypass).",
		}, []string{"endpoint", "status"}),
		cacheInvalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Per-user cache invalidations by outcome.",
		}, []string{"outcome"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_backend_errors_total",
			Help:      "Swallowed cache backend errors by operation.",
		}, []string{"op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Persisted notifications by type.",
		}, []string{"type"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_deliveries_total",
			Help:      "Push delivery attempts by outcome (sent, failed, unregistered).",
		}, []string{"outcome"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Real-time broadcasts by outcome.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.cacheLookups,
		m.cacheInvalidations,
		m.cacheErrors,
		m.notifications,
		m.pushes,
		m.broadcasts,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheLookup(endpoint, status string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) CacheInvalidation(ok bool) {
	if m == nil {
		return
	}
	m.cacheInvalidations.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Notification(typ string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(typ).Inc()
}

func (m *Metrics) Push(result string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(result).Inc()
}

func (m *Metrics) Broadcast(ok bool) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
