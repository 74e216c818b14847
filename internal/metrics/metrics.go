// Package metrics holds the host's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pluginhost"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	dispatches    *prometheus.CounterVec
	dispatchTime  *prometheus.HistogramVec
	pluginLoads   *prometheus.CounterVec
	pluginsActive prometheus.Gauge
	wakeEvents    *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Total number of dispatched requests by outcome.",
		}, []string{"outcome"}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of request dispatch including rendering.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"outcome"}),
		pluginLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "loads_total",
			Help:      "Total number of bundle load attempts by result.",
		}, []string{"result"}),
		pluginsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "plugins",
			Name:      "loaded",
			Help:      "Number of plugins currently loaded.",
		}),
		wakeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "wake_events_total",
			Help:      "Total number of published wake events.",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.dispatches,
		m.dispatchTime,
		m.pluginLoads,
		m.pluginsActive,
		m.wakeEvents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDispatch records the outcome and duration of one dispatched request.
func (m *Metrics) RecordDispatch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(outcome).Inc()
	m.dispatchTime.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordLoad records one bundle load result.
func (m *Metrics) RecordLoad(result string) {
	if m == nil {
		return
	}
	m.pluginLoads.WithLabelValues(result).Inc()
}

// SetLoaded sets the number of loaded plugins.
func (m *Metrics) SetLoaded(n int) {
	if m == nil {
		return
	}
	m.pluginsActive.Set(float64(n))
}

// RecordWake records one published wake event.
func (m *Metrics) RecordWake(event string) {
	if m == nil {
		return
	}
	m.wakeEvents.WithLabelValues(event).Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath keeps only the first segment so plugin paths do not explode label
// cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	first, _, _ := strings.Cut(trimmed, "/")

	return "/" + first
}
