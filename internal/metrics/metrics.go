// Package metrics exposes Prometheus instrumentation for the HTTP
// surface and the trade pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and the instruments the server records to.
type Metrics struct {
	registry *prometheus.Registry

	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	batchEvents  *prometheus.CounterVec
	settlements  prometheus.Counter
	settledValue prometheus.Counter
}

// New builds a Metrics with its own registry, including the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agritrace_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agritrace_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		batchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agritrace_pipeline_events_total",
			Help: "Pipeline state changes by event type.",
		}, []string{"event"}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agritrace_settlements_total",
			Help: "Completed fund settlements.",
		}),
		settledValue: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agritrace_settled_value_total",
			Help: "Total settled value in minor currency units.",
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.batchEvents, m.settlements, m.settledValue)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts a pipeline state change.
func (m *Metrics) RecordEvent(eventType string) {
	m.batchEvents.WithLabelValues(eventType).Inc()
}

// RecordSettlement counts a completed settlement and its value.
func (m *Metrics) RecordSettlement(amount int64) {
	m.settlements.Inc()
	m.settledValue.Add(float64(amount))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments an HTTP handler with request counts and
// latency. The route label uses the matched ServeMux pattern so label
// cardinality stays bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
