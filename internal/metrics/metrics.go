// Package metrics exposes Prometheus instrumentation for the session layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/crmchat/internal/history"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crmchat"

// Metrics records registry events, remote calls, HTTP requests and live
// websocket connections. It implements history.Observer and
// session.RemoteRecorder.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	messages        *prometheus.CounterVec
	remoteCalls     *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	liveConnections prometheus.Gauge
}

// New creates and registers every collector on a fresh registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Committed session registry mutations by kind.",
		}, []string{"kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to sessions by type.",
		}, []string{"type"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Calls to remote collaborators by outcome.",
		}, []string{"collaborator", "operation", "status"}),
		remoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote collaborator call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collaborator", "operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connections",
			Help:      "Open realtime websocket connections.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events,
		m.messages,
		m.remoteCalls,
		m.remoteDuration,
		m.httpRequests,
		m.httpDuration,
		m.liveConnections,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Publish implements history.Observer.
func (m *Metrics) Publish(e history.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == history.EventMessageAdded {
		m.messages.WithLabelValues(string(e.MessageType)).Inc()
	}
}

// ObserveRemote implements session.RemoteRecorder.
func (m *Metrics) ObserveRemote(collaborator, operation string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.remoteCalls.WithLabelValues(collaborator, operation, status).Inc()
	m.remoteDuration.WithLabelValues(collaborator, operation).Observe(elapsed.Seconds())
}

// ConnectionOpened records a new realtime connection.
func (m *Metrics) ConnectionOpened() { m.liveConnections.Inc() }

// ConnectionClosed records a closed realtime connection.
func (m *Metrics) ConnectionClosed() { m.liveConnections.Dec() }

// Middleware records request counts and latency labelled by chi route pattern,
// so ids in paths do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
