// Package observability collects prometheus metrics for the API and the
// background sync pipeline.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the application's prometheus collectors.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	syncPasses      *prometheus.CounterVec
	policiesScanned *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
}

// NewMetrics initialises the registry and base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	syncPasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_sync_passes_total",
		Help: "Completed sync passes by platform and outcome.",
	}, []string{"platform", "outcome"})
	policiesScanned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_policies_scanned_total",
		Help: "Policy documents scanned by platform.",
	}, []string{"platform"})
	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_sync_pass_duration_seconds",
		Help:    "Duration of a full account sync pass.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"platform"})
	registry.MustRegister(requests, duration, syncPasses, policiesScanned, syncDuration)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		syncPasses:      syncPasses,
		policiesScanned: policiesScanned,
		syncDuration:    syncDuration,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSyncPass records the outcome and duration of one account sync pass.
func (m *Metrics) ObserveSyncPass(platform string, healthy bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "red"
	if healthy {
		outcome = "green"
	}
	m.syncPasses.WithLabelValues(platform, outcome).Inc()
	m.syncDuration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

// AddPoliciesScanned counts scanned policy documents.
func (m *Metrics) AddPoliciesScanned(platform string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.policiesScanned.WithLabelValues(platform).Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
