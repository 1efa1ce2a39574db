package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access metrics
	MutationsTotal       *prometheus.CounterVec
	RefreshFailuresTotal *prometheus.CounterVec
	DecisionsTotal       *prometheus.CounterVec

	// Session metrics
	SessionsActive        prometheus.Gauge
	SessionEvictionsTotal prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_authz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crm_authz_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_authz_mutations_total",
				Help: "Access mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		RefreshFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_authz_refresh_failures_total",
				Help: "Failed snapshot refreshes by component",
			},
			[]string{"component"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_authz_decisions_total",
				Help: "Authorization checks enforced at the HTTP edge",
			},
			[]string{"check", "result"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crm_authz_sessions_active",
				Help: "Cached authorization sessions",
			},
		),
		SessionEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crm_authz_session_evictions_total",
				Help: "Authorization sessions evicted from the cache",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MutationsTotal,
		m.RefreshFailuresTotal,
		m.DecisionsTotal,
		m.SessionsActive,
		m.SessionEvictionsTotal,
	)

	return m
}

func (m *Metrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.MutationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveRefreshFailure(component string) {
	if m == nil {
		return
	}
	m.RefreshFailuresTotal.WithLabelValues(component).Inc()
}

func (m *Metrics) ObserveDecision(check string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.DecisionsTotal.WithLabelValues(check, result).Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

func (m *Metrics) ObserveSessionEviction() {
	if m == nil {
		return
	}
	m.SessionEvictionsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests, labelled by chi route pattern
// rather than raw path to keep role ids out of label values.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
