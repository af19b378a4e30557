package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the auth metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	SignInAttemptsTotal     *prometheus.CounterVec
	TokenVerificationsTotal *prometheus.CounterVec
	RefreshRotationsTotal   prometheus.Counter
	RateLimitedTotal        prometheus.Counter

	// Federated key set metrics
	KeySetRefreshesTotal *prometheus.CounterVec
	KeySetKeys           prometheus.Gauge

	// Authorization metrics
	AccessDeniedTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh one, which keeps tests isolated from each other.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skyguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SignInAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyguard_signin_attempts_total",
				Help: "Sign-in attempts by method (password, refresh, federated) and outcome",
			},
			[]string{"method", "outcome"},
		),
		TokenVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyguard_token_verifications_total",
				Help: "Bearer token verifications by scheme (local, federated) and outcome",
			},
			[]string{"scheme", "outcome"},
		),
		RefreshRotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "skyguard_refresh_rotations_total",
				Help: "Refresh tokens rotated",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "skyguard_rate_limited_total",
				Help: "Sign-in requests rejected by the rate limiter",
			},
		),

		KeySetRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyguard_keyset_refreshes_total",
				Help: "Signing key set refreshes by outcome",
			},
			[]string{"outcome"},
		),
		KeySetKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "skyguard_keyset_keys",
				Help: "Signing keys currently cached",
			},
		),

		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skyguard_access_denied_total",
				Help: "Requests denied by role checks, labelled by required role",
			},
			[]string{"role"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "skyguard_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "skyguard_db_connections_idle",
				Help: "Idle database connections",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SignInAttemptsTotal,
		m.TokenVerificationsTotal,
		m.RefreshRotationsTotal,
		m.RateLimitedTotal,
		m.KeySetRefreshesTotal,
		m.KeySetKeys,
		m.AccessDeniedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the /metrics endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSignIn records a sign-in attempt.
func (m *Metrics) ObserveSignIn(method string, ok bool) {
	m.SignInAttemptsTotal.WithLabelValues(method, outcome(ok)).Inc()
}

// ObserveVerification records a bearer token verification.
func (m *Metrics) ObserveVerification(scheme string, ok bool) {
	m.TokenVerificationsTotal.WithLabelValues(scheme, outcome(ok)).Inc()
}

// ObserveKeySetRefresh records a signing key set refresh.
func (m *Metrics) ObserveKeySetRefresh(ok bool, keys int) {
	m.KeySetRefreshesTotal.WithLabelValues(outcome(ok)).Inc()
	if ok {
		m.KeySetKeys.Set(float64(keys))
	}
}

func outcome(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request count and duration.
// The route template from mux is used as the path label so that
// /api/incidents/{id} does not produce one series per incident.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
