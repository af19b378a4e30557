package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveSignIn(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveSignIn("password", true)
	m.ObserveSignIn("password", true)
	m.ObserveSignIn("password", false)
	m.ObserveSignIn("federated", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SignInAttemptsTotal.WithLabelValues("password", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignInAttemptsTotal.WithLabelValues("password", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SignInAttemptsTotal.WithLabelValues("federated", OutcomeSuccess)))
}

func TestObserveKeySetRefresh(t *testing.T) {
	m := NewMetrics(nil)

	m.ObserveKeySetRefresh(true, 3)
	m.ObserveKeySetRefresh(false, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeySetRefreshesTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeySetRefreshesTotal.WithLabelValues(OutcomeFailure)))
	// failed refresh keeps the last known key count
	assert.Equal(t, 3.0, testutil.ToFloat64(m.KeySetKeys))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m := NewMetrics(nil)

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/incidents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	for _, id := range []string{"a", "b", "c"} {
		req := httptest.NewRequest(http.MethodGet, "/api/incidents/"+id, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// all three requests collapse into the template series
	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/incidents/{id}", "200"))
	assert.Equal(t, 3.0, got)
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveSignIn("password", true)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "skyguard_signin_attempts_total")
}
