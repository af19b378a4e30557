package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyguard-io/skyguard/pkg/audit"
	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/federated"
	"github.com/skyguard-io/skyguard/pkg/observability"
	"github.com/skyguard-io/skyguard/pkg/platform"
	"github.com/skyguard-io/skyguard/pkg/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memRecorder stores audit events synchronously for assertions.
type memRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *memRecorder) Record(ctx context.Context, event *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memRecorder) Query(ctx context.Context, f audit.Filter) ([]*audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*audit.Event
	for _, e := range m.events {
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type testEnv struct {
	handler  http.Handler
	recorder *memRecorder
}

func newTestEnv(t *testing.T, mods ...func(*Deps)) *testEnv {
	t.Helper()

	issuer, err := auth.NewTokenIssuer(testSecret)
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	rec := &memRecorder{}
	mem := platform.NewMemoryPlatform()

	deps := Deps{
		Log:           observability.NewLogger(observability.ErrorLevel, nil),
		Store:         store,
		Authenticator: auth.NewPasswordAuthenticator(store),
		Issuer:        issuer,
		Recorder:      rec,
		Incidents:     mem,
		Responses:     mem,
		Reports:       mem,
	}
	for _, mod := range mods {
		mod(&deps)
	}

	server := NewServer(deps)
	return &testEnv{handler: server.Handler(), recorder: rec}
}

// call performs a JSON request against the server, optionally with a
// bearer token, and decodes the response body into out when non-nil.
func (e *testEnv) call(t *testing.T, method, path, token string, body, out interface{}) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

// signUp registers and signs in an account, returning its token pair.
func (e *testEnv) signUp(t *testing.T, email string, role auth.Role) tokenResponse {
	t.Helper()

	code := e.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    email,
		"name":     strings.Split(email, "@")[0],
		"password": "correct horse battery staple",
		"role":     string(role),
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	var tokens tokenResponse
	code = e.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": "correct horse battery staple",
	}, &tokens)
	require.Equal(t, http.StatusOK, code)
	return tokens
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	e := newTestEnv(t)

	// register
	code := e.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "alice@example.com", "name": "Alice", "password": "pw123456", "role": "Coordinator",
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	// duplicate email conflicts
	code = e.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "alice@example.com", "name": "Alice", "password": "pw123456", "role": "Coordinator",
	}, nil)
	assert.Equal(t, http.StatusConflict, code)

	// wrong password
	code = e.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// sign in
	var tokens tokenResponse
	code = e.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "pw123456",
	}, &tokens)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, auth.RoleCoordinator, tokens.User.Role)

	// whoami
	var me userResponse
	code = e.call(t, http.MethodGet, "/api/auth/me", tokens.AccessToken, nil, &me)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice@example.com", me.Email)

	// refresh rotates: the new pair works, the spent token does not
	var refreshed tokenResponse
	code = e.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, &refreshed)
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, tokens.RefreshToken, refreshed.RefreshToken)

	code = e.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// logout revokes the refresh token
	code = e.call(t, http.MethodPost, "/api/auth/logout", refreshed.AccessToken, nil, nil)
	require.Equal(t, http.StatusNoContent, code)

	code = e.call(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": refreshed.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUnknownRoleRejected(t *testing.T) {
	e := newTestEnv(t)

	code := e.call(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "bob@example.com", "password": "pw123456", "role": "Admin",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGarbageTokenIsUnauthenticated(t *testing.T) {
	e := newTestEnv(t)

	code := e.call(t, http.MethodGet, "/api/auth/me", "not.a.token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

// Every protected route against every role: exactly the permitted roles
// get through, everyone else gets 403, anonymous gets 401.
func TestRoleRouteMatrix(t *testing.T) {
	e := newTestEnv(t)

	coordinator := e.signUp(t, "coordinator@example.com", auth.RoleCoordinator)
	security := e.signUp(t, "security@example.com", auth.RoleSecurityTeam)
	manager := e.signUp(t, "manager@example.com", auth.RoleManager)

	tokens := map[auth.Role]string{
		auth.RoleCoordinator:  coordinator.AccessToken,
		auth.RoleSecurityTeam: security.AccessToken,
		auth.RoleManager:      manager.AccessToken,
	}

	newIncident := func() map[string]interface{} {
		return map[string]interface{}{
			"title": "checkpoint", "priority": "Low", "area": "SAR",
		}
	}

	routes := []struct {
		name    string
		method  string
		path    string
		body    func() map[string]interface{}
		allowed map[auth.Role]bool
		success int
	}{
		{
			name: "create incident", method: http.MethodPost, path: "/api/incidents",
			body:    newIncident,
			allowed: map[auth.Role]bool{auth.RoleCoordinator: true},
			success: http.StatusCreated,
		},
		{
			name: "list incidents", method: http.MethodGet, path: "/api/incidents",
			allowed: map[auth.Role]bool{auth.RoleCoordinator: true, auth.RoleSecurityTeam: true, auth.RoleManager: true},
			success: http.StatusOK,
		},
		{
			name: "statistics", method: http.MethodGet, path: "/api/reports/statistics",
			allowed: map[auth.Role]bool{auth.RoleManager: true},
			success: http.StatusOK,
		},
		{
			name: "audit trail", method: http.MethodGet, path: "/api/audit",
			allowed: map[auth.Role]bool{auth.RoleManager: true},
			success: http.StatusOK,
		},
	}

	for _, route := range routes {
		t.Run(route.name, func(t *testing.T) {
			var body map[string]interface{}

			// anonymous
			if route.body != nil {
				body = route.body()
			}
			code := e.call(t, route.method, route.path, "", body, nil)
			assert.Equal(t, http.StatusUnauthorized, code, "anonymous")

			for role, token := range tokens {
				if route.body != nil {
					body = route.body()
				}
				code := e.call(t, route.method, route.path, token, body, nil)
				if route.allowed[role] {
					assert.Equal(t, route.success, code, "role %s should pass", role)
				} else {
					assert.Equal(t, http.StatusForbidden, code, "role %s should be forbidden", role)
				}
			}
		})
	}
}

func TestIncidentLifecycle(t *testing.T) {
	e := newTestEnv(t)

	coordinator := e.signUp(t, "coordinator@example.com", auth.RoleCoordinator)
	security := e.signUp(t, "security@example.com", auth.RoleSecurityTeam)
	manager := e.signUp(t, "manager@example.com", auth.RoleManager)

	// coordinator reports an incident
	var incident platform.Incident
	code := e.call(t, http.MethodPost, "/api/incidents", coordinator.AccessToken, map[string]interface{}{
		"title":     "thermal anomaly on segment 4",
		"priority":  "Critical",
		"area":      "LAR",
		"latitude":  31.2,
		"longitude": 29.9,
	}, &incident)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, platform.StatusPending, incident.Status)
	assert.Equal(t, coordinator.User.ID, incident.ReportedBy)

	base := fmt.Sprintf("/api/incidents/%s", incident.ID)

	// coordinator assigns it to the security responder
	code = e.call(t, http.MethodPost, base+"/assign", coordinator.AccessToken, map[string]interface{}{
		"user_id": security.User.ID,
	}, nil)
	require.Equal(t, http.StatusNoContent, code)

	var fetched platform.Incident
	code = e.call(t, http.MethodGet, base, security.AccessToken, nil, &fetched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, platform.StatusInProgress, fetched.Status)

	// coordinator may not file the security response
	responseBody := map[string]interface{}{
		"action_taken":   "dispatched patrol",
		"classification": "ActiveLeakPoint",
	}
	code = e.call(t, http.MethodPost, base+"/response", coordinator.AccessToken, responseBody, nil)
	assert.Equal(t, http.StatusForbidden, code)

	// the security team files it
	var response platform.SecurityResponse
	code = e.call(t, http.MethodPost, base+"/response", security.AccessToken, responseBody, &response)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, platform.ClassificationActiveLeakPoint, response.Classification)
	assert.Equal(t, security.User.ID, response.RespondedBy)

	// incident is now completed and the manager sees it in statistics
	var stats platform.Statistics
	code = e.call(t, http.MethodGet, "/api/reports/statistics", manager.AccessToken, nil, &stats)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, stats.TotalIncidents)
	assert.Equal(t, 1, stats.CompletedIncidents)
	assert.Equal(t, 1, stats.CriticalPriority)
	assert.Equal(t, 1, stats.ByClassification[string(platform.ClassificationActiveLeakPoint)])

	// anyone authenticated can read the response
	code = e.call(t, http.MethodGet, base+"/response", coordinator.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestIncidentValidation(t *testing.T) {
	e := newTestEnv(t)
	coordinator := e.signUp(t, "coordinator@example.com", auth.RoleCoordinator)

	// unknown priority refused
	code := e.call(t, http.MethodPost, "/api/incidents", coordinator.AccessToken, map[string]interface{}{
		"title": "x", "priority": "Urgent", "area": "SAR",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// unknown area in listing filter refused
	code = e.call(t, http.MethodGet, "/api/incidents?area=XAR", coordinator.AccessToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	// unknown incident id is 404
	code = e.call(t, http.MethodGet, "/api/incidents/00000000-0000-0000-0000-000000000001", coordinator.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestFederatedNotConfigured(t *testing.T) {
	e := newTestEnv(t)

	code := e.call(t, http.MethodPost, "/api/auth/federated", "", map[string]string{
		"token": "provider-token",
	}, nil)
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestAuditTrailRecordsSignIns(t *testing.T) {
	e := newTestEnv(t)
	manager := e.signUp(t, "manager@example.com", auth.RoleManager)

	// a failed sign-in attempt
	code := e.call(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "manager@example.com", "password": "wrong",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	var events []*audit.Event
	code = e.call(t, http.MethodGet, "/api/audit?type=auth.login_failed", manager.AccessToken, nil, &events)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeFailure, events[0].Outcome)
	assert.Nil(t, events[0].ActorID)
	assert.NotEmpty(t, events[0].IP)

	code = e.call(t, http.MethodGet, "/api/audit?type=auth.login", manager.AccessToken, nil, &events)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeSuccess, events[0].Outcome)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, manager.User.ID, *events[0].ActorID)
}

func TestAuditTrailRecordsAccessDenials(t *testing.T) {
	e := newTestEnv(t)
	security := e.signUp(t, "responder@example.com", auth.RoleSecurityTeam)
	manager := e.signUp(t, "manager@example.com", auth.RoleManager)

	code := e.call(t, http.MethodGet, "/api/reports/statistics", security.AccessToken, nil, nil)
	require.Equal(t, http.StatusForbidden, code)

	var events []*audit.Event
	code = e.call(t, http.MethodGet, "/api/audit?type=authz.access_denied", manager.AccessToken, nil, &events)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeDenied, events[0].Outcome)
	require.NotNil(t, events[0].ActorID)
	assert.Equal(t, security.User.ID, *events[0].ActorID)
	assert.Equal(t, "responder@example.com", events[0].ActorEmail)
	assert.NotEmpty(t, events[0].Detail)
}

// fakeLoginFlow stands in for the provider-backed authorization-code flow.
type fakeLoginFlow struct {
	identity federated.Identity
}

func (f *fakeLoginFlow) AuthCodeURL(state string) string {
	return "https://login.example.test/authorize?state=" + state
}

func (f *fakeLoginFlow) Exchange(_ context.Context, code string) (*federated.Identity, error) {
	if code != "good-code" {
		return nil, errors.New("authorization code rejected")
	}
	id := f.identity
	return &id, nil
}

func TestFederatedBrowserLogin(t *testing.T) {
	flow := &fakeLoginFlow{identity: federated.Identity{
		Subject:   "subject-1",
		Email:     "Pilot@Example.COM",
		Name:      "Pat Pilot",
		ExpiresAt: time.Now().Add(time.Minute),
	}}
	e := newTestEnv(t, func(d *Deps) {
		d.Login = flow
		d.Resolver = federated.NewProvisioner(d.Store, "", nil, d.Log)
	})

	// step 1: the login endpoint hands out a state cookie and redirects
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/federated/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, state, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	// step 2: the callback exchanges the code for a signed-in session
	req := httptest.NewRequest(http.MethodGet, "/api/auth/federated/callback?code=good-code&state="+state, nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var tokens tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "pilot@example.com", tokens.User.Email)
	assert.True(t, tokens.User.Federated)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	// the minted access token works like any local one
	var me userResponse
	code := e.call(t, http.MethodGet, "/api/auth/me", tokens.AccessToken, nil, &me)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pilot@example.com", me.Email)

	// the sign-in landed in the audit trail
	events, err := e.recorder.Query(context.Background(), audit.Filter{Type: audit.EventTypeFederatedLogin})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeSuccess, events[0].Outcome)
}

func TestFederatedCallbackRejectsForgedState(t *testing.T) {
	flow := &fakeLoginFlow{identity: federated.Identity{
		Subject: "subject-1",
		Email:   "pilot@example.com",
	}}
	e := newTestEnv(t, func(d *Deps) {
		d.Login = flow
		d.Resolver = federated.NewProvisioner(d.Store, "", nil, d.Log)
	})

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/federated/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	// state parameter does not match the cookie
	req := httptest.NewRequest(http.MethodGet, "/api/auth/federated/callback?code=good-code&state=forged", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no cookie at all
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/federated/callback?code=good-code&state="+cookies[0].Value, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// a bad code after a valid state is a 401
	req = httptest.NewRequest(http.MethodGet, "/api/auth/federated/callback?code=bad-code&state="+cookies[0].Value, nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFederatedBrowserLoginNotConfigured(t *testing.T) {
	e := newTestEnv(t)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/federated/login", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/federated/callback?code=x&state=y", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
