package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/federated"
	"github.com/skyguard-io/skyguard/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	tokens map[string]*auth.Principal
	calls  int
}

func (f *fakeVerifier) Verify(token string) (*auth.Principal, error) {
	f.calls++
	if p, ok := f.tokens[token]; ok {
		return p, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakeValidator struct {
	tokens map[string]*federated.Identity
	calls  int
}

func (f *fakeValidator) Validate(ctx context.Context, raw string) *federated.Identity {
	f.calls++
	return f.tokens[raw]
}

type fakeResolver struct {
	user *auth.User
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, identity *federated.Identity) (*auth.User, error) {
	return f.user, f.err
}

func testGate(local *fakeVerifier, fed *fakeValidator, res FederatedResolver) *AuthenticationGate {
	log := observability.NewLogger(observability.ErrorLevel, nil)
	var validator FederatedValidator
	if fed != nil {
		validator = fed
	}
	return NewAuthenticationGate(local, validator, res, log, nil)
}

// capture runs a request through the gate and returns the principal the
// downstream handler saw.
func capture(t *testing.T, gate *AuthenticationGate, header string) *auth.Principal {
	t.Helper()
	var got *auth.Principal
	handler := gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/incidents", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return got
}

func TestGateNoHeaderPassesThrough(t *testing.T) {
	local := &fakeVerifier{}
	fed := &fakeValidator{}
	gate := testGate(local, fed, &fakeResolver{})

	p := capture(t, gate, "")
	assert.Nil(t, p)
	assert.Zero(t, local.calls)
	assert.Zero(t, fed.calls)
}

func TestGateLocalSchemeWins(t *testing.T) {
	userID := uuid.New()
	local := &fakeVerifier{tokens: map[string]*auth.Principal{
		"local-token": {UserID: userID, Email: "a@b.c", Role: auth.RoleCoordinator, Method: auth.MethodLocal},
	}}
	fed := &fakeValidator{}
	gate := testGate(local, fed, &fakeResolver{})

	p := capture(t, gate, "Bearer local-token")
	require.NotNil(t, p)
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, auth.MethodLocal, p.Method)
	// the provider path is never consulted for a local token
	assert.Zero(t, fed.calls)
}

func TestGateFallsBackToFederated(t *testing.T) {
	user := &auth.User{
		ID:        uuid.New(),
		Email:     "fed@example.com",
		Role:      auth.RoleSecurityTeam,
		Federated: true,
	}
	local := &fakeVerifier{}
	fed := &fakeValidator{tokens: map[string]*federated.Identity{
		"provider-token": {
			Subject:   "aad-subject",
			Email:     "fed@example.com",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}}
	gate := testGate(local, fed, &fakeResolver{user: user})

	p := capture(t, gate, "Bearer provider-token")
	require.NotNil(t, p)
	assert.Equal(t, user.ID, p.UserID)
	assert.Equal(t, auth.RoleSecurityTeam, p.Role)
	assert.Equal(t, auth.MethodFederated, p.Method)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, fed.calls)
}

func TestGateBothSchemesFailPassesThrough(t *testing.T) {
	local := &fakeVerifier{}
	fed := &fakeValidator{}
	gate := testGate(local, fed, &fakeResolver{})

	p := capture(t, gate, "Bearer garbage")
	assert.Nil(t, p)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, fed.calls)
}

func TestGateResolverErrorDropsPrincipal(t *testing.T) {
	local := &fakeVerifier{}
	fed := &fakeValidator{tokens: map[string]*federated.Identity{
		"provider-token": {Subject: "s", Email: "x@y.z"},
	}}
	gate := testGate(local, fed, &fakeResolver{err: errors.New("store down")})

	p := capture(t, gate, "Bearer provider-token")
	assert.Nil(t, p)
}

func TestGateFederatedDisabled(t *testing.T) {
	local := &fakeVerifier{}
	gate := testGate(local, nil, nil)

	p := capture(t, gate, "Bearer provider-token")
	assert.Nil(t, p)
	assert.Equal(t, 1, local.calls)
}
