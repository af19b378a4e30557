package federated

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoginFlow(t *testing.T, p *fakeProvider) *LoginFlow {
	t.Helper()

	flow, err := NewLoginFlow(context.Background(), LoginConfig{
		TenantID:     testTenant,
		ClientID:     testClient,
		ClientSecret: "s3cret",
		RedirectURL:  "https://app.example.com/callback",
		Authority:    p.server.URL,
		HTTPClient:   p.server.Client(),
	})
	require.NoError(t, err)
	return flow
}

func TestLoginFlowAuthCodeURL(t *testing.T) {
	p := newFakeProvider(t)
	flow := newTestLoginFlow(t, p)

	u, err := url.Parse(flow.AuthCodeURL("state-123"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, testClient, q.Get("client_id"))
	assert.Equal(t, "https://app.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Contains(t, q.Get("scope"), "openid")
}

func TestLoginFlowExchange(t *testing.T) {
	p := newFakeProvider(t)
	flow := newTestLoginFlow(t, p)

	p.grant("code-1", p.sign(t, nil))

	identity, err := flow.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "federated-subject-1", identity.Subject)
	assert.Equal(t, "fed.user@example.com", identity.Email)
	assert.Equal(t, "Fed User", identity.Name)
	assert.False(t, identity.ExpiresAt.IsZero())
}

func TestLoginFlowExchangeRejectsUnknownCode(t *testing.T) {
	p := newFakeProvider(t)
	flow := newTestLoginFlow(t, p)

	_, err := flow.Exchange(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrProviderUnreachable)
}

func TestLoginFlowExchangeRejectsForeignAudience(t *testing.T) {
	p := newFakeProvider(t)
	flow := newTestLoginFlow(t, p)

	p.grant("code-2", p.sign(t, map[string]interface{}{"aud": "some-other-app"}))

	_, err := flow.Exchange(context.Background(), "code-2")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnreachable)
}
