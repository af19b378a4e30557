package federated

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// LoginConfig configures the interactive authorization-code flow. The client
// secret lives here and only here; token validation never needs it.
type LoginConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Authority overrides the provider base URL (tests)
	Authority string
	// HTTPClient is the injected client for the provider round trips
	HTTPClient *http.Client
}

// LoginFlow drives the interactive federated login: redirect the browser to
// the provider, then exchange the returned code for a verified identity.
type LoginFlow struct {
	verifier *oidc.IDTokenVerifier
	oauth2   *oauth2.Config
	client   *http.Client
}

// NewLoginFlow discovers the provider and prepares the code-exchange config.
func NewLoginFlow(ctx context.Context, cfg LoginConfig) (*LoginFlow, error) {
	authority := cfg.Authority
	if authority == "" {
		authority = DefaultAuthority
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	ctx = oidc.ClientContext(ctx, client)

	issuer := fmt.Sprintf("%s/%s/v2.0", authority, cfg.TenantID)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: discovering provider: %s", ErrProviderUnreachable, err)
	}

	return &LoginFlow{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		client: client,
	}, nil
}

// AuthCodeURL returns the provider authorization URL for the given state.
func (f *LoginFlow) AuthCodeURL(state string) string {
	return f.oauth2.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified identity.
func (f *LoginFlow) Exchange(ctx context.Context, code string) (*Identity, error) {
	ctx = oidc.ClientContext(ctx, f.client)

	token, err := f.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging code: %s", ErrProviderUnreachable, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("token response carries no id_token")
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verifying id_token: %w", err)
	}

	var claims providerClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parsing id_token claims: %w", err)
	}

	email := claims.email()
	if email == "" {
		return nil, fmt.Errorf("id_token carries no usable email claim")
	}

	expires := idToken.Expiry
	if expires.IsZero() {
		expires = time.Now().UTC().Add(time.Minute)
	}

	return &Identity{
		Subject:   idToken.Subject,
		Email:     email,
		Name:      claims.Name,
		Groups:    claims.Groups,
		ExpiresAt: expires,
	}, nil
}
