package middleware

import (
	"context"
	"net/http"

	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/contextkeys"
	"github.com/skyguard-io/skyguard/pkg/federated"
	"github.com/skyguard-io/skyguard/pkg/httputil"
	"github.com/skyguard-io/skyguard/pkg/observability"
)

// FederatedResolver turns a provider identity into a local user account,
// creating one on first sign-in.
type FederatedResolver interface {
	Resolve(ctx context.Context, identity *federated.Identity) (*auth.User, error)
}

// TokenVerifier validates a locally issued access token.
type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// FederatedValidator validates a provider token, returning nil when the
// token is not acceptable.
type FederatedValidator interface {
	Validate(ctx context.Context, raw string) *federated.Identity
}

// FederatedLoginFlow drives the interactive browser sign-in: redirect to
// the provider, then trade the returned code for a verified identity.
type FederatedLoginFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*federated.Identity, error)
}

// AuthenticationGate authenticates requests against both token schemes.
// It never rejects a request itself; it only attaches a principal when
// one of the schemes succeeds.
type AuthenticationGate struct {
	local     TokenVerifier
	federated FederatedValidator
	resolver  FederatedResolver
	log       *observability.Logger
	metrics   *observability.Metrics
}

// NewAuthenticationGate creates the gate. The federated validator and
// resolver may be nil when the provider is not configured, leaving only
// the local scheme active.
func NewAuthenticationGate(local TokenVerifier, fed FederatedValidator, resolver FederatedResolver, log *observability.Logger, metrics *observability.Metrics) *AuthenticationGate {
	return &AuthenticationGate{
		local:     local,
		federated: fed,
		resolver:  resolver,
		log:       log,
		metrics:   metrics,
	}
}

// Handler wraps an HTTP handler with authentication.
func (g *AuthenticationGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := httputil.BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if p := g.authenticate(r.Context(), token); p != nil {
			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = context.WithValue(ctx, contextkeys.UserIDKey, p.UserID.String())
			r = r.WithContext(ctx)
		}

		next.ServeHTTP(w, r)
	})
}

// authenticate runs the two schemes in order. Local first: it is a pure
// HMAC check, so a locally issued token never costs a provider call.
func (g *AuthenticationGate) authenticate(ctx context.Context, token string) *auth.Principal {
	if p, err := g.local.Verify(token); err == nil {
		g.observe(string(auth.MethodLocal), true)
		return p
	}
	g.observe(string(auth.MethodLocal), false)

	if g.federated == nil || g.resolver == nil {
		return nil
	}

	identity := g.federated.Validate(ctx, token)
	if identity == nil {
		g.observe(string(auth.MethodFederated), false)
		return nil
	}

	user, err := g.resolver.Resolve(ctx, identity)
	if err != nil {
		g.log.WithError(err).WithField("subject", identity.Subject).Error("federated account resolution failed")
		g.observe(string(auth.MethodFederated), false)
		return nil
	}

	g.observe(string(auth.MethodFederated), true)
	return &auth.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Method: auth.MethodFederated,
	}
}

func (g *AuthenticationGate) observe(scheme string, ok bool) {
	if g.metrics != nil {
		g.metrics.ObserveVerification(scheme, ok)
	}
}
