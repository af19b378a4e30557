package auth

import (
	"context"

	"github.com/skyguard-io/skyguard/pkg/contextkeys"
)

// WithPrincipal attaches the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextkeys.PrincipalKey, p)
}

// PrincipalFrom returns the principal attached by the authentication
// gate, or nil when the request never authenticated.
func PrincipalFrom(ctx context.Context) *Principal {
	if p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}
