package federated

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/skyguard-io/skyguard/pkg/observability"
)

// verifiedCacheSize bounds the cache of already validated tokens.
const verifiedCacheSize = 1024

// Identity is the normalized outcome of a successful federated validation.
// The gate resolves it to a local User before building a Principal.
type Identity struct {
	// Subject is the provider's stable subject identifier
	Subject string
	// Email is the normalized email after the fallback chain
	Email string
	// Name is the display name claim, if present
	Name string
	// Groups carries the provider group object ids, used for the default
	// role on first login
	Groups []string
	// ExpiresAt is the token expiry
	ExpiresAt time.Time
}

// providerClaims is the provider token claim set. The email fallback chain
// covers the claim names the provider has used across token versions.
type providerClaims struct {
	jwt.RegisteredClaims
	Email             string   `json:"email"`
	PreferredUsername string   `json:"preferred_username"`
	Name              string   `json:"name"`
	UPN               string   `json:"upn"`
	LegacyUPN         string   `json:"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/upn"`
	Groups            []string `json:"groups"`
}

// email applies the fallback chain: explicit email claim, else
// preferred_username, else name, else the UPN variants.
func (c *providerClaims) email() string {
	for _, candidate := range []string{c.Email, c.PreferredUsername, c.Name, c.UPN, c.LegacyUPN} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Validator validates provider-issued bearer tokens against the shared
// signing key set. Validate returns nil on any failure rather than an error:
// the caller treats nil as "this scheme did not authenticate" and moves on,
// while the failure detail goes to server logs only.
type Validator struct {
	keys *KeySet
	log  *observability.Logger

	// verified caches identities for tokens that already passed the full
	// check, keyed by token digest, until their expiry. Bounded LRU.
	verified *lru.Cache[[32]byte, Identity]

	now func() time.Time
}

// NewValidator creates a validator over the given key set.
func NewValidator(keys *KeySet, log *observability.Logger) *Validator {
	cache, _ := lru.New[[32]byte, Identity](verifiedCacheSize)
	return &Validator{
		keys:     keys,
		log:      log.WithField("component", "federated_validator"),
		verified: cache,
		now:      time.Now,
	}
}

// Validate checks signature, issuer, audience and expiry (zero clock skew)
// and returns the normalized identity, or nil if the token does not
// authenticate under this scheme.
func (v *Validator) Validate(ctx context.Context, raw string) *Identity {
	if raw == "" {
		return nil
	}

	digest := sha256.Sum256([]byte(raw))
	if id, ok := v.verified.Get(digest); ok {
		if v.now().UTC().Before(id.ExpiresAt) {
			return &id
		}
		v.verified.Remove(digest)
		return nil
	}

	identity, err := v.validate(ctx, raw)
	if err != nil {
		v.log.WithError(err).Debug("federated token rejected")
		return nil
	}

	v.verified.Add(digest, *identity)
	return identity
}

func (v *Validator) validate(ctx context.Context, raw string) (*Identity, error) {
	claims := &providerClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, v.keyFunc(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now().UTC() }),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token invalid")
	}

	if !contains(v.keys.Issuers(), claims.Issuer) {
		return nil, fmt.Errorf("issuer %q not in tenant issuer set", claims.Issuer)
	}
	if !v.audienceAccepted(claims.Audience) {
		return nil, fmt.Errorf("audience %v not accepted", claims.Audience)
	}

	email := claims.email()
	if email == "" {
		return nil, fmt.Errorf("no usable email claim")
	}

	return &Identity{
		Subject:   claims.Subject,
		Email:     email,
		Name:      claims.Name,
		Groups:    claims.Groups,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// keyFunc resolves the token's kid against the key set; an unknown kid
// triggers the set's throttled forced refresh.
func (v *Validator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header carries no kid")
		}
		return v.keys.Key(ctx, kid)
	}
}

func (v *Validator) audienceAccepted(aud jwt.ClaimStrings) bool {
	for _, accepted := range v.keys.Audiences() {
		for _, got := range aud {
			if got == accepted {
				return true
			}
		}
	}
	return false
}
