package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenTTL is the absolute lifetime of a locally issued access token.
const AccessTokenTTL = 10 * time.Minute

// minSecretLength is the 256-bit floor for the HMAC signing secret.
const minSecretLength = 32

// Claims is the local access-token claim set.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenIssuer mints and verifies locally issued access tokens. Tokens are
// signed with HMAC over SHA-512 using a single symmetric secret; issuer and
// audience are not set or checked, the deployment is single-tenant and
// self-issued.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer validates the configured secret and returns an issuer.
// A missing or short secret is ErrWeakSecret: the issuer refuses to start
// signing rather than produce a weak token.
func NewTokenIssuer(secret string) (*TokenIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	return &TokenIssuer{
		secret: []byte(secret),
		now:    time.Now,
	}, nil
}

// Issue builds a signed access token carrying the user's id, email and role
// with a 10-minute expiry.
func (i *TokenIssuer) Issue(user *User) (string, error) {
	now := i.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenTTL)),
		},
		Email: user.Email,
		Role:  string(user.Role),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify validates signature and expiry (zero clock skew) and returns the
// normalized principal. Every failure collapses into ErrInvalidToken; the
// wrapped detail is for server logs only, never the network caller.
func (i *TokenIssuer) Verify(token string) (*Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return nil, fmt.Errorf("%w: bad role claim", ErrInvalidToken)
	}

	return &Principal{
		UserID: subject,
		Email:  claims.Email,
		Role:   role,
		Method: MethodLocal,
	}, nil
}

// keyFunc pins the verification key. The valid-methods option already
// rejects "none" and any non-HS512 algorithm before this runs.
func (i *TokenIssuer) keyFunc(t *jwt.Token) (interface{}, error) {
	return i.secret, nil
}
