package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// saltLength is the per-user random HMAC key length
	saltLength = 64
	// refreshTokenLength is the raw byte length before base64 encoding
	refreshTokenLength = 32
	// RefreshTokenTTL is how long a refresh token stays usable
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// PasswordAuthenticator verifies passwords against stored salted digests
// and owns the refresh-token lifecycle.
type PasswordAuthenticator struct {
	store UserStore
	now   func() time.Time
}

// NewPasswordAuthenticator creates a password authenticator backed by the
// given credential store.
func NewPasswordAuthenticator(store UserStore) *PasswordAuthenticator {
	return &PasswordAuthenticator{
		store: store,
		now:   time.Now,
	}
}

// Register creates a local account. Fails with ErrConflict if the email is
// taken and ErrUnknownRole if the role is outside the enumeration.
func (a *PasswordAuthenticator) Register(ctx context.Context, email, name, password string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, ErrUnknownRole
	}

	salt, err := randomBytes(saltLength)
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	user := &User{
		ID:             uuid.New(),
		Email:          strings.ToLower(email),
		Name:           name,
		Role:           role,
		PasswordDigest: hashPassword(salt, password),
		PasswordSalt:   salt,
		RefreshToken:   "",
		RefreshExpires: a.now().UTC().Add(RefreshTokenTTL),
		CreatedAt:      a.now().UTC(),
	}

	if err := a.store.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies the password and on success rotates the refresh token and
// records the login time. Unknown email and wrong password are deliberately
// the same error.
func (a *PasswordAuthenticator) Login(ctx context.Context, email, password string) (*User, error) {
	user, err := a.store.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.HasLocalCredential() {
		return nil, ErrInvalidCredentials
	}

	computed := hashPassword(user.PasswordSalt, password)
	if !hmac.Equal(computed, user.PasswordDigest) {
		return nil, ErrInvalidCredentials
	}

	if err := a.rotate(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Refresh exchanges a refresh token for its user. The token must match the
// stored one and the stored expiry must be strictly in the future; the token
// is rotated on every use.
func (a *PasswordAuthenticator) Refresh(ctx context.Context, refreshToken string) (*User, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	user, err := a.store.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if user.RefreshToken != refreshToken || !a.now().UTC().Before(user.RefreshExpires) {
		return nil, ErrInvalidToken
	}

	if err := a.rotate(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Revoke clears the user's refresh token and expires it immediately.
// Idempotent; a missing user is a no-op.
func (a *PasswordAuthenticator) Revoke(ctx context.Context, userID uuid.UUID) error {
	user, err := a.store.GetByID(ctx, userID)
	if err != nil {
		return nil
	}

	user.RefreshToken = ""
	user.RefreshExpires = a.now().UTC()
	return a.store.Update(ctx, user)
}

// rotate stamps the login time, issues a fresh refresh token and persists.
func (a *PasswordAuthenticator) rotate(ctx context.Context, user *User) error {
	token, err := NewRefreshToken()
	if err != nil {
		return err
	}

	now := a.now().UTC()
	user.LastLogin = &now
	user.RefreshToken = token
	user.RefreshExpires = now.Add(RefreshTokenTTL)

	if err := a.store.Update(ctx, user); err != nil {
		return fmt.Errorf("rotating refresh token: %w", err)
	}
	return nil
}

// NewRefreshToken returns a fresh opaque refresh token: 32 cryptographically
// random bytes, base64-encoded.
func NewRefreshToken() (string, error) {
	raw, err := randomBytes(refreshTokenLength)
	if err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// NewSalt returns a fresh per-user HMAC key.
func NewSalt() ([]byte, error) {
	return randomBytes(saltLength)
}

// hashPassword computes the keyed HMAC-SHA512 digest over the UTF-8
// password bytes with the salt as key.
func hashPassword(salt []byte, password string) []byte {
	mac := hmac.New(sha512.New, salt)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
