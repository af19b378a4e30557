package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUserNotFound is the not-found indication for every UserStore lookup.
var ErrUserNotFound = errors.New("user not found")

// UserStore is the credential store contract consumed by the authenticator
// and the authentication gate. Implementations live in pkg/storage.
type UserStore interface {
	// GetByEmail looks up a user by lowercased email.
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByID looks up a user by id.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByRefreshToken looks up the user holding the given refresh token.
	GetByRefreshToken(ctx context.Context, token string) (*User, error)
	// Create persists a new user. Returns ErrConflict if the email exists.
	Create(ctx context.Context, user *User) error
	// Update persists changes to an existing user, keyed by id.
	Update(ctx context.Context, user *User) error
}
