package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyguard-io/skyguard/pkg/auth"
)

func newUser(email string) *auth.User {
	return &auth.User{
		ID:             uuid.New(),
		Email:          email,
		Name:           "Test User",
		Role:           auth.RoleCoordinator,
		PasswordDigest: []byte{0x01, 0x02},
		PasswordSalt:   []byte{0x03, 0x04},
		RefreshToken:   "rt-" + email,
		RefreshExpires: time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	user := newUser("alice@example.com")
	require.NoError(t, store.Create(ctx, user))
	assert.Equal(t, 1, store.Len())

	got, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)

	got, err = store.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got, err = store.GetByRefreshToken(ctx, user.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got.Name = "Renamed"
	require.NoError(t, store.Update(ctx, got))
	got, err = store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Create(ctx, newUser("dup@example.com")))

	other := newUser("DUP@example.com")
	assert.ErrorIs(t, store.Create(ctx, other), auth.ErrConflict)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	_, err = store.GetByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	_, err = store.GetByRefreshToken(ctx, "nope")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	assert.ErrorIs(t, store.Update(ctx, newUser("missing@example.com")), auth.ErrUserNotFound)
}

func TestMemoryStoreEmptyRefreshToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// federated accounts carry no refresh token; an empty lookup must
	// never match them
	user := newUser("fed@example.com")
	user.RefreshToken = ""
	user.Federated = true
	require.NoError(t, store.Create(ctx, user))

	_, err := store.GetByRefreshToken(ctx, "")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	user := newUser("alice@example.com")
	require.NoError(t, store.Create(ctx, user))

	// mutating the caller's copy must not leak into the store
	user.PasswordDigest[0] = 0xff
	user.Name = "Mutated"

	got, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), got.PasswordDigest[0])
	assert.Equal(t, "Test User", got.Name)

	// and mutating a returned copy must not either
	got.PasswordSalt[0] = 0xff
	again, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), again.PasswordSalt[0])
}
