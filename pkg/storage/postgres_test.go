package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyguard-io/skyguard/pkg/auth"
)

var userRows = []string{
	"id", "email", "name", "role", "federated", "password_digest", "password_salt",
	"refresh_token", "refresh_expires", "created_at", "last_login",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresGetByEmail(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userRows).AddRow(
			id, "alice@example.com", "Alice", "Coordinator", false,
			[]byte{0x01}, []byte{0x02}, "rt", now.Add(time.Hour), now, nil,
		))

	// lookups lowercase the email before hitting the database
	user, err := store.GetByEmail(context.Background(), "Alice@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, auth.RoleCoordinator, user.Role)
	assert.Equal(t, []byte{0x01}, user.PasswordDigest)
	assert.Nil(t, user.LastLogin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(userRows))

	_, err := store.GetByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestPostgresGetByEmailUnknownRole(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userRows).AddRow(
			uuid.New(), "alice@example.com", "Alice", "Superuser", false,
			nil, nil, "", now, now, nil,
		))

	_, err := store.GetByEmail(context.Background(), "alice@example.com")
	assert.ErrorIs(t, err, auth.ErrUnknownRole)
}

func TestPostgresGetByRefreshToken(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM users WHERE refresh_token = \$1`).
		WithArgs("rt-123").
		WillReturnRows(sqlmock.NewRows(userRows).AddRow(
			id, "alice@example.com", "Alice", "Manager", false,
			nil, nil, "rt-123", now.Add(time.Hour), now, nil,
		))

	user, err := store.GetByRefreshToken(context.Background(), "rt-123")
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
}

func TestPostgresGetByRefreshTokenEmpty(t *testing.T) {
	store, _ := newMockStore(t)

	// empty token must not match federated users with blank tokens
	_, err := store.GetByRefreshToken(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestPostgresCreate(t *testing.T) {
	store, mock := newMockStore(t)

	user := &auth.User{
		ID:             uuid.New(),
		Email:          "Bob@Example.com",
		Name:           "Bob",
		Role:           auth.RoleSecurityTeam,
		PasswordDigest: []byte{0xaa},
		PasswordSalt:   []byte{0xbb},
		RefreshExpires: time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
	}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(user.ID, "bob@example.com", "Bob", "SecurityTeam", false,
			[]byte{0xaa}, []byte{0xbb}, "", user.RefreshExpires, user.CreatedAt, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), user))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), &auth.User{ID: uuid.New(), Email: "dup@example.com"})
	assert.ErrorIs(t, err, auth.ErrConflict)
}

func TestPostgresUpdateMissingUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &auth.User{ID: uuid.New()})
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestPostgresPurgeExpiredRefreshTokens(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.PurgeExpiredRefreshTokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
