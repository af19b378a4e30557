package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/skyguard-io/skyguard/pkg/auth"
)

const userColumns = `id, email, name, role, federated, password_digest, password_salt,
	refresh_token, refresh_expires, created_at, last_login`

// PostgresStore is the production credential store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			federated BOOLEAN NOT NULL DEFAULT false,
			password_digest BYTEA,
			password_salt BYTEA,
			refresh_token TEXT,
			refresh_expires TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_users_refresh_token ON users (refresh_token)
			WHERE refresh_token IS NOT NULL AND refresh_token <> '';
	`)
	if err != nil {
		return fmt.Errorf("migrating users table: %w", err)
	}
	return nil
}

// GetByEmail looks up a user by lowercased email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE email = $1
	`, strings.ToLower(email))
	return scanUser(row)
}

// GetByID looks up a user by id.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id = $1
	`, id)
	return scanUser(row)
}

// GetByRefreshToken looks up the user holding the given refresh token.
func (s *PostgresStore) GetByRefreshToken(ctx context.Context, token string) (*auth.User, error) {
	if token == "" {
		return nil, auth.ErrUserNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE refresh_token = $1
	`, token)
	return scanUser(row)
}

// Create inserts a new user. A unique violation on email maps to
// auth.ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, user *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, user.ID, strings.ToLower(user.Email), user.Name, string(user.Role), user.Federated,
		user.PasswordDigest, user.PasswordSalt,
		user.RefreshToken, user.RefreshExpires, user.CreatedAt, user.LastLogin)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return auth.ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// Update persists changes to an existing user, keyed by id. The whole row is
// written; refresh-token rotation is a single-row write so last-write-wins
// between concurrent rotations for the same user is the chosen semantics.
func (s *PostgresStore) Update(ctx context.Context, user *auth.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, name = $3, role = $4, federated = $5,
			password_digest = $6, password_salt = $7,
			refresh_token = $8, refresh_expires = $9, last_login = $10
		WHERE id = $1
	`, user.ID, strings.ToLower(user.Email), user.Name, string(user.Role), user.Federated,
		user.PasswordDigest, user.PasswordSalt,
		user.RefreshToken, user.RefreshExpires, user.LastLogin)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// PurgeExpiredRefreshTokens clears refresh tokens whose expiry has passed.
// Run on a schedule; returns the number of rows touched.
func (s *PostgresStore) PurgeExpiredRefreshTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = ''
		WHERE refresh_token <> '' AND refresh_expires <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("purging refresh tokens: %w", err)
	}
	return res.RowsAffected()
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		user     auth.User
		roleName string
	)
	err := row.Scan(&user.ID, &user.Email, &user.Name, &roleName, &user.Federated,
		&user.PasswordDigest, &user.PasswordSalt,
		&user.RefreshToken, &user.RefreshExpires, &user.CreatedAt, &user.LastLogin)
	if err == sql.ErrNoRows {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	role, ok := auth.ParseRole(roleName)
	if !ok {
		return nil, fmt.Errorf("user %s: %w: %q", user.ID, auth.ErrUnknownRole, roleName)
	}
	user.Role = role
	return &user, nil
}
