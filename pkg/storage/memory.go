package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/skyguard-io/skyguard/pkg/auth"
)

// MemoryStore is an in-memory credential store for tests and local
// development. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*auth.User
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[uuid.UUID]*auth.User)}
}

// GetByEmail looks up a user by lowercased email.
func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// GetByID looks up a user by id.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, auth.ErrUserNotFound
}

// GetByRefreshToken looks up the user holding the given refresh token.
func (s *MemoryStore) GetByRefreshToken(_ context.Context, token string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token == "" {
		return nil, auth.ErrUserNotFound
	}
	for _, u := range s.users {
		if u.RefreshToken == token {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// Create inserts a new user, enforcing email uniqueness.
func (s *MemoryStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	for _, u := range s.users {
		if u.Email == email {
			return auth.ErrConflict
		}
	}
	stored := copyUser(user)
	stored.Email = email
	s.users[user.ID] = stored
	return nil
}

// Update replaces an existing user's record.
func (s *MemoryStore) Update(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return auth.ErrUserNotFound
	}
	stored := copyUser(user)
	stored.Email = strings.ToLower(user.Email)
	s.users[user.ID] = stored
	return nil
}

// Len returns the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func copyUser(u *auth.User) *auth.User {
	dup := *u
	dup.PasswordDigest = append([]byte(nil), u.PasswordDigest...)
	dup.PasswordSalt = append([]byte(nil), u.PasswordSalt...)
	if u.LastLogin != nil {
		t := *u.LastLogin
		dup.LastLogin = &t
	}
	return &dup
}
