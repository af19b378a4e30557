package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is the closed role enumeration. Roles are compared as enum values,
// never as free-form strings, so a typo in a route declaration cannot
// silently widen access.
type Role string

const (
	// RoleCoordinator files and manages incidents
	RoleCoordinator Role = "Coordinator"
	// RoleSecurityTeam submits security responses
	RoleSecurityTeam Role = "SecurityTeam"
	// RoleManager runs reports and statistics
	RoleManager Role = "Manager"
)

// roleNames is the single bidirectional lookup table for role mapping.
// Unmapped input yields an explicit unknown outcome instead of a panic.
var roleNames = map[string]Role{
	"coordinator":  RoleCoordinator,
	"securityteam": RoleSecurityTeam,
	"manager":      RoleManager,
}

// ParseRole maps a string onto the closed enumeration, case-insensitively.
// The second return is false for any value outside the enumeration.
func ParseRole(s string) (Role, bool) {
	r, ok := roleNames[lower(s)]
	return r, ok
}

// Valid reports whether the role is a member of the closed enumeration.
func (r Role) Valid() bool {
	_, ok := roleNames[lower(string(r))]
	return ok
}

func (r Role) String() string { return string(r) }

// lower is an ASCII-only ToLower; role and email values are ASCII.
func lower(s string) string {
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// Method identifies which scheme authenticated a request.
type Method string

const (
	// MethodLocal means the bearer token was minted and signed by SkyGuard
	MethodLocal Method = "local"
	// MethodFederated means the token came from the external identity provider
	MethodFederated Method = "federated"
)

// User is the persistent identity record. PasswordDigest and PasswordSalt
// are empty for federated-only accounts; such accounts can never pass
// password login.
type User struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	Federated      bool       `json:"federated"`
	PasswordDigest []byte     `json:"-"`
	PasswordSalt   []byte     `json:"-"`
	RefreshToken   string     `json:"-"`
	RefreshExpires time.Time  `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
}

// HasLocalCredential reports whether password login is possible at all.
func (u *User) HasLocalCredential() bool {
	return !u.Federated && len(u.PasswordDigest) > 0 && len(u.PasswordSalt) > 0
}

// Principal is the normalized, request-scoped identity produced by either
// authentication scheme. It is owned by the request and never persisted.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Role   Role      `json:"role"`
	Method Method    `json:"method"`
}

// Sentinel errors for the authentication core. Handlers map these onto
// generic HTTP statuses; the distinguishing detail stays in server logs.
var (
	// ErrInvalidCredentials covers both unknown email and wrong password,
	// deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers expired, malformed, unsigned and wrong-key tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrConflict means the email is already registered.
	ErrConflict = errors.New("email already registered")
	// ErrWeakSecret means the configured signing secret is missing or below
	// the 256-bit minimum. Fatal: the issuer refuses to sign.
	ErrWeakSecret = errors.New("signing secret missing or shorter than 32 bytes")
	// ErrUnknownRole means a value outside the closed role enumeration.
	ErrUnknownRole = errors.New("unknown role")
)
