package rbac

import (
	"fmt"

	"github.com/skyguard-io/skyguard/pkg/auth"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorize decides whether the principal may access a resource guarded
// by the given roles. A nil principal is always denied. An empty role
// list admits any authenticated principal.
func Authorize(p *auth.Principal, required ...auth.Role) Decision {
	if p == nil {
		return Decision{Reason: "no authenticated principal"}
	}

	if len(required) == 0 {
		return Decision{Allowed: true, Reason: "authenticated"}
	}

	for _, role := range required {
		if p.Role == role {
			return Decision{Allowed: true, Reason: fmt.Sprintf("granted by role %s", role)}
		}
	}

	return Decision{Reason: fmt.Sprintf("role %s not in required set", p.Role)}
}
