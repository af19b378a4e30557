package rbac

import (
	"net/http"

	"github.com/skyguard-io/skyguard/pkg/audit"
	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/contextkeys"
	"github.com/skyguard-io/skyguard/pkg/httputil"
	"github.com/skyguard-io/skyguard/pkg/observability"
)

// Guard builds route middleware that enforces role requirements. The
// optional metrics sink counts denials per required role; denials by an
// authenticated principal also land in the audit trail.
type Guard struct {
	log      *observability.Logger
	metrics  *observability.Metrics
	recorder audit.Recorder
}

// NewGuard creates a role guard. A nil recorder disables deny auditing.
func NewGuard(log *observability.Logger, metrics *observability.Metrics, recorder audit.Recorder) *Guard {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	return &Guard{log: log, metrics: metrics, recorder: recorder}
}

// RequireAuthenticated admits any authenticated principal.
func (g *Guard) RequireAuthenticated(next http.Handler) http.Handler {
	return g.require(next)
}

// RequireRole admits only principals holding one of the given roles.
func (g *Guard) RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return g.require(next, roles...)
	}
}

func (g *Guard) require(next http.Handler, roles ...auth.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.PrincipalFrom(r.Context())
		if p == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		decision := Authorize(p, roles...)
		if !decision.Allowed {
			g.log.WithFields(map[string]interface{}{
				"user_id": p.UserID.String(),
				"role":    string(p.Role),
				"path":    r.URL.Path,
				"reason":  decision.Reason,
			}).Warn("access denied")
			if g.metrics != nil {
				for _, role := range roles {
					g.metrics.AccessDeniedTotal.WithLabelValues(string(role)).Inc()
				}
			}
			actorID := p.UserID
			_ = g.recorder.Record(r.Context(), &audit.Event{
				Type:       audit.EventTypeAccessDenied,
				Outcome:    audit.OutcomeDenied,
				ActorID:    &actorID,
				ActorEmail: p.Email,
				Method:     string(p.Method),
				IP:         httputil.ClientIP(r),
				UserAgent:  r.UserAgent(),
				RequestID:  contextkeys.RequestID(r.Context()),
				Detail:     decision.Reason,
			})
			httputil.WriteForbidden(w, "insufficient role")
			return
		}

		next.ServeHTTP(w, r)
	})
}
