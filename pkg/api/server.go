package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skyguard-io/skyguard/pkg/audit"
	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/httputil"
	"github.com/skyguard-io/skyguard/pkg/middleware"
	"github.com/skyguard-io/skyguard/pkg/observability"
	"github.com/skyguard-io/skyguard/pkg/platform"
	"github.com/skyguard-io/skyguard/pkg/rbac"
)

// Deps carries everything the server needs. Limiter, Validator,
// Resolver, Login, and Metrics may be nil; the corresponding feature is
// then disabled.
type Deps struct {
	Log     *observability.Logger
	Metrics *observability.Metrics

	Store         auth.UserStore
	Authenticator *auth.PasswordAuthenticator
	Issuer        *auth.TokenIssuer

	Validator middleware.FederatedValidator
	Resolver  middleware.FederatedResolver
	Login     middleware.FederatedLoginFlow

	Limiter  *middleware.LoginRateLimiter
	Recorder audit.Recorder

	Incidents platform.IncidentService
	Responses platform.ResponseService
	Reports   platform.ReportService

	AllowedOrigins []string
}

// Server is the SkyGuard HTTP API.
type Server struct {
	router *mux.Router
	log    *observability.Logger
	deps   Deps

	gate  *middleware.AuthenticationGate
	guard *rbac.Guard
}

// NewServer builds the router with all routes registered.
func NewServer(deps Deps) *Server {
	if deps.Recorder == nil {
		deps.Recorder = audit.NopRecorder{}
	}

	s := &Server{
		router: mux.NewRouter(),
		log:    deps.Log,
		deps:   deps,
		gate:   middleware.NewAuthenticationGate(deps.Issuer, deps.Validator, deps.Resolver, deps.Log, deps.Metrics),
		guard:  rbac.NewGuard(deps.Log, deps.Metrics, deps.Recorder),
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.log),
		httputil.RecoveryMiddleware(s.log),
	}
	if len(s.deps.AllowedOrigins) > 0 {
		chain = append(chain, httputil.CORSMiddleware(s.deps.AllowedOrigins))
	}
	if s.deps.Metrics != nil {
		chain = append(chain, s.deps.Metrics.Middleware)
	}
	chain = append(chain, s.gate.Handler)

	return httputil.Chain(chain...)(s.router)
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	authHandlers := newAuthHandlers(s.deps)
	auditHandlers := newAuditHandlers(s.deps.Recorder)
	incidentHandlers := newIncidentHandlers(s.deps)

	// Sign-in endpoints are public but rate limited.
	limited := func(h http.HandlerFunc) http.Handler {
		if s.deps.Limiter == nil {
			return h
		}
		return s.deps.Limiter.Handler(h)
	}

	s.router.Handle("/api/auth/register", limited(authHandlers.register)).Methods("POST")
	s.router.Handle("/api/auth/login", limited(authHandlers.login)).Methods("POST")
	s.router.Handle("/api/auth/refresh", limited(authHandlers.refresh)).Methods("POST")
	s.router.Handle("/api/auth/federated", limited(authHandlers.federated)).Methods("POST")
	s.router.Handle("/api/auth/federated/login", limited(authHandlers.federatedLogin)).Methods("GET")
	s.router.Handle("/api/auth/federated/callback", limited(authHandlers.federatedCallback)).Methods("GET")

	s.router.Handle("/api/auth/logout",
		s.guard.RequireAuthenticated(http.HandlerFunc(authHandlers.logout))).Methods("POST")
	s.router.Handle("/api/auth/me",
		s.guard.RequireAuthenticated(http.HandlerFunc(authHandlers.me))).Methods("GET")

	// Audit trail is for managers only.
	s.router.Handle("/api/audit",
		s.guard.RequireRole(auth.RoleManager)(http.HandlerFunc(auditHandlers.query))).Methods("GET")

	// Incident platform routes.
	coordinator := s.guard.RequireRole(auth.RoleCoordinator)
	securityTeam := s.guard.RequireRole(auth.RoleSecurityTeam)
	manager := s.guard.RequireRole(auth.RoleManager)

	s.router.Handle("/api/incidents",
		coordinator(http.HandlerFunc(incidentHandlers.create))).Methods("POST")
	s.router.Handle("/api/incidents",
		s.guard.RequireAuthenticated(http.HandlerFunc(incidentHandlers.list))).Methods("GET")
	s.router.Handle("/api/incidents/{id}",
		s.guard.RequireAuthenticated(http.HandlerFunc(incidentHandlers.get))).Methods("GET")
	s.router.Handle("/api/incidents/{id}/status",
		coordinator(http.HandlerFunc(incidentHandlers.updateStatus))).Methods("PUT")
	s.router.Handle("/api/incidents/{id}/assign",
		coordinator(http.HandlerFunc(incidentHandlers.assign))).Methods("POST")

	s.router.Handle("/api/incidents/{id}/response",
		securityTeam(http.HandlerFunc(incidentHandlers.submitResponse))).Methods("POST")
	s.router.Handle("/api/incidents/{id}/response",
		s.guard.RequireAuthenticated(http.HandlerFunc(incidentHandlers.getResponse))).Methods("GET")

	s.router.Handle("/api/reports/statistics",
		manager(http.HandlerFunc(incidentHandlers.statistics))).Methods("GET")
}
