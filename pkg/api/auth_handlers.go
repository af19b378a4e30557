package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skyguard-io/skyguard/pkg/audit"
	"github.com/skyguard-io/skyguard/pkg/auth"
	"github.com/skyguard-io/skyguard/pkg/contextkeys"
	"github.com/skyguard-io/skyguard/pkg/httputil"
	"github.com/skyguard-io/skyguard/pkg/middleware"
	"github.com/skyguard-io/skyguard/pkg/observability"
)

// authHandlers serves the /api/auth endpoints.
type authHandlers struct {
	store         auth.UserStore
	authenticator *auth.PasswordAuthenticator
	issuer        *auth.TokenIssuer
	validator     middleware.FederatedValidator
	resolver      middleware.FederatedResolver
	loginFlow     middleware.FederatedLoginFlow
	recorder      audit.Recorder
	metrics       *observability.Metrics
	log           *observability.Logger
}

func newAuthHandlers(deps Deps) *authHandlers {
	return &authHandlers{
		store:         deps.Store,
		authenticator: deps.Authenticator,
		issuer:        deps.Issuer,
		validator:     deps.Validator,
		resolver:      deps.Resolver,
		loginFlow:     deps.Login,
		recorder:      deps.Recorder,
		metrics:       deps.Metrics,
		log:           deps.Log,
	}
}

// userResponse is the public view of an account. Credentials never
// leave the server.
type userResponse struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      auth.Role  `json:"role"`
	Federated bool       `json:"federated"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

func toUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		Federated: u.Federated,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
	}
}

// tokenResponse is the token pair returned by every sign-in path.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

func (h *authHandlers) tokenPair(w http.ResponseWriter, user *auth.User) {
	access, err := h.issuer.Issue(user)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: user.RefreshToken,
		ExpiresIn:    int64(auth.AccessTokenTTL.Seconds()),
		User:         toUserResponse(user),
	}, "encoding token response")
}

// record writes an audit event, filling request metadata.
func (h *authHandlers) record(r *http.Request, eventType audit.EventType, outcome audit.Outcome, user *auth.User, detail string) {
	event := &audit.Event{
		Type:      eventType,
		Outcome:   outcome,
		IP:        httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: contextkeys.RequestID(r.Context()),
		Detail:    detail,
	}
	if user != nil {
		id := user.ID
		event.ActorID = &id
		event.ActorEmail = user.Email
	}
	if err := h.recorder.Record(r.Context(), event); err != nil {
		h.log.WithError(err).Warn("audit record failed")
	}
}

// register handles POST /api/auth/register
func (h *authHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	role, ok := auth.ParseRole(req.Role)
	if !ok {
		httputil.WriteBadRequest(w, "unknown role: "+req.Role)
		return
	}

	user, err := h.authenticator.Register(r.Context(), req.Email, req.Name, req.Password, role)
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			httputil.WriteConflict(w, "an account with this email already exists")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.record(r, audit.EventTypeRegister, audit.OutcomeSuccess, user, "")
	httputil.WriteJSONOrError(w, http.StatusCreated, toUserResponse(user), "encoding user")
}

// login handles POST /api/auth/login
func (h *authHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.authenticator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.observeSignIn("password", false)
		h.record(r, audit.EventTypeLoginFailed, audit.OutcomeFailure, nil, req.Email)
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}

	h.observeSignIn("password", true)
	h.record(r, audit.EventTypeLogin, audit.OutcomeSuccess, user, "")
	h.tokenPair(w, user)
}

// refresh handles POST /api/auth/refresh
func (h *authHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.authenticator.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.observeSignIn("refresh", false)
		httputil.WriteUnauthorized(w, "invalid or expired refresh token")
		return
	}

	h.observeSignIn("refresh", true)
	if h.metrics != nil {
		h.metrics.RefreshRotationsTotal.Inc()
	}
	h.record(r, audit.EventTypeRefresh, audit.OutcomeSuccess, user, "")
	h.tokenPair(w, user)
}

// federated handles POST /api/auth/federated. The client trades a
// provider token for a local token pair, provisioning the account on
// first sign-in.
func (h *authHandlers) federated(w http.ResponseWriter, r *http.Request) {
	if h.validator == nil || h.resolver == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "federated sign-in is not configured")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	identity := h.validator.Validate(r.Context(), req.Token)
	if identity == nil {
		h.observeSignIn("federated", false)
		h.record(r, audit.EventTypeLoginFailed, audit.OutcomeFailure, nil, "federated token rejected")
		httputil.WriteUnauthorized(w, "invalid provider token")
		return
	}

	user, err := h.resolver.Resolve(r.Context(), identity)
	if err != nil {
		h.observeSignIn("federated", false)
		httputil.WriteInternalError(w, err)
		return
	}

	h.observeSignIn("federated", true)
	h.record(r, audit.EventTypeFederatedLogin, audit.OutcomeSuccess, user, "")
	h.tokenPair(w, user)
}

// stateCookie carries the anti-forgery state between the redirect to the
// provider and the callback. Scoped to the federated endpoints only.
const stateCookie = "skyguard_oauth_state"

// federatedLogin handles GET /api/auth/federated/login
func (h *authHandlers) federatedLogin(w http.ResponseWriter, r *http.Request) {
	if h.loginFlow == nil || h.resolver == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "federated sign-in is not configured")
		return
	}

	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth/federated",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.loginFlow.AuthCodeURL(state), http.StatusFound)
}

// federatedCallback handles GET /api/auth/federated/callback
func (h *authHandlers) federatedCallback(w http.ResponseWriter, r *http.Request) {
	if h.loginFlow == nil || h.resolver == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "federated sign-in is not configured")
		return
	}

	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		h.observeSignIn("federated", false)
		h.record(r, audit.EventTypeLoginFailed, audit.OutcomeFailure, nil, "provider returned "+errCode)
		httputil.WriteUnauthorized(w, "provider rejected the sign-in")
		return
	}

	state := query.Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || state == "" || cookie.Value != state {
		h.record(r, audit.EventTypeLoginFailed, audit.OutcomeFailure, nil, "state mismatch on federated callback")
		httputil.WriteBadRequest(w, "state mismatch")
		return
	}
	// the state is single use
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/api/auth/federated", MaxAge: -1, HttpOnly: true})

	code := query.Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	identity, err := h.loginFlow.Exchange(r.Context(), code)
	if err != nil {
		h.observeSignIn("federated", false)
		h.record(r, audit.EventTypeLoginFailed, audit.OutcomeFailure, nil, "code exchange failed")
		httputil.WriteUnauthorized(w, "could not complete provider sign-in")
		return
	}

	user, err := h.resolver.Resolve(r.Context(), identity)
	if err != nil {
		h.observeSignIn("federated", false)
		httputil.WriteInternalError(w, err)
		return
	}

	h.observeSignIn("federated", true)
	h.record(r, audit.EventTypeFederatedLogin, audit.OutcomeSuccess, user, "")
	h.tokenPair(w, user)
}

// logout handles POST /api/auth/logout
func (h *authHandlers) logout(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())

	if err := h.authenticator.Revoke(r.Context(), p.UserID); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.record(r, audit.EventTypeRevoke, audit.OutcomeSuccess, &auth.User{ID: p.UserID, Email: p.Email}, "")
	httputil.WriteNoContent(w)
}

// me handles GET /api/auth/me
func (h *authHandlers) me(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFrom(r.Context())

	user, err := h.store.GetByID(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			httputil.WriteNotFound(w, "account no longer exists")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusOK, toUserResponse(user), "encoding user")
}

func (h *authHandlers) observeSignIn(method string, ok bool) {
	if h.metrics != nil {
		h.metrics.ObserveSignIn(method, ok)
	}
}
