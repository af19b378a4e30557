// Package rbac enforces role-based access on HTTP routes.
//
// The role model is a closed set (Coordinator, SecurityTeam, Manager)
// with no hierarchy or inheritance. A route either requires specific
// roles or merely requires an authenticated principal. Authorization
// never consults storage; the role travels inside the verified token,
// so a check is a pure in-memory comparison.
//
// Unauthenticated requests get 401, authenticated requests with the
// wrong role get 403. The two are never conflated.
package rbac
