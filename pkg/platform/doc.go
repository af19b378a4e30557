// Package platform holds the incident-reporting domain that sits behind
// the authentication gate: incidents reported by coordinators, security
// responses filed by the security team, and aggregate reports for
// managers.
//
// The service interfaces are deliberately narrow; the HTTP layer in
// pkg/api depends on them, and the in-memory implementations here back
// both tests and single-node deployments.
package platform
