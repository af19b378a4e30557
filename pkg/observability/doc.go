// Package observability provides structured logging, Prometheus metrics,
// health checks, and graceful shutdown for the SkyGuard service.
//
// The Logger wraps stdlib slog with a chainable field API. Metrics cover
// the HTTP surface plus the authentication pipeline: sign-in attempts,
// token verifications by scheme, and signing key refreshes. HealthChecker
// probes PostgreSQL and Redis; Redis is optional so its failure only
// degrades readiness instead of failing it.
package observability
