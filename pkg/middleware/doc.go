// Package middleware provides the request authentication gate and the
// sign-in rate limiter.
//
// The gate tries the locally issued token scheme first because it needs
// no network access, then falls back to federated provider tokens. A
// request that presents no credential, or a credential that fails both
// schemes, continues down the chain unauthenticated; route guards in
// pkg/rbac decide whether that is acceptable.
package middleware
