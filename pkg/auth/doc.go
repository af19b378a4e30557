// Package auth implements the local half of SkyGuard's dual-scheme
// authentication: user and principal types, the closed role enumeration,
// password verification with per-user salted HMAC-SHA512 digests,
// refresh-token rotation, and the HS512 access-token issuer.
//
// The federated half (provider-issued tokens validated against a remote
// key set) lives in pkg/federated; both produce the same Principal shape.
package auth
