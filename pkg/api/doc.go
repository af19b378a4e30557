// Package api wires the HTTP surface: authentication endpoints, the
// incident platform routes behind role guards, and the audit query
// endpoint for managers.
//
// Route protection is layered. The authentication gate runs on every
// request and attaches a principal when either token scheme verifies;
// per-route guards then decide between 401 (no principal) and 403
// (wrong role). Sign-in endpoints additionally sit behind the Redis
// rate limiter.
package api
