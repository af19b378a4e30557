// Package audit records security-relevant authentication events.
//
// Every sign-in, refresh, revocation, federated provisioning, and
// access denial leaves an immutable row in PostgreSQL with the actor,
// client address, and request ID. Recording is best-effort from the
// caller's point of view: handlers push events through a worker pool so
// an audit write never blocks or fails a sign-in.
//
// Managers can query the trail through the /api/audit endpoint.
package audit
