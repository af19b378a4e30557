// Package federated validates bearer tokens issued by the external identity
// provider and normalizes their claims into the same principal shape local
// tokens produce.
//
// The validator checks signatures against a process-wide cached signing key
// set fetched from the provider's OIDC discovery document. The cache refreshes
// on a 12-hour interval and opportunistically when a token references an
// unknown key id, with forced refreshes throttled so a burst of invalid
// tokens cannot hammer the provider. Concurrent refreshes collapse into a
// single in-flight fetch; readers keep using the cached keys while it runs.
//
// The package also carries the interactive login flow (authorization-code
// exchange via the provider) and just-in-time provisioning of federated-only
// accounts.
package federated
