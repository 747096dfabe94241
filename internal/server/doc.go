// Package server implements the VaultMind HTTP API: the health endpoint,
// the authenticated chat and calendar endpoints, and the per-user audit
// log endpoint. Every protected route sits behind bearer-token
// verification and a per-client rate limit, and all responses use a
// single {"detail": ...} error shape.
//
// A separate MetricsServer exposes Prometheus metrics on its own port so
// operational traffic never mixes with API traffic.
package server
