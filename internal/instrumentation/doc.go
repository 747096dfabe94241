// Package instrumentation provides OpenTelemetry-based observability for
// the VaultMind backend.
//
// It wires metrics (Prometheus, OTLP, or stdout exporters) and distributed
// tracing (OTLP or stdout) behind a single Provider, plus a Metrics recorder
// with the service's domain instruments: HTTP request counts and latencies,
// agent chat message outcomes, moderation check outcomes, Google API
// operation counts and latencies, JWT verification results, and rate limit
// rejections.
//
// Everything is configured from the environment via DefaultConfig; setting
// INSTRUMENTATION_ENABLED=false yields a no-op provider whose Metrics
// recorder safely discards all recordings.
package instrumentation
