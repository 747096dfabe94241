// Package logging provides slog helpers shared across the backend:
// consistent attribute keys, anonymized user identifiers, and token
// sanitization for log output.
package logging
