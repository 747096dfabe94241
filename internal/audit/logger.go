package audit

import (
	"log/slog"

	"github.com/vaultmind/vaultmind/internal/instrumentation"
	"github.com/vaultmind/vaultmind/internal/logging"
)

// Logger mirrors audit entries into the structured log stream. User
// identifiers are anonymized unless PII logging is explicitly enabled.
type Logger struct {
	logger     *slog.Logger
	enabled    bool
	includePII bool
}

// NewLogger creates an audit logger from the audit logging configuration.
func NewLogger(cfg instrumentation.AuditLoggingConfig) *Logger {
	return &Logger{
		logger:     slog.Default().With("component", "audit"),
		enabled:    cfg.Enabled,
		includePII: cfg.IncludePII,
	}
}

// Log writes one audit entry to the log stream.
func (l *Logger) Log(entry Entry) {
	if l == nil || !l.enabled {
		return
	}

	user := logging.AnonymizeSubject(entry.UserID)
	if l.includePII {
		user = entry.UserID
	}

	attrs := []any{
		slog.String("audit_id", entry.ID),
		slog.String("user", user),
		logging.Action(entry.Action),
		slog.Bool("success", entry.Success),
	}
	if entry.IPAddress != "" && l.includePII {
		attrs = append(attrs, slog.String("ip", entry.IPAddress))
	}

	l.logger.Info("audit event", attrs...)
}
