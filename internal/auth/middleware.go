package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vaultmind/vaultmind/internal/instrumentation"
	"github.com/vaultmind/vaultmind/internal/logging"
)

// TokenVerifier validates a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (Claims, error)
}

// Middleware enforces bearer-token authentication on protected routes.
type Middleware struct {
	verifier TokenVerifier
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
}

// NewMiddleware creates the authentication middleware. metrics may be nil.
func NewMiddleware(verifier TokenVerifier, metrics *instrumentation.Metrics) *Middleware {
	return &Middleware{
		verifier: verifier,
		metrics:  metrics,
		logger:   slog.Default().With("component", "auth"),
	}
}

// Require wraps a handler, rejecting requests without a valid bearer token.
// Verified claims are injected into the request context.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			m.record(r, instrumentation.AuthResultFailure)
			unauthorized(w, "Missing or invalid authorization header")
			return
		}

		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.logger.Debug("token verification failed",
				logging.Err(err),
				"token", logging.SanitizeToken(token),
			)
			switch {
			case errors.Is(err, ErrTokenExpired):
				m.record(r, instrumentation.AuthResultExpired)
				unauthorized(w, "Token expired")
			default:
				m.record(r, instrumentation.AuthResultFailure)
				unauthorized(w, "Invalid authentication token")
			}
			return
		}

		m.record(r, instrumentation.AuthResultSuccess)
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

func (m *Middleware) record(r *http.Request, result string) {
	if m.metrics != nil {
		m.metrics.RecordAuthVerification(r.Context(), result)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
