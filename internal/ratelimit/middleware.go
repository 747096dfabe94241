package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/vaultmind/vaultmind/internal/instrumentation"
	"github.com/vaultmind/vaultmind/internal/logging"
)

// Limiter applies per-route, per-client rate limits to HTTP handlers.
type Limiter struct {
	store      Store
	trustProxy bool
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// NewLimiter creates a Limiter. metrics may be nil. trustProxy controls
// whether X-Forwarded-For is honored for client identification; enable it
// only behind a trusted reverse proxy.
func NewLimiter(store Store, trustProxy bool, metrics *instrumentation.Metrics) *Limiter {
	return &Limiter{
		store:      store,
		trustProxy: trustProxy,
		metrics:    metrics,
		logger:     slog.Default().With("component", "ratelimit"),
	}
}

// Middleware limits the wrapped handler to perMinute requests per client.
// The route name keys the budget and labels rejection metrics. Store
// errors fail open: availability wins over strict enforcement.
func (l *Limiter) Middleware(route string, perMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + l.clientIP(r)

			allowed, err := l.store.Allow(r.Context(), key, perMinute)
			if err != nil {
				l.logger.Warn("rate limit check failed, allowing request",
					logging.Err(err),
					slog.String(logging.KeyRoute, route),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				if l.metrics != nil {
					l.metrics.RecordRateLimitRejection(r.Context(), route)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"detail": "Rate limit exceeded. Please try again later.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP identifies the requesting client. With trustProxy enabled the
// first X-Forwarded-For hop wins; otherwise the connection's remote
// address is used.
func (l *Limiter) clientIP(r *http.Request) string {
	if l.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if first, _, found := strings.Cut(xff, ","); found || first != "" {
				return strings.TrimSpace(first)
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
