package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultmind/vaultmind/internal/agent"
	"github.com/vaultmind/vaultmind/internal/audit"
	"github.com/vaultmind/vaultmind/internal/auth"
	"github.com/vaultmind/vaultmind/internal/calendar"
	"github.com/vaultmind/vaultmind/internal/instrumentation"
	"github.com/vaultmind/vaultmind/internal/ratelimit"
)

const (
	// DefaultAddr is the default address for the API server.
	DefaultAddr = ":8000"

	// DefaultReadHeaderTimeout bounds how long a client may take to send
	// request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds the full request lifetime, sized for the
	// chat endpoint's upstream model call.
	DefaultWriteTimeout = 60 * time.Second

	// DefaultIdleTimeout is how long keep-alive connections are held open.
	DefaultIdleTimeout = 120 * time.Second
)

// ChatAgent handles one chat message and reports the action taken.
type ChatAgent interface {
	ProcessMessage(ctx context.Context, message, userID string, claims auth.Claims, timezone string) *agent.Result
}

// GoogleTokenSource resolves a user's delegated Google access token.
type GoogleTokenSource interface {
	GoogleToken(ctx context.Context, claims auth.Claims) string
}

// CalendarService is the calendar surface the endpoints use.
type CalendarService interface {
	ListEvents(ctx context.Context, maxResults int64, timeMin time.Time) ([]calendar.Event, error)
	CreateEvent(ctx context.Context, input calendar.EventInput) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, eventID string, input calendar.EventInput) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// CalendarFactory builds a calendar client for a delegated access token.
type CalendarFactory func(ctx context.Context, accessToken string) (CalendarService, error)

// RateLimits are per-route request budgets, in requests per client per
// minute.
type RateLimits struct {
	Health        int
	Chat          int
	CalendarRead  int
	CalendarWrite int
	Audit         int
}

// DefaultRateLimits returns the standard per-route budgets.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Health:        100,
		Chat:          10,
		CalendarRead:  60,
		CalendarWrite: 20,
		Audit:         30,
	}
}

// Config holds the API server's settings and dependencies.
type Config struct {
	// Addr is the address to bind to (e.g., ":8000").
	Addr string

	// AllowedOrigins are the browser origins permitted to call the API.
	AllowedOrigins []string

	// Version is reported by the health endpoint.
	Version string

	// TrustProxy enables X-Forwarded-For client identification. Enable
	// only behind a trusted reverse proxy.
	TrustProxy bool

	// RateLimits are the per-route request budgets. Zero value means
	// DefaultRateLimits.
	RateLimits RateLimits

	// Verifier validates bearer tokens on protected routes.
	Verifier auth.TokenVerifier

	// Agent processes chat messages.
	Agent ChatAgent

	// Tokens resolves delegated Google access tokens from claims.
	Tokens GoogleTokenSource

	// NewCalendar builds calendar clients for delegated tokens.
	NewCalendar CalendarFactory

	// AuditStore records per-user action history.
	AuditStore *audit.Store

	// LimitStore backs the rate limiter.
	LimitStore ratelimit.Store

	// Metrics records request metrics. May be nil.
	Metrics *instrumentation.Metrics
}

// Server is the VaultMind API server.
type Server struct {
	config      Config
	agent       ChatAgent
	tokens      GoogleTokenSource
	newCalendar CalendarFactory
	auditStore  *audit.Store
	authMW      *auth.Middleware
	limiter     *ratelimit.Limiter
	health      *HealthChecker
	httpServer  *http.Server
	logger      *slog.Logger
}

// New creates the API server.
func New(config Config) (*Server, error) {
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.RateLimits == (RateLimits{}) {
		config.RateLimits = DefaultRateLimits()
	}

	switch {
	case config.Verifier == nil:
		return nil, fmt.Errorf("token verifier is required")
	case config.Agent == nil:
		return nil, fmt.Errorf("chat agent is required")
	case config.Tokens == nil:
		return nil, fmt.Errorf("google token source is required")
	case config.NewCalendar == nil:
		return nil, fmt.Errorf("calendar factory is required")
	case config.AuditStore == nil:
		return nil, fmt.Errorf("audit store is required")
	case config.LimitStore == nil:
		return nil, fmt.Errorf("rate limit store is required")
	}

	return &Server{
		config:      config,
		agent:       config.Agent,
		tokens:      config.Tokens,
		newCalendar: config.NewCalendar,
		auditStore:  config.AuditStore,
		authMW:      auth.NewMiddleware(config.Verifier, config.Metrics),
		limiter:     ratelimit.NewLimiter(config.LimitStore, config.TrustProxy, config.Metrics),
		health:      NewHealthChecker(),
		logger:      slog.Default().With("component", "server"),
	}, nil
}

// Handler returns the server's HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	rl := s.config.RateLimits

	// The rate limiter keys on client IP, so it runs before auth. Per
	// route the limiter wraps auth which wraps the handler.
	protected := func(route string, perMinute int, h http.HandlerFunc) http.Handler {
		return s.limiter.Middleware(route, perMinute)(s.authMW.Require(h))
	}

	mux.Handle("GET /health", s.limiter.Middleware("health", rl.Health)(http.HandlerFunc(s.handleHealth)))
	mux.Handle("POST /agent/chat", protected("chat", rl.Chat, s.handleChat))
	mux.Handle("GET /agent/calendar", protected("calendar_read", rl.CalendarRead, s.handleCalendarList))
	mux.Handle("POST /agent/calendar", protected("calendar_write", rl.CalendarWrite, s.handleCalendarCreate))
	mux.Handle("PUT /agent/calendar/{id}", protected("calendar_write", rl.CalendarWrite, s.handleCalendarUpdate))
	mux.Handle("DELETE /agent/calendar/{id}", protected("calendar_write", rl.CalendarWrite, s.handleCalendarDelete))
	mux.Handle("GET /audit/logs", protected("audit", rl.Audit, s.handleAuditLogs))

	mux.Handle("GET /healthz", s.health.LivenessHandler())
	mux.Handle("GET /readyz", s.health.ReadinessHandler())

	handler := requestMiddleware(s.config.Metrics)(mux)
	return corsMiddleware(s.config.AllowedOrigins)(handler)
}

// Start starts the API server, blocking until it stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	s.health.SetReady(true)
	s.logger.Info("starting API server", "addr", s.config.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the server gracefully. Readiness flips first so load
// balancers stop routing new traffic before connections close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()
	s.health.SetReady(false)

	if s.httpServer != nil {
		s.logger.Info("shutting down API server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Addr
}
