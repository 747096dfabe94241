package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vaultmind/vaultmind/internal/agent"
	"github.com/vaultmind/vaultmind/internal/audit"
	"github.com/vaultmind/vaultmind/internal/auth"
	"github.com/vaultmind/vaultmind/internal/auth0"
	"github.com/vaultmind/vaultmind/internal/calendar"
	"github.com/vaultmind/vaultmind/internal/config"
	"github.com/vaultmind/vaultmind/internal/instrumentation"
	"github.com/vaultmind/vaultmind/internal/logging"
	"github.com/vaultmind/vaultmind/internal/openai"
	"github.com/vaultmind/vaultmind/internal/ratelimit"
	"github.com/vaultmind/vaultmind/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		debugMode      bool
		httpAddr       string
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the VaultMind API server",
		Long: `Start the VaultMind API server.

The server exposes the chat agent, calendar, and audit endpoints and
verifies every request against Auth0-issued JWTs.

Required configuration (environment variables):
  AUTH0_DOMAIN       Auth0 tenant domain (e.g. example.eu.auth0.com)
  AUTH0_AUDIENCE     API identifier expected in the token audience

Optional configuration:
  AUTH0_CLIENT_ID / AUTH0_CLIENT_SECRET
      Management API credentials for resolving delegated Google tokens.
      Without them only token claims are consulted.
  OPENAI_API_KEY
      Enables LLM-backed intent extraction. Without it the agent falls
      back to keyword-based intent detection.
  RATE_LIMIT_STORE
      "memory" (default, per instance) or "redis" (shared across
      replicas, requires REDIS_URL).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(debugMode, httpAddr, metricsEnabled, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "API server address. Can also use HTTP_ADDR env var. Default: :8000")
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(debugMode bool, httpAddr string, metricsEnabled bool, metricsAddr string) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logging.Setup(debugMode)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Load metrics config from environment if not set via flags
	if metricsEnabled && os.Getenv("METRICS_ENABLED") == "false" {
		metricsEnabled = false
	}
	if metricsAddr == "" || metricsAddr == server.DefaultMetricsAddr {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			metricsAddr = addr
		}
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if metricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    metricsAddr,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	// Token verification against the Auth0 tenant. A failed preload is not
	// fatal: keys load on the first request instead.
	jwks := auth.NewJWKSClient(cfg.Auth0.JWKSURL())
	if err := jwks.Preload(shutdownCtx); err != nil {
		slog.Warn("JWKS preload failed, keys will load on first request", logging.Err(err))
	}
	verifier := auth.NewVerifier(jwks, cfg.Auth0.IssuerURL(), cfg.Auth0.Audience)

	// Google token resolution: claims first, Management API as fallback
	// when credentials are configured.
	var management *auth0.ManagementClient
	if cfg.HasManagementCredentials() {
		management = auth0.NewManagementClient(cfg.Auth0.Domain, cfg.Auth0.ClientID, cfg.Auth0.ClientSecret)
	} else {
		slog.Warn("Auth0 management credentials not configured, Google token resolution uses claims only")
	}
	tokens := auth0.NewTokenSource(cfg.Auth0.ClaimNamespace, management)

	var llm agent.LLM
	if cfg.OpenAI.APIKey != "" {
		llm = openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.ModerationModel,
			openai.WithBaseURL(cfg.OpenAI.BaseURL))
	} else {
		slog.Warn("OPENAI_API_KEY not set, using keyword-based intent detection")
	}

	auditStore := audit.NewStore(audit.WithLogger(audit.NewLogger(instrConfig.AuditLogging)))

	chatAgent := agent.New(llm, tokens, auditStore,
		func(ctx context.Context, accessToken string) (agent.CalendarService, error) {
			return calendar.NewClientWithToken(ctx, accessToken, calendar.WithMetrics(metrics))
		},
		agent.WithMetrics(metrics),
	)

	limitStore, closeLimitStore, err := newLimitStore(cfg)
	if err != nil {
		return err
	}
	defer closeLimitStore()

	srv, err := server.New(server.Config{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Version:        version,
		TrustProxy:     cfg.TrustProxy,
		RateLimits: server.RateLimits{
			Health:        cfg.RateLimit.Health,
			Chat:          cfg.RateLimit.Chat,
			CalendarRead:  cfg.RateLimit.CalendarRead,
			CalendarWrite: cfg.RateLimit.CalendarWrite,
			Audit:         cfg.RateLimit.Audit,
		},
		Verifier: verifier,
		Agent:    chatAgent,
		Tokens:   tokens,
		NewCalendar: func(ctx context.Context, accessToken string) (server.CalendarService, error) {
			return calendar.NewClientWithToken(ctx, accessToken, calendar.WithMetrics(metrics))
		},
		AuditStore: auditStore,
		LimitStore: limitStore,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		defer close(serverErr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-shutdownCtx.Done():
		slog.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelTimeout()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("metrics server shutdown failed", logging.Err(err))
		}
	}
	return nil
}

// newLimitStore builds the rate limit backend selected by configuration.
// The returned func releases the backend's resources on shutdown.
func newLimitStore(cfg *config.Config) (ratelimit.Store, func(), error) {
	switch cfg.RateLimit.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisURL,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		slog.Info("using redis rate limit store", "addr", cfg.RateLimit.RedisURL)
		return ratelimit.NewRedisStore(client, cfg.RateLimit.KeyPrefix), func() {
			if err := client.Close(); err != nil {
				slog.Error("failed to close redis client", logging.Err(err))
			}
		}, nil
	case config.StoreMemory:
		store := ratelimit.NewMemoryStore()
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit store: %s", cfg.RateLimit.Store)
	}
}
