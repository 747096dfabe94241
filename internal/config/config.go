package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Rate limit store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Auth0Config holds the Auth0 tenant settings used for token verification
// and Management API access.
type Auth0Config struct {
	// Domain is the Auth0 tenant domain, e.g. "example.eu.auth0.com".
	Domain string

	// Audience is the API identifier expected in the token's aud claim.
	Audience string

	// ClientID and ClientSecret authenticate the Management API
	// client-credentials exchange. Optional; without them the Google
	// token resolution falls back to claims only.
	ClientID     string
	ClientSecret string

	// ClaimNamespace prefixes custom claims added by the Auth0 action,
	// e.g. "https://vaultmind.app/google_access_token".
	ClaimNamespace string
}

// IssuerURL returns the expected token issuer for the tenant.
func (c Auth0Config) IssuerURL() string {
	return fmt.Sprintf("https://%s/", c.Domain)
}

// JWKSURL returns the tenant's JSON Web Key Set endpoint.
func (c Auth0Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Domain)
}

// OpenAIConfig holds the LLM client settings.
type OpenAIConfig struct {
	// APIKey enables LLM-backed intent extraction. When empty the agent
	// runs with keyword-based intent detection only.
	APIKey string

	Model           string
	ModerationModel string

	// BaseURL overrides the API endpoint, primarily for tests.
	BaseURL string
}

// RateLimitConfig holds per-route request budgets, all per minute per
// client, plus the store backend selection.
type RateLimitConfig struct {
	// Store selects the backend: "memory" (per instance) or "redis"
	// (shared across replicas).
	Store string

	RedisURL      string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	Health        int
	Chat          int
	CalendarRead  int
	CalendarWrite int
	Audit         int
}

// Config is the full service configuration, loaded from the environment.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string

	// CORSAllowedOrigins are the browser origins allowed to call the API.
	CORSAllowedOrigins []string

	// TrustProxy enables honoring X-Forwarded-For for client IPs. Only
	// set this when the service runs behind a trusted reverse proxy.
	TrustProxy bool

	Auth0     Auth0Config
	OpenAI    OpenAIConfig
	RateLimit RateLimitConfig
}

// Load reads the configuration from environment variables, applying
// defaults for everything optional.
func Load() (*Config, error) {
	redisDB, err := getEnvIntOrDefault("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	rl := RateLimitConfig{
		Store:         getEnvOrDefault("RATE_LIMIT_STORE", StoreMemory),
		RedisURL:      getEnvOrDefault("REDIS_URL", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		KeyPrefix:     getEnvOrDefault("RATE_LIMIT_KEY_PREFIX", "vaultmind:rl:"),
	}
	for _, l := range []struct {
		env  string
		dst  *int
		dflt int
	}{
		{"RATE_LIMIT_HEALTH", &rl.Health, 100},
		{"RATE_LIMIT_CHAT", &rl.Chat, 10},
		{"RATE_LIMIT_CALENDAR_READ", &rl.CalendarRead, 60},
		{"RATE_LIMIT_CALENDAR_WRITE", &rl.CalendarWrite, 20},
		{"RATE_LIMIT_AUDIT", &rl.Audit, 30},
	} {
		v, err := getEnvIntOrDefault(l.env, l.dflt)
		if err != nil {
			return nil, err
		}
		*l.dst = v
	}

	cfg := &Config{
		HTTPAddr: getEnvOrDefault("HTTP_ADDR", ":8000"),
		CORSAllowedOrigins: splitAndTrim(getEnvOrDefault("CORS_ALLOWED_ORIGINS",
			"http://localhost:3000,https://vaultmind-app.vercel.app")),
		TrustProxy: getEnvBoolOrDefault("TRUST_PROXY", false),
		Auth0: Auth0Config{
			Domain:         os.Getenv("AUTH0_DOMAIN"),
			Audience:       os.Getenv("AUTH0_AUDIENCE"),
			ClientID:       os.Getenv("AUTH0_CLIENT_ID"),
			ClientSecret:   os.Getenv("AUTH0_CLIENT_SECRET"),
			ClaimNamespace: getEnvOrDefault("AUTH0_CLAIM_NAMESPACE", "https://vaultmind.app/"),
		},
		OpenAI: OpenAIConfig{
			APIKey:          os.Getenv("OPENAI_API_KEY"),
			Model:           getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			ModerationModel: getEnvOrDefault("OPENAI_MODERATION_MODEL", "omni-moderation-latest"),
			BaseURL:         getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		},
		RateLimit: rl,
	}
	return cfg, nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.Auth0.Domain == "" {
		return fmt.Errorf("AUTH0_DOMAIN is required")
	}
	if c.Auth0.Audience == "" {
		return fmt.Errorf("AUTH0_AUDIENCE is required")
	}
	if strings.Contains(c.Auth0.Domain, "://") {
		return fmt.Errorf("AUTH0_DOMAIN must be a bare domain, got %q", c.Auth0.Domain)
	}
	switch c.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("invalid RATE_LIMIT_STORE %q: must be %q or %q",
			c.RateLimit.Store, StoreMemory, StoreRedis)
	}
	for _, l := range []struct {
		name  string
		value int
	}{
		{"RATE_LIMIT_HEALTH", c.RateLimit.Health},
		{"RATE_LIMIT_CHAT", c.RateLimit.Chat},
		{"RATE_LIMIT_CALENDAR_READ", c.RateLimit.CalendarRead},
		{"RATE_LIMIT_CALENDAR_WRITE", c.RateLimit.CalendarWrite},
		{"RATE_LIMIT_AUDIT", c.RateLimit.Audit},
	} {
		if l.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", l.name, l.value)
		}
	}
	if len(c.CORSAllowedOrigins) == 0 {
		return fmt.Errorf("CORS_ALLOWED_ORIGINS must list at least one origin")
	}
	return nil
}

// HasManagementCredentials reports whether the Management API fallback for
// Google token resolution is configured.
func (c *Config) HasManagementCredentials() bool {
	return c.Auth0.ClientID != "" && c.Auth0.ClientSecret != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q", key, value)
	}
	return parsed, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
