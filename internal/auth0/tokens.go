package auth0

import (
	"context"
	"log/slog"

	"github.com/vaultmind/vaultmind/internal/auth"
	"github.com/vaultmind/vaultmind/internal/logging"
)

// TokenSource resolves the delegated Google access token for a user. The
// token is minted by Google during the Auth0 login and surfaced either as
// a custom claim (via an Auth0 action) or through the Management API.
type TokenSource struct {
	namespace  string
	management *ManagementClient
	logger     *slog.Logger
}

// NewTokenSource creates a TokenSource. management may be nil when
// Management API credentials are not configured; resolution then relies on
// claims alone.
func NewTokenSource(namespace string, management *ManagementClient) *TokenSource {
	return &TokenSource{
		namespace:  namespace,
		management: management,
		logger:     slog.Default().With("component", "token_source"),
	}
}

// GoogleToken resolves the user's Google access token, trying in order:
// the namespaced custom claim, the bare claim, the Management API, and an
// identities array embedded in the claims. Returns empty when nothing is
// found; callers fall back to mock data.
func (s *TokenSource) GoogleToken(ctx context.Context, claims auth.Claims) string {
	if token := claims.String(s.namespace + "google_access_token"); token != "" {
		s.logger.Debug("google token from namespaced claim",
			logging.UserHash(claims.Subject()))
		return token
	}

	if token := claims.String("google_access_token"); token != "" {
		s.logger.Debug("google token from bare claim",
			logging.UserHash(claims.Subject()))
		return token
	}

	if s.management != nil {
		token, err := s.management.GoogleAccessToken(ctx, claims.Subject())
		if err != nil {
			s.logger.Warn("management API token lookup failed",
				logging.UserHash(claims.Subject()),
				logging.Err(err),
			)
		} else if token != "" {
			return token
		}
	}

	if token := tokenFromIdentities(claims["identities"]); token != "" {
		s.logger.Debug("google token from identities claim",
			logging.UserHash(claims.Subject()))
		return token
	}

	return ""
}

// tokenFromIdentities scans a decoded identities array for a google-oauth2
// entry carrying an access token.
func tokenFromIdentities(v any) string {
	identities, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, entry := range identities {
		identity, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if provider, _ := identity["provider"].(string); provider != "google-oauth2" {
			continue
		}
		if token, _ := identity["access_token"].(string); token != "" {
			return token
		}
	}
	return ""
}
