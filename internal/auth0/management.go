package auth0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/vaultmind/vaultmind/internal/logging"
)

// tokenExpiryMargin is subtracted from the advertised lifetime so a cached
// Management API token is never used right at its expiry edge.
const tokenExpiryMargin = 5 * time.Minute

// ManagementClient calls the Auth0 Management API using the
// client-credentials grant. It is used to read a user's upstream identity
// provider tokens (the "token vault" pattern).
type ManagementClient struct {
	domain       string
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// ManagementOption configures a ManagementClient.
type ManagementOption func(*ManagementClient)

// WithBaseURL overrides the tenant base URL, primarily for tests.
func WithBaseURL(baseURL string) ManagementOption {
	return func(c *ManagementClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ManagementOption {
	return func(c *ManagementClient) {
		c.httpClient = client
	}
}

// NewManagementClient creates a Management API client for the tenant.
func NewManagementClient(domain, clientID, clientSecret string, opts ...ManagementOption) *ManagementClient {
	c := &ManagementClient{
		domain:       domain,
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      fmt.Sprintf("https://%s", domain),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       slog.Default().With("component", "auth0_management"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity is one upstream identity linked to an Auth0 user.
type Identity struct {
	Provider    string `json:"provider"`
	UserID      any    `json:"user_id"`
	AccessToken string `json:"access_token"`
	Connection  string `json:"connection"`
	IsSocial    bool   `json:"isSocial"`
}

// UserIdentities fetches the identities linked to the given user.
func (c *ManagementClient) UserIdentities(ctx context.Context, userID string) ([]Identity, error) {
	token, err := c.managementToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain management token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v2/users/%s?fields=identities&include_fields=true",
		c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("management API returned %d: %s", resp.StatusCode, string(body))
	}

	var user struct {
		Identities []Identity `json:"identities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user response: %w", err)
	}
	return user.Identities, nil
}

// GoogleAccessToken returns the user's Google access token from the
// google-oauth2 identity, or empty when the user has none.
func (c *ManagementClient) GoogleAccessToken(ctx context.Context, userID string) (string, error) {
	identities, err := c.UserIdentities(ctx, userID)
	if err != nil {
		return "", err
	}
	for _, id := range identities {
		if id.Provider == "google-oauth2" && id.AccessToken != "" {
			c.logger.Debug("resolved Google token from management API",
				logging.UserHash(userID),
				"token", logging.SanitizeToken(id.AccessToken),
			)
			return id.AccessToken, nil
		}
	}
	return "", nil
}

// managementToken returns a cached client-credentials token, requesting a
// new one when the cached token is within the expiry margin.
func (c *ManagementClient) managementToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"audience":      fmt.Sprintf("https://%s/api/v2/", c.domain),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned empty access token")
	}

	c.token = tokenResp.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpiryMargin)
	c.logger.Debug("management token refreshed", "expires_in", tokenResp.ExpiresIn)
	return c.token, nil
}
