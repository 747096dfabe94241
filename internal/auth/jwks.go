package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// DefaultJWKSCacheTTL is how long a fetched key set is trusted before the
// next verification triggers a refresh.
const DefaultJWKSCacheTTL = time.Hour

// jwk is a single key from the tenant's JSON Web Key Set. Only RSA fields
// are mapped; non-RSA keys are skipped.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// JWKSClient fetches and caches the signing keys published at the Auth0
// tenant's JWKS endpoint.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// JWKSOption configures a JWKSClient.
type JWKSOption func(*JWKSClient)

// WithJWKSCacheTTL overrides the default cache lifetime.
func WithJWKSCacheTTL(ttl time.Duration) JWKSOption {
	return func(c *JWKSClient) {
		c.ttl = ttl
	}
}

// WithJWKSHTTPClient overrides the HTTP client used for fetches.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSClient) {
		c.httpClient = client
	}
}

// NewJWKSClient creates a client for the given JWKS URL.
func NewJWKSClient(url string, opts ...JWKSOption) *JWKSClient {
	c := &JWKSClient{
		url:        url,
		ttl:        DefaultJWKSCacheTTL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "jwks"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Preload fetches the key set once, typically at startup. Failures are
// returned but are safe to log and ignore: the next verification retries.
func (c *JWKSClient) Preload(ctx context.Context) error {
	return c.refresh(ctx)
}

// Key returns the RSA public key for the given kid. A stale cache is
// refreshed first; an unknown kid triggers one additional refresh to pick
// up rotated keys before failing.
func (c *JWKSClient) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		// A stale hit is still better than failing verification outright
		// when the tenant endpoint is briefly unreachable.
		if ok {
			c.logger.Warn("JWKS refresh failed, using cached key", "error", err)
			return key, nil
		}
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no key found for kid %q", kid)
	}
	return key, nil
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("JWKS endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode JWKS document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			c.logger.Warn("skipping unparseable JWKS key", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("JWKS document contains no usable RSA keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("JWKS refreshed", "keys", len(keys))
	return nil
}

// parseRSAKey builds an rsa.PublicKey from the base64url-encoded modulus
// and exponent of a JWK.
func parseRSAKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, fmt.Errorf("invalid exponent value %d", e)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
