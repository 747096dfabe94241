package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://tenant.eu.auth0.com/"
	testAudience = "https://api.vaultmind.app"
)

// jwksServer serves a mutable key set and counts fetches.
type jwksServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetches int
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: map[string]*rsa.PublicKey{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fetches++
		keys := make([]map[string]string, 0, len(s.keys))
		for kid, pub := range s.keys {
			keys = append(keys, map[string]string{
				"kty": "RSA",
				"kid": kid,
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"keys": keys}); err != nil {
			t.Errorf("encode JWKS: %v", err)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKey(kid string, pub *rsa.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = pub
}

func (s *jwksServer) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func defaultClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": "google-oauth2|1234567890",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestVerifier_ValidToken(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(NewJWKSClient(srv.URL), testIssuer, testAudience)

	claims, err := v.Verify(context.Background(), signToken(t, key, "key-1", defaultClaims()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got := claims.Subject(); got != "google-oauth2|1234567890" {
		t.Errorf("Subject = %q", got)
	}
}

func TestVerifier_ExpiredToken(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(NewJWKSClient(srv.URL), testIssuer, testAudience)

	claims := defaultClaims()
	claims["iat"] = time.Now().Add(-2 * time.Hour).Unix()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err := v.Verify(context.Background(), signToken(t, key, "key-1", claims))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifier_WrongAudience(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(NewJWKSClient(srv.URL), testIssuer, testAudience)

	claims := defaultClaims()
	claims["aud"] = "https://other-api.example"

	_, err := v.Verify(context.Background(), signToken(t, key, "key-1", claims))
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Verify error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifier_WrongIssuer(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(NewJWKSClient(srv.URL), testIssuer, testAudience)

	claims := defaultClaims()
	claims["iss"] = "https://evil.example/"

	if _, err := v.Verify(context.Background(), signToken(t, key, "key-1", claims)); err == nil {
		t.Fatal("expected error for wrong issuer")
	}
}

func TestVerifier_WrongSigningKey(t *testing.T) {
	key := generateKey(t)
	other := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(NewJWKSClient(srv.URL), testIssuer, testAudience)

	if _, err := v.Verify(context.Background(), signToken(t, other, "key-1", defaultClaims())); err == nil {
		t.Fatal("expected error for signature mismatch")
	}
}

func TestVerifier_MissingKid(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(NewJWKSClient(srv.URL), testIssuer, testAudience)

	_, err := v.Verify(context.Background(), signToken(t, key, "", defaultClaims()))
	if !errors.Is(err, ErrMissingKeyID) {
		t.Fatalf("Verify error = %v, want ErrMissingKeyID", err)
	}
}

func TestVerifier_UnknownKid(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	v := NewVerifier(NewJWKSClient(srv.URL), testIssuer, testAudience)

	_, err := v.Verify(context.Background(), signToken(t, key, "rotated-away", defaultClaims()))
	if !errors.Is(err, ErrUnknownKeyID) {
		t.Fatalf("Verify error = %v, want ErrUnknownKeyID", err)
	}
}

func TestVerifier_KeyRotation(t *testing.T) {
	oldKey := generateKey(t)
	newKey := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &oldKey.PublicKey)

	jwks := NewJWKSClient(srv.URL)
	v := NewVerifier(jwks, testIssuer, testAudience)

	if _, err := v.Verify(context.Background(), signToken(t, oldKey, "key-1", defaultClaims())); err != nil {
		t.Fatalf("Verify with initial key: %v", err)
	}

	// Token signed with a freshly published key forces a refetch.
	srv.setKey("key-2", &newKey.PublicKey)
	if _, err := v.Verify(context.Background(), signToken(t, newKey, "key-2", defaultClaims())); err != nil {
		t.Fatalf("Verify after rotation: %v", err)
	}
}

func TestJWKSClient_CachesWithinTTL(t *testing.T) {
	key := generateKey(t)
	srv := newJWKSServer(t)
	srv.setKey("key-1", &key.PublicKey)

	jwks := NewJWKSClient(srv.URL)
	v := NewVerifier(jwks, testIssuer, testAudience)

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), signToken(t, key, "key-1", defaultClaims())); err != nil {
			t.Fatalf("Verify %d: %v", i, err)
		}
	}
	if got := srv.fetchCount(); got != 1 {
		t.Errorf("JWKS fetched %d times, want 1", got)
	}
}

func TestJWKSClient_PreloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	jwks := NewJWKSClient(srv.URL)
	if err := jwks.Preload(context.Background()); err == nil {
		t.Fatal("expected preload error")
	}
}

func TestParseRSAKey_Invalid(t *testing.T) {
	if _, err := parseRSAKey(jwk{Kty: "RSA", Kid: "k", N: "!!!", E: "AQAB"}); err == nil {
		t.Error("expected error for invalid modulus encoding")
	}
	if _, err := parseRSAKey(jwk{Kty: "RSA", Kid: "k", N: "AQAB", E: "AQ"}); err == nil {
		t.Error("expected error for exponent <= 1")
	}
}
