package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification errors. ErrTokenExpired is surfaced separately so the HTTP
// layer can return a precise message for the common case.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrUnknownKeyID = errors.New("token signed with unknown key")
	ErrMissingKeyID = errors.New("token header missing kid")
)

// Verifier validates Auth0-issued RS256 access tokens against the tenant's
// published signing keys.
type Verifier struct {
	jwks   *JWKSClient
	parser *jwt.Parser
}

// NewVerifier creates a Verifier checking signature, issuer, audience, and
// time-based claims. A small leeway absorbs clock skew between Auth0 and
// the service.
func NewVerifier(jwks *JWKSClient, issuer, audience string) *Verifier {
	return &Verifier{
		jwks: jwks,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses and validates the token string, returning its claims.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (Claims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrMissingKeyID
		}
		key, err := v.jwks.Key(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownKeyID, err)
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		if errors.Is(err, ErrMissingKeyID) || errors.Is(err, ErrUnknownKeyID) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return Claims(claims), nil
}
