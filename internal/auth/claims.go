package auth

import "context"

// Claims is the decoded claim set of a verified access token.
type Claims map[string]any

// Subject returns the token's sub claim, or empty when absent.
func (c Claims) Subject() string {
	return c.String("sub")
}

// String returns the named claim when it is a string, or empty otherwise.
func (c Claims) String(name string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return ""
}

type contextKey struct{}

// ContextWithClaims returns a context carrying the verified claims.
func ContextWithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext extracts verified claims from the context. The second
// return is false for unauthenticated requests.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(Claims)
	return claims, ok
}
