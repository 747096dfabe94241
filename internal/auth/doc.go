// Package auth verifies Auth0-issued access tokens.
//
// The JWKSClient caches the tenant's published RSA signing keys, the
// Verifier validates RS256 tokens against issuer and audience, and the
// Middleware guards HTTP routes, injecting verified claims into the
// request context.
package auth
