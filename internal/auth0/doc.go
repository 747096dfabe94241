// Package auth0 implements the Auth0 Management API client and the Google
// token resolution chain used to obtain delegated calendar access.
package auth0
