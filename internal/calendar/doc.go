// Package calendar wraps the Google Calendar API for a single user's
// primary calendar, authorized by the delegated access token resolved
// from Auth0.
package calendar
