// Package ratelimit provides per-route, per-client request limiting with
// interchangeable backends: an in-process token bucket store for single
// instances and a Redis fixed-window store for multi-replica deployments.
package ratelimit
