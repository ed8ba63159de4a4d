// Package ratelimit provides keyed token-bucket rate limiting: per alarm name
// for issue creation and per client IP as Gin middleware, with automatic
// stale-entry cleanup.
package ratelimit
