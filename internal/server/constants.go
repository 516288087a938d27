// Package server provides the local REST and WebSocket control surface
package server

import "time"

// Per-connection rate limiting for inbound WebSocket messages.
const (
	RateLimitMessages = 30          // max messages per window
	RateLimitWindow   = time.Second // sliding window duration
)
