// Package ratelimit provides a pluggable rate limiting interface.
//
// The server ships an in-memory token bucket per key (MemoryLimiter). A
// shared implementation can be substituted for cross-instance coordination;
// the Limiter interface is the contract. A limiter that also has a
// RetryAfter(key string) time.Duration method sizes the Retry-After header
// of rejected requests.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open (permit the request) rather than blocking traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// IPKeyFunc extracts the client IP from the request for rate limiting.
// Uses RemoteAddr unless trustProxy is set, in which case the first
// X-Forwarded-For hop wins. Only trust the header behind a proxy that
// overwrites it; any client can set an arbitrary value.
func IPKeyFunc(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
