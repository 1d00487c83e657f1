package cache

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/retifyhq/storesync/metrics"
)

var tracer = otel.Tracer("github.com/retifyhq/storesync/cache")

const (
	keyPrefix  = "cache:"
	defaultTTL = 30 * time.Minute
)

// Loader fetches a value on a cache miss. The boolean return indicates
// whether a value exists; when false nothing is cached.
type Loader[T any] func(ctx context.Context) (T, bool, error)

// Cache is a read-through cache over Redis.
//
// T represents the type of values stored in the cache.
type Cache[T any] struct {
	client *redis.Client
	codec  Codec
	ttl    time.Duration
	stats  *statsBook

	traceEnabled bool
}

// Option configures a Cache.
type Option[T any] func(*Cache[T])

// WithCodec sets the value codec. The default is JSONCodec.
func WithCodec[T any](c Codec) Option[T] {
	return func(cc *Cache[T]) { cc.codec = c }
}

// WithDefaultTTL sets the TTL applied when Set receives a non-positive one.
func WithDefaultTTL[T any](d time.Duration) Option[T] {
	return func(cc *Cache[T]) { cc.ttl = d }
}

// WithTracing enables OpenTelemetry tracing for lookups.
func WithTracing[T any]() Option[T] {
	return func(cc *Cache[T]) { cc.traceEnabled = true }
}

// New returns a Cache using the provided Redis client.
func New[T any](client *redis.Client, opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		client: client,
		codec:  JSONCodec{},
		ttl:    defaultTTL,
		stats:  newStatsBook(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves the value for key. Every call is recorded as a hit or a
// miss; store errors count as misses and never propagate.
func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool) {
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, "Cache.Get")
		defer span.End()
	}

	var zero T
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		c.recordMiss(key, span)
		return zero, false
	}
	if err != nil {
		slog.Warn("cache: get failed, degrading to miss", "key", key, "error", err)
		c.recordMiss(key, span)
		return zero, false
	}
	var v T
	if err := c.codec.Unmarshal(data, &v); err != nil {
		slog.Warn("cache: undecodable entry, degrading to miss", "key", key, "error", err)
		c.recordMiss(key, span)
		return zero, false
	}
	c.recordHit(key, span)
	return v, true
}

// Set stores the value for key. A non-positive ttl applies the default.
// Store errors are logged and swallowed.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := c.codec.Marshal(value)
	if err != nil {
		slog.Warn("cache: marshal failed, skipping write", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		slog.Warn("cache: set failed", "key", key, "error", err)
	}
}

// GetOrLoad returns the cached value for key, invoking loader only on a
// miss. The loader's result is cached only when it reports a value. There is
// no single-flight de-duplication: concurrent misses for the same key each
// invoke the loader, so loaders must be idempotent and safe to run
// concurrently.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, loader Loader[T], ttl time.Duration) (T, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	v, ok, err := loader(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if ok {
		c.Set(ctx, key, v, ttl)
	}
	return v, nil
}

// Delete removes key from the cache. Errors are logged and swallowed.
func (c *Cache[T]) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		slog.Warn("cache: delete failed", "key", key, "error", err)
	}
}

// DeleteByPattern removes every key matching the glob pattern and returns
// how many were deleted. The scan runs in batches so large namespaces do
// not block the store.
func (c *Cache[T]) DeleteByPattern(ctx context.Context, pattern string) int64 {
	var deleted int64
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+pattern, 100).Result()
		if err != nil {
			slog.Warn("cache: scan failed", "pattern", pattern, "error", err)
			return deleted
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				slog.Warn("cache: pattern delete failed", "pattern", pattern, "error", err)
				return deleted
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted
		}
	}
}

// Stats returns a snapshot of the in-process hit/miss counters.
func (c *Cache[T]) Stats() Snapshot {
	return c.stats.snapshot()
}

// ResetStats zeroes all counters, global and per key shape.
func (c *Cache[T]) ResetStats() {
	c.stats.reset()
}

func (c *Cache[T]) recordHit(key string, span trace.Span) {
	c.stats.hit(key)
	metrics.CacheHits.Inc()
	if span != nil {
		span.SetAttributes(attribute.String("cache.result", "hit"))
	}
}

func (c *Cache[T]) recordMiss(key string, span trace.Span) {
	c.stats.miss(key)
	metrics.CacheMisses.Inc()
	if span != nil {
		span.SetAttributes(attribute.String("cache.result", "miss"))
	}
}
