package notify

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

// RedisTransport implements Transport over Redis pub/sub.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport returns a Transport using the provided client.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

// Publish implements Transport.Publish.
func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}
