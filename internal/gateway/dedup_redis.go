package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "accord:gateway:event:"

// RedisDedup is a DedupStore shared across instances. Keys expire after the
// configured TTL, matching the agent's redelivery horizon.
type RedisDedup struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisDedup(client redis.Cmdable, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl}
}

func (d *RedisDedup) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDedup) MarkSeen(ctx context.Context, key string) error {
	if err := d.client.Set(ctx, dedupKeyPrefix+key, "1", d.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}
