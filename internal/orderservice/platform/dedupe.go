package platform

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupeTTL keeps a webhook reservation long past any realistic redelivery
// window.
const dedupeTTL = 24 * time.Hour

// RedisDeduper reserves (platform, external_id) pairs with SETNX so a
// redelivered webhook never creates a second order.
type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

func (r *RedisDeduper) Reserve(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, key, 1, dedupeTTL).Result()
}

// Release deletes a reservation whose order creation failed.
func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
