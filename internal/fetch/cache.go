package fetch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TongWu/JAVDB-AutoSpider/internal/metrics"
)

// Cache is a read-through page cache used for detail pages only; index
// pages are always fetched fresh.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

type redisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps a connected Redis client.
func NewRedisCache(client *redis.Client) Cache {
	return &redisCache{client: client, prefix: "spider:detail:"}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.Inc()
	return value, true
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	// Cache writes are best effort; a Redis outage never fails a fetch.
	_ = c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}
