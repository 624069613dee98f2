package redisx

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key this service writes.
const KeyPrefix = "storefront:"

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// SummaryCache stores encoded low stock summaries with a TTL.
type SummaryCache struct {
	rdb redis.Cmdable
}

func NewSummaryCache(rdb redis.Cmdable) *SummaryCache {
	return &SummaryCache{rdb: rdb}
}

func (c *SummaryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *SummaryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, KeyPrefix+key, value, ttl).Err()
}

// Ping reports whether redis is reachable.
func (c *SummaryCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
