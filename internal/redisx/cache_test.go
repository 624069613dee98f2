package redisx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRedis overrides the few commands SummaryCache issues.
type memRedis struct {
	redis.Cmdable
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newMemRedis() *memRedis {
	return &memRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.err != nil {
		return redis.NewStringResult("", m.err)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	if m.err != nil {
		return redis.NewStatusResult("", m.err)
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.err)
}

func TestSummaryCache_RoundTrip(t *testing.T) {
	rdb := newMemRedis()
	c := NewSummaryCache(rdb)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "lowstock:s1:5")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "lowstock:s1:5", []byte(`{"seller_id":"s1"}`), time.Minute))
	assert.Equal(t, time.Minute, rdb.ttls[KeyPrefix+"lowstock:s1:5"])

	got, ok, err := c.Get(ctx, "lowstock:s1:5")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"seller_id":"s1"}`, string(got))
	assert.NoError(t, c.Ping(ctx))
}

func TestSummaryCache_Errors(t *testing.T) {
	rdb := newMemRedis()
	rdb.err = errors.New("connection refused")
	c := NewSummaryCache(rdb)

	_, ok, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	assert.Error(t, c.Ping(context.Background()))
}
