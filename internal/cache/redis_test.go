//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client)
}

func TestRedisCounter(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	key := "test:" + t.Name()
	t.Cleanup(func() { r.client.Del(context.Background(), key) })

	v, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = r.Incr(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = r.Incr(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	ttl, err := r.client.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)
	assert.Greater(t, ttl, time.Duration(0))

	v, err = r.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}
