package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis is a Counter shared by every gateway instance
type Redis struct {
	client goredis.UniversalClient
}

var _ Counter = (*Redis)(nil)

// incrScript increments KEYS[1] and sets its expiry only when the key has none.
// ARGV[1] = ttl in milliseconds
var incrScript = goredis.NewScript(`
local v = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return v
`)

// NewRedis connects lazily to the server at addr
func NewRedis(addr, password string, db int) *Redis {
	return NewRedisFromClient(goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}))
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client goredis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache/redis: get %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := incrScript.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache/redis: incr %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
