// Package cache provides the ephemeral per-key counters used for secondary
// rate checks. Counters are an accelerator only; callers treat every error
// as "no limit enforced".
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Counter is a TTL-expiring integer counter store
type Counter interface {
	// Get returns the current value, 0 when the key is absent or expired
	Get(ctx context.Context, key string) (int64, error)
	// Incr adds one and returns the new value. The ttl is applied when the
	// key is created and is not extended by later increments.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a Counter implementation
type Options struct {
	Driver        string // redis, memory or none
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the Counter named by opts.Driver
func New(opts Options) (Counter, error) {
	switch strings.ToLower(opts.Driver) {
	case "redis":
		return NewRedis(opts.RedisAddr, opts.RedisPassword, opts.RedisDB), nil
	case "memory", "":
		return NewMemory(), nil
	case "none", "noop":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", opts.Driver)
	}
}
