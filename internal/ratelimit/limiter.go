// Package ratelimit implements fixed-window request budgets in Redis: INCR on
// every hit, EXPIRE whenever the counter has no expiry yet.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	defaultPrefix = "app:"
	keySpace      = "ratelimit:"
)

type Config struct {
	Requests int
	Window   time.Duration
	// Prefix namespaces counters alongside the cache, e.g. "app:".
	Prefix string
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
}

type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Requests <= 0 {
		cfg.Requests = 1000
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Limiter{redis: client, config: cfg}
}

// Allow counts one hit against key and reports whether it fits the budget.
// INCR and TTL go out in one transaction; a counter found without expiry (first
// hit, or an EXPIRE lost earlier) gets the window applied, so no key can stay
// locked forever.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := l.config.Prefix + keySpace + key

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttlCmd := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	count := incr.Val()
	ttl := ttlCmd.Val()
	if ttl < 0 {
		if err := l.redis.Expire(ctx, redisKey, l.config.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		ttl = l.config.Window
	}

	decision := Decision{
		Allowed:   count <= int64(l.config.Requests),
		Limit:     l.config.Requests,
		Remaining: l.config.Requests - int(count),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !decision.Allowed {
		decision.RetryAfter = ttl
	}
	return decision, nil
}
