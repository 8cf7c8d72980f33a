// Package ratelimit implements a fixed-window request limiter shared by all
// server instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	Redis *redis.Client
	Now   func() time.Time
}

func New(rdb *redis.Client) *Limiter {
	return &Limiter{Redis: rdb, Now: time.Now}
}

// Result describes one limiter decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow counts one request for key in the current window and reports
// whether it stays within limit. A non-positive limit disables the check.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{Allowed: true, Remaining: -1}, nil
	}

	now := l.Now()
	slot := now.UnixNano() / int64(window)
	windowEnd := time.Unix(0, (slot+1)*int64(window))
	redisKey := fmt.Sprintf("rl:%s:%d", key, slot)

	pipe := l.Redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	count := int(incr.Val())
	if count > limit {
		return Result{Allowed: false, RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Result{Allowed: true, Remaining: limit - count}, nil
}
