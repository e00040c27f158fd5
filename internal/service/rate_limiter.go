package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tomlidgett1/TapLoyaltyWeb-sub015/pkg/database"
)

// RateDecision is the outcome of a rate limit check
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter is a sliding-window log limiter shared through Redis
type RateLimiter struct {
	redis *database.Redis
	now   func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *database.Redis) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

// Allow records a request for key and reports whether it fits in limit per window.
// Rejected requests are not recorded.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateDecision, error) {
	now := r.now()
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowStart := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, redisKey, "0", windowStart)
		count = pipe.ZCard(ctx, redisKey)
		oldest = pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read rate window: %w", err)
	}

	used := int(count.Val())
	decision := &RateDecision{Limit: limit, Remaining: max(limit-used-1, 0)}

	if used >= limit {
		decision.Remaining = 0
		if z := oldest.Val(); len(z) > 0 {
			oldestAt := time.UnixMilli(int64(z[0].Score))
			decision.RetryAfter = window - now.Sub(oldestAt)
		}
		if decision.RetryAfter <= 0 {
			decision.RetryAfter = time.Second
		}
		return decision, nil
	}

	_, err = r.redis.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: uuid.NewString(),
		})
		pipe.Expire(ctx, redisKey, window+time.Minute)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}

	decision.Allowed = true
	return decision, nil
}
