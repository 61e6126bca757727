package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a sliding-window rate limiter over a Redis sorted set. Each
// request is a member scored with its timestamp; entries outside the window
// are pruned on every check so the window slides continuously.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// Key builds the conventional limiter key for a subject and action,
// e.g. rl:<owner-id>:create.
func Key(subject, action string) string {
	return "rl:" + subject + ":" + action
}

// Allow records one request against key and reports whether it stays within
// limit over the trailing window. The prune, add, count and expire run in a
// single pipeline; a denied request's member is removed again so rejected
// traffic cannot keep the window saturated.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := l.now()
	windowStart := now.Add(-window)
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}

	if card.Val() > int64(limit) {
		// Denied requests do not count against the window.
		l.client.ZRem(ctx, key, member)
		return false, nil
	}
	return true, nil
}
