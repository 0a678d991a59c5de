package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps one sorted set per key, scored by event time in milliseconds.
// It is shared by every instance pointed at the same Redis.
type RedisCounter struct {
	client    redis.Cmdable
	retention time.Duration
	now       func() time.Time
}

// NewRedisCounter creates a RedisCounter. A non-positive retention uses DefaultRetention.
func NewRedisCounter(client redis.Cmdable, retention time.Duration) *RedisCounter {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisCounter{client: client, retention: retention, now: time.Now}
}

// Add records one event and trims entries older than the retention period
func (c *RedisCounter) Add(ctx context.Context, key string, at time.Time) error {
	cutoff := c.now().Add(-c.retention).UnixMilli()
	member := strconv.FormatInt(at.UnixMilli(), 10) + ":" + uuid.NewString()

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, c.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("counter add %s: %w", key, err)
	}
	return nil
}

// Count returns the number of events within the trailing window
func (c *RedisCounter) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := c.now()
	from := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	to := strconv.FormatInt(now.UnixMilli(), 10)

	n, err := c.client.ZCount(ctx, key, from, to).Result()
	if err != nil {
		return 0, fmt.Errorf("counter count %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("counter reset %s: %w", key, err)
	}
	return nil
}
