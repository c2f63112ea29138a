package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripwire/internal/metrics"

	"github.com/redis/go-redis/v9"
)

// keyTTL outlives the day the key belongs to so late readers in other
// time zones still see it.
const keyTTL = 48 * time.Hour

type RedisClient interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisTracker shares counters between processes through Redis.
type RedisTracker struct {
	client RedisClient
	now    func() time.Time
}

func NewRedisTracker(client RedisClient) *RedisTracker {
	return &RedisTracker{client: client, now: time.Now}
}

func (t *RedisTracker) key(provider string) string {
	return fmt.Sprintf("usage:%s:%s", provider, dayKey(t.now()))
}

func (t *RedisTracker) Increment(ctx context.Context, provider string) (int64, error) {
	key := t.key(provider)
	var incr *redis.IntCmd
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, keyTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment usage %s: %w", key, err)
	}
	n := incr.Val()
	metrics.ProviderUsage.WithLabelValues(provider).Set(float64(n))
	return n, nil
}

func (t *RedisTracker) Count(ctx context.Context, provider string) (int64, error) {
	key := t.key(provider)
	n, err := t.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage %s: %w", key, err)
	}
	return n, nil
}

func (t *RedisTracker) Remaining(ctx context.Context, provider string, limit int64) (int64, error) {
	n, err := t.Count(ctx, provider)
	if err != nil {
		return 0, err
	}
	return remaining(n, limit), nil
}

func (t *RedisTracker) IsExhausted(ctx context.Context, provider string, limit int64) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	n, err := t.Count(ctx, provider)
	if err != nil {
		return false, err
	}
	return exhausted(n, limit), nil
}
