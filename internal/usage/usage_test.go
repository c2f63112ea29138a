package usage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerConcurrentIncrements(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Increment(ctx, "fmp")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := tracker.Count(ctx, "fmp")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestMemoryTrackerQuota(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = tracker.Increment(ctx, "alphavantage")
	}

	left, _ := tracker.Remaining(ctx, "alphavantage", 5)
	assert.Equal(t, int64(2), left)
	done, _ := tracker.IsExhausted(ctx, "alphavantage", 3)
	assert.True(t, done, "count equal to limit is exhausted")
	done, _ = tracker.IsExhausted(ctx, "alphavantage", 4)
	assert.False(t, done)

	left, _ = tracker.Remaining(ctx, "alphavantage", 2)
	assert.Equal(t, int64(0), left)
	left, _ = tracker.Remaining(ctx, "alphavantage", 0)
	assert.Equal(t, Unlimited, left)
	done, _ = tracker.IsExhausted(ctx, "alphavantage", 0)
	assert.False(t, done, "zero limit is unlimited")
}

func TestMemoryTrackerResetsAtUTCMidnight(t *testing.T) {
	now := time.Date(2026, 5, 4, 23, 59, 0, 0, time.UTC)
	tracker := NewMemoryTracker().WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = tracker.Increment(ctx, "fmp")
	_, _ = tracker.Increment(ctx, "fmp")

	now = now.Add(2 * time.Minute)
	n, _ := tracker.Count(ctx, "fmp")
	assert.Equal(t, int64(0), n)

	n, _ = tracker.Increment(ctx, "fmp")
	assert.Equal(t, int64(1), n)
}

func TestRedisTrackerConcurrentIncrements(t *testing.T) {
	fake := newFakeRedis()
	tracker := NewRedisTracker(fake)
	tracker.now = func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tracker.Increment(ctx, "coingecko")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := tracker.Count(ctx, "coingecko")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	assert.Equal(t, keyTTL, fake.ttl["usage:coingecko:2026-05-04"])
}

func TestRedisTrackerMissingKeyIsZero(t *testing.T) {
	tracker := NewRedisTracker(newFakeRedis())

	n, err := tracker.Count(context.Background(), "fmp")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	done, err := tracker.IsExhausted(context.Background(), "fmp", 1)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRedisTrackerErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("redis down")
	tracker := NewRedisTracker(fake)

	_, err := tracker.Increment(context.Background(), "fmp")
	assert.ErrorContains(t, err, "redis down")
	_, err = tracker.IsExhausted(context.Background(), "fmp", 10)
	assert.ErrorContains(t, err, "redis down")

	done, err := tracker.IsExhausted(context.Background(), "fmp", 0)
	require.NoError(t, err, "unlimited providers never touch redis")
	assert.False(t, done)
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]int64
	ttl  map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]int64), ttl: make(map[string]time.Duration)}
}

func (f *fakeRedis) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := fn(&fakePipe{f: f}); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.FormatInt(v, 10), nil)
}

// fakePipe applies commands directly; the enclosing TxPipelined holds the lock.
type fakePipe struct {
	redis.Pipeliner
	f *fakeRedis
}

func (p *fakePipe) Incr(ctx context.Context, key string) *redis.IntCmd {
	p.f.data[key]++
	return redis.NewIntResult(p.f.data[key], nil)
}

func (p *fakePipe) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	p.f.ttl[key] = ttl
	return redis.NewBoolResult(true, nil)
}
