package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tripwire/internal/metrics"
)

// MemoryTracker keeps counters in process memory.
type MemoryTracker struct {
	mu       sync.Mutex
	counters map[string]*atomic.Int64
	day      string
	now      func() time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		counters: make(map[string]*atomic.Int64),
		now:      time.Now,
	}
}

// WithClock replaces the time source; tests use it to cross UTC midnight.
func (t *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	t.now = now
	return t
}

func (t *MemoryTracker) counter(provider string) *atomic.Int64 {
	day := dayKey(t.now())

	t.mu.Lock()
	defer t.mu.Unlock()
	if day != t.day {
		// yesterday's counters can never be read again
		t.counters = make(map[string]*atomic.Int64)
		t.day = day
	}
	c, ok := t.counters[provider]
	if !ok {
		c = new(atomic.Int64)
		t.counters[provider] = c
	}
	return c
}

func (t *MemoryTracker) Increment(_ context.Context, provider string) (int64, error) {
	n := t.counter(provider).Add(1)
	metrics.ProviderUsage.WithLabelValues(provider).Set(float64(n))
	return n, nil
}

func (t *MemoryTracker) Count(_ context.Context, provider string) (int64, error) {
	return t.counter(provider).Load(), nil
}

func (t *MemoryTracker) Remaining(ctx context.Context, provider string, limit int64) (int64, error) {
	n, _ := t.Count(ctx, provider)
	return remaining(n, limit), nil
}

func (t *MemoryTracker) IsExhausted(ctx context.Context, provider string, limit int64) (bool, error) {
	n, _ := t.Count(ctx, provider)
	return exhausted(n, limit), nil
}
