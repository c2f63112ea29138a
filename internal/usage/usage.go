// Package usage counts upstream calls per provider per UTC day so the
// aggregator can skip a provider once its daily quota is spent.
package usage

import (
	"context"
	"time"
)

// Tracker is implemented by MemoryTracker and RedisTracker. Counters are keyed
// by provider and UTC date, so they reset implicitly at UTC midnight.
type Tracker interface {
	Increment(ctx context.Context, provider string) (int64, error)
	Count(ctx context.Context, provider string) (int64, error)
	Remaining(ctx context.Context, provider string, limit int64) (int64, error)
	IsExhausted(ctx context.Context, provider string, limit int64) (bool, error)
}

// Unlimited is what Remaining reports for a provider without a quota.
const Unlimited int64 = -1

func dayKey(now time.Time) string {
	return now.UTC().Format(time.DateOnly)
}

func remaining(count, limit int64) int64 {
	if limit <= 0 {
		return Unlimited
	}
	if count >= limit {
		return 0
	}
	return limit - count
}

func exhausted(count, limit int64) bool {
	return limit > 0 && count >= limit
}
