package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Pacer keeps calls to one vendor under its published per-minute limit.
// Daily quotas are tracked separately by the usage tracker.
type Pacer struct {
	provider string
	limiter  *rate.Limiter
}

// NewPacer allows burst immediate calls, then perMinute spread evenly.
// perMinute <= 0 disables pacing.
func NewPacer(provider string, perMinute, burst int) *Pacer {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{provider: provider, limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks for the next slot. A wait that would outlast ctx's deadline
// fails at once rather than sleeping into it.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s pacing: %w", p.provider, err)
	}
	return nil
}
