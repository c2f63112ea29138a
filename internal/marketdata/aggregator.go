package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tripwire/internal/cache"
	"tripwire/internal/domain"
	"tripwire/internal/metrics"
	"tripwire/internal/provider"
	"tripwire/internal/usage"
	"tripwire/pkg/logger"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options tune the aggregator. Zero values take the defaults below.
type Options struct {
	// Limits is the daily quota per provider id; missing or <= 0 is unlimited.
	Limits          map[string]int64
	TTLs            map[domain.DataNeed]time.Duration
	EarningsHorizon time.Duration

	ChunkSize        int
	ChunkConcurrency int
	ChunkDelay       time.Duration

	BreakerFailures uint32
	BreakerCooldown time.Duration
}

var defaultTTLs = map[domain.DataNeed]time.Duration{
	domain.NeedQuote:     time.Minute,
	domain.NeedTechnical: 15 * time.Minute,
	domain.NeedEarnings:  12 * time.Hour,
}

func (o Options) withDefaults() Options {
	if o.Limits == nil {
		o.Limits = map[string]int64{}
	}
	ttls := make(map[domain.DataNeed]time.Duration, len(defaultTTLs))
	for need, ttl := range defaultTTLs {
		ttls[need] = ttl
		if v, ok := o.TTLs[need]; ok && v > 0 {
			ttls[need] = v
		}
	}
	o.TTLs = ttls
	if o.EarningsHorizon <= 0 {
		o.EarningsHorizon = 30 * 24 * time.Hour
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 10
	}
	if o.ChunkConcurrency <= 0 {
		o.ChunkConcurrency = 5
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = time.Minute
	}
	return o
}

// Aggregator fetches market data from providers in priority order, each
// gated by the cache, the provider's daily quota and its circuit breaker.
type Aggregator struct {
	tracer    trace.Tracer
	providers []provider.Provider
	cache     *cache.Cache
	usage     usage.Tracker
	breakers  map[string]*gobreaker.CircuitBreaker[any]
	opts      Options
	now       func() time.Time
}

func New(tracer trace.Tracer, providers []provider.Provider, c *cache.Cache, tracker usage.Tracker, opts Options) *Aggregator {
	opts = opts.withDefaults()
	a := &Aggregator{
		tracer:    tracer,
		providers: providers,
		cache:     c,
		usage:     tracker,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[any], len(providers)),
		opts:      opts,
		now:       time.Now,
	}
	for _, p := range providers {
		a.breakers[p.ID()] = newBreaker(p.ID(), opts)
	}
	return a
}

func newBreaker(id string, opts Options) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.BreakerFailures
		},
		// skips and cancellations say nothing about the vendor's health
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsSkip(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "provider breaker state change",
				zap.String("provider", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

func cacheKey(providerID, symbol string, need domain.DataNeed) string {
	return fmt.Sprintf("md:%s:%s:%s", providerID, symbol, need)
}

func calendarKey(providerID string) string {
	return fmt.Sprintf("md:%s:_calendar:%s", providerID, domain.NeedEarnings)
}

// Fetch returns need for symbol from the first provider that can serve it,
// along with that provider's id. When every provider fails or is skipped the
// error is a *domain.DataUnavailableError listing each attempt.
func (a *Aggregator) Fetch(ctx context.Context, symbol string, asset domain.AssetType, need domain.DataNeed) (*domain.Snapshot, string, error) {
	ctx, span := a.tracer.Start(ctx, "marketdata.fetch")
	defer span.End()

	symbol = domain.NormalizeSymbol(symbol)
	span.SetAttributes(attribute.String("symbol", symbol), attribute.String("need", string(need)))

	var attempts []error
	for _, p := range a.providers {
		if !p.Supports(asset, need) {
			continue
		}

		snap, err := a.fetchFrom(ctx, p, symbol, asset, need)
		if err == nil {
			span.SetAttributes(attribute.String("provider", p.ID()))
			return snap, p.ID(), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}

		logger.Debug(ctx, "provider attempt failed",
			zap.String("provider", p.ID()), zap.String("symbol", symbol), zap.String("need", string(need)), zap.Error(err))
		attempts = append(attempts, err)
	}

	return nil, "", &domain.DataUnavailableError{Symbol: symbol, Need: need, Attempts: attempts}
}

func (a *Aggregator) fetchFrom(ctx context.Context, p provider.Provider, symbol string, asset domain.AssetType, need domain.DataNeed) (*domain.Snapshot, error) {
	if need == domain.NeedEarnings {
		return a.fetchEarnings(ctx, p, symbol)
	}

	v, err := a.cache.GetOrSet(ctx, cacheKey(p.ID(), symbol, need), a.opts.TTLs[need], a.guarded(p, need, func(ctx context.Context) (any, error) {
		switch need {
		case domain.NeedQuote:
			q, err := p.FetchQuote(ctx, symbol)
			if err != nil {
				return nil, err
			}
			return quoteSnapshot(p.ID(), symbol, q, a.now()), nil
		case domain.NeedTechnical:
			t, err := p.FetchTechnical(ctx, symbol)
			if err != nil {
				return nil, err
			}
			return technicalSnapshot(p.ID(), symbol, asset, t, a.now()), nil
		default:
			return nil, fmt.Errorf("need %s: %w", need, domain.ErrUnsupported)
		}
	}))
	if err != nil {
		return nil, err
	}
	return v.(*domain.Snapshot), nil
}

func (a *Aggregator) fetchEarnings(ctx context.Context, p provider.Provider, symbol string) (*domain.Snapshot, error) {
	v, err := a.cache.GetOrSet(ctx, calendarKey(p.ID()), a.opts.TTLs[domain.NeedEarnings], a.guarded(p, domain.NeedEarnings, func(ctx context.Context) (any, error) {
		from := a.now().UTC()
		events, err := p.FetchEarningsCalendar(ctx, from, from.Add(a.opts.EarningsHorizon))
		if err != nil {
			return nil, err
		}
		return newEarningsCalendar(events), nil
	}))
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	snap := &domain.Snapshot{Symbol: symbol, Source: p.ID(), FetchedAt: now}
	if next, ok := v.(earningsCalendar).next(symbol, now); ok {
		snap.NextEarnings = &next
	}
	return snap, nil
}

// guarded wraps an upstream call with the quota check, the circuit breaker,
// usage counting and metrics. It runs inside the cache's populate.
func (a *Aggregator) guarded(p provider.Provider, need domain.DataNeed, call func(context.Context) (any, error)) cache.PopulateFunc {
	id := p.ID()
	return func(ctx context.Context) (any, error) {
		limit := a.opts.Limits[id]
		exhausted, err := a.usage.IsExhausted(ctx, id, limit)
		if err != nil {
			logger.Warn(ctx, "usage check failed, allowing call", zap.String("provider", id), zap.Error(err))
		}
		if exhausted {
			count, _ := a.usage.Count(ctx, id)
			metrics.ProviderRequests.WithLabelValues(id, string(need), "quota").Inc()
			return nil, &domain.QuotaExceededError{Provider: id, Count: count, Limit: limit}
		}

		start := time.Now()
		v, err := a.breakers[id].Execute(func() (any, error) {
			return call(ctx)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ProviderRequests.WithLabelValues(id, string(need), "breaker_open").Inc()
			return nil, &domain.ProviderError{Provider: id, Op: string(need), Err: err}
		case domain.IsSkip(err):
			metrics.ProviderRequests.WithLabelValues(id, string(need), "unsupported").Inc()
			return nil, err
		case err != nil:
			metrics.ProviderRequests.WithLabelValues(id, string(need), "error").Inc()
			metrics.ProviderLatency.WithLabelValues(id, string(need)).Observe(time.Since(start).Seconds())
			return nil, err
		}

		metrics.ProviderRequests.WithLabelValues(id, string(need), "ok").Inc()
		metrics.ProviderLatency.WithLabelValues(id, string(need)).Observe(time.Since(start).Seconds())
		if _, err := a.usage.Increment(ctx, id); err != nil {
			logger.Warn(ctx, "usage increment failed", zap.String("provider", id), zap.Error(err))
		}
		return v, nil
	}
}

// ProviderStatus is one row of the usage report.
type ProviderStatus struct {
	ID        string `json:"id"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
	Breaker   string `json:"breaker"`
}

// Status reports today's usage and breaker state of every provider in priority order.
func (a *Aggregator) Status(ctx context.Context) ([]ProviderStatus, error) {
	out := make([]ProviderStatus, 0, len(a.providers))
	for _, p := range a.providers {
		id := p.ID()
		used, err := a.usage.Count(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("usage for %s: %w", id, err)
		}
		limit := a.opts.Limits[id]
		left, err := a.usage.Remaining(ctx, id, limit)
		if err != nil {
			return nil, fmt.Errorf("usage for %s: %w", id, err)
		}
		out = append(out, ProviderStatus{
			ID:        id,
			Used:      used,
			Limit:     limit,
			Remaining: left,
			Breaker:   a.breakers[id].State().String(),
		})
	}
	return out, nil
}

// InvalidateSymbol drops every cached entry for symbol across providers and needs.
func (a *Aggregator) InvalidateSymbol(symbol string) int {
	return a.cache.InvalidatePattern(fmt.Sprintf("md:*:%s:*", domain.NormalizeSymbol(symbol)))
}
