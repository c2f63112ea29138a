package job

import (
	"context"
	"errors"
	"time"

	"tripwire/internal/marketdata"
	"tripwire/internal/service"
	"tripwire/pkg/logger"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultQuotaInterval = 5 * time.Minute
	// providers below this share of their daily quota are reported
	quotaWarnRatio = 0.1
)

type AlertRunner interface {
	Run(ctx context.Context, scope []string) (service.RunSummary, error)
}

type UsageReporter interface {
	Status(ctx context.Context) ([]marketdata.ProviderStatus, error)
}

// AlertPoller runs the alert pass on a fixed interval and watches provider
// quotas in the background.
type AlertPoller struct {
	tracer        trace.Tracer
	runner        AlertRunner
	usage         UsageReporter
	pollInterval  time.Duration
	quotaInterval time.Duration
}

func NewAlertPoller(tracer trace.Tracer, runner AlertRunner, usage UsageReporter, pollIntervalSecs int) *AlertPoller {
	return &AlertPoller{
		tracer:        tracer,
		runner:        runner,
		usage:         usage,
		pollInterval:  time.Duration(pollIntervalSecs) * time.Second,
		quotaInterval: defaultQuotaInterval,
	}
}

// Start launches the polling goroutines. Blocks until ctx is cancelled.
func (p *AlertPoller) Start(ctx context.Context) {
	logger.Info(ctx, "alert poller starting", zap.Duration("interval", p.pollInterval))

	go p.pollLoop(ctx, "check-alerts", p.pollInterval, p.runOnce)
	if p.usage != nil {
		go p.pollLoop(ctx, "quota-watch", p.quotaInterval, p.checkQuota)
	}

	<-ctx.Done()
	logger.Info(context.Background(), "alert poller stopped")
}

func (p *AlertPoller) pollLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	// Run immediately on start
	if err := fn(ctx); err != nil {
		logger.Error(ctx, "poller initial run failed", zap.String("poller", name), zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Error(ctx, "poller run failed", zap.String("poller", name), zap.Error(err))
			}
		}
	}
}

func (p *AlertPoller) runOnce(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "alert-poller.run")
	defer span.End()

	summary, err := p.runner.Run(ctx, nil)
	if errors.Is(err, service.ErrRunInProgress) {
		logger.Info(ctx, "skipping scheduled run, another run holds the lock")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info(ctx, "scheduled alert run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.Processed),
		zap.Int("triggered", summary.Triggered),
		zap.Int("errors", summary.Errors),
		zap.Bool("timed_out", summary.TimedOut),
	)
	return nil
}

func (p *AlertPoller) checkQuota(ctx context.Context) error {
	statuses, err := p.usage.Status(ctx)
	if err != nil {
		return err
	}
	for _, s := range lowQuota(statuses) {
		logger.Warn(ctx, "provider quota running low",
			zap.String("provider", s.ID),
			zap.Int64("used", s.Used),
			zap.Int64("limit", s.Limit),
			zap.Int64("remaining", s.Remaining),
		)
	}
	return nil
}

// lowQuota returns the metered providers at or below the warning ratio.
func lowQuota(statuses []marketdata.ProviderStatus) []marketdata.ProviderStatus {
	var out []marketdata.ProviderStatus
	for _, s := range statuses {
		if s.Limit <= 0 || s.Remaining < 0 {
			continue
		}
		if float64(s.Remaining) <= float64(s.Limit)*quotaWarnRatio {
			out = append(out, s)
		}
	}
	return out
}
