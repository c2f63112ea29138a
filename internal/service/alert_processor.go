package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tripwire/internal/domain"
	"tripwire/internal/evaluator"
	"tripwire/internal/marketdata"
	"tripwire/internal/metrics"
	"tripwire/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AlertStore persists alerts. Implementations should return errors that
// wrap the underlying driver failure; the processor treats every store
// error as fatal for the run.
type AlertStore interface {
	GetActiveAlerts(ctx context.Context, symbols []string) ([]domain.Alert, error)
	UpdateAlertState(ctx context.Context, id int64, update domain.AlertStateUpdate) error
	IncrementErrorCount(ctx context.Context, id int64) (int, error)
	DisableAlert(ctx context.Context, id int64, reason string) error
}

// Dispatcher delivers a notification on one channel.
type Dispatcher interface {
	Send(ctx context.Context, alert domain.Alert, channel domain.Channel, n domain.Notification) error
}

// MarketData is the slice of the aggregator the processor drives.
type MarketData interface {
	FetchBatch(ctx context.Context, requests []marketdata.Request, onResult marketdata.ResultFunc) error
}

type ProcessorConfig struct {
	ErrorDisableThreshold int
	MaxErrorDetails       int
	RunTimeout            time.Duration
}

// RunSummary is the outcome of one processing run.
type RunSummary struct {
	RunID               string    `json:"runId"`
	Processed           int       `json:"processed"`
	Symbols             int       `json:"symbols"`
	Triggered           int       `json:"triggered"`
	NotificationsSent   int       `json:"notificationsSent"`
	NotificationsFailed int       `json:"notificationsFailed"`
	Errors              int       `json:"errors"`
	ErrorDetails        []string  `json:"errorDetails,omitempty"`
	TimedOut            bool      `json:"timedOut,omitempty"`
	StartedAt           time.Time `json:"startedAt"`
	DurationMS          int64     `json:"durationMs"`
}

// AlertProcessor loads active alerts, fetches one snapshot per symbol and
// evaluates every alert of that symbol against it.
type AlertProcessor struct {
	tracer     trace.Tracer
	store      AlertStore
	market     MarketData
	dispatcher Dispatcher
	cfg        ProcessorConfig
	now        func() time.Time
}

func NewAlertProcessor(
	tracer trace.Tracer,
	store AlertStore,
	market MarketData,
	dispatcher Dispatcher,
	cfg ProcessorConfig,
) *AlertProcessor {
	if cfg.ErrorDisableThreshold <= 0 {
		cfg.ErrorDisableThreshold = 3
	}
	if cfg.MaxErrorDetails <= 0 {
		cfg.MaxErrorDetails = 50
	}
	return &AlertProcessor{
		tracer:     tracer,
		store:      store,
		market:     market,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
}

// runState collects the summary while symbol callbacks run concurrently.
type runState struct {
	mu      sync.Mutex
	summary RunSummary
	max     int
}

func (s *runState) addError(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Errors++
	if len(s.summary.ErrorDetails) < s.max {
		s.summary.ErrorDetails = append(s.summary.ErrorDetails, detail)
	}
}

func (s *runState) add(fn func(*RunSummary)) {
	s.mu.Lock()
	fn(&s.summary)
	s.mu.Unlock()
}

type symbolGroup struct {
	asset  domain.AssetType
	symbol string
	alerts []domain.Alert
}

// Run evaluates every active alert, optionally limited to scope symbols.
// A timeout returns the partial summary with a timeout entry and a nil
// error. Store failures abort the run with a *domain.StoreUnavailableError.
func (p *AlertProcessor) Run(ctx context.Context, scope []string) (RunSummary, error) {
	ctx, span := p.tracer.Start(ctx, "alert-processor.run")
	defer span.End()

	started := p.now()
	state := &runState{
		max: p.cfg.MaxErrorDetails,
		summary: RunSummary{
			RunID:     uuid.NewString(),
			StartedAt: started.UTC(),
		},
	}
	span.SetAttributes(attribute.String("run_id", state.summary.RunID))

	runCtx := ctx
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	finish := func(status string) RunSummary {
		s := state.summary
		elapsed := p.now().Sub(started)
		s.DurationMS = elapsed.Milliseconds()
		metrics.RunDuration.WithLabelValues(status).Observe(elapsed.Seconds())
		return s
	}

	alerts, err := p.store.GetActiveAlerts(runCtx, normalizeScope(scope))
	if err != nil {
		span.SetStatus(codes.Error, "load alerts")
		return finish("failed"), storeErr("get active alerts", err)
	}

	groups := groupBySymbol(alerts)
	state.summary.Symbols = len(groups)
	byKey := make(map[string]symbolGroup, len(groups))
	requests := make([]marketdata.Request, 0, len(groups))
	for _, g := range groups {
		byKey[groupKey(g.asset, g.symbol)] = g
		requests = append(requests, marketdata.Request{Symbol: g.symbol, Asset: g.asset, Needs: needsOf(g.alerts)})
	}

	logger.Info(ctx, "alert run started",
		zap.String("run_id", state.summary.RunID),
		zap.Int("alerts", len(alerts)),
		zap.Int("symbols", len(groups)),
	)

	err = p.market.FetchBatch(runCtx, requests, func(ctx context.Context, res marketdata.Result) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		g := byKey[groupKey(res.Asset, res.Symbol)]
		if res.Err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			state.addError(fmt.Sprintf("%s: %v", g.symbol, res.Err))
			logger.Warn(ctx, "symbol skipped", zap.String("symbol", g.symbol), zap.Error(res.Err))
			return nil
		}
		return p.processSymbol(ctx, state, g, res.Snapshot)
	})

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		status = "timeout"
		state.summary.TimedOut = true
		state.addError(fmt.Sprintf("timeout: run exceeded %s", p.cfg.RunTimeout))
		logger.Warn(ctx, "alert run timed out", zap.String("run_id", state.summary.RunID))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "run aborted")
		summary := finish("failed")
		logger.Error(ctx, "alert run aborted", zap.String("run_id", summary.RunID), zap.Error(err))
		return summary, err
	}

	summary := finish(status)
	span.SetAttributes(
		attribute.Int("processed", summary.Processed),
		attribute.Int("triggered", summary.Triggered),
		attribute.Int("errors", summary.Errors),
	)
	logger.Info(ctx, "alert run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.Processed),
		zap.Int("triggered", summary.Triggered),
		zap.Int("errors", summary.Errors),
		zap.Int64("duration_ms", summary.DurationMS),
	)
	return summary, nil
}

// processSymbol evaluates a symbol's alerts sequentially against one snapshot.
func (p *AlertProcessor) processSymbol(ctx context.Context, state *runState, g symbolGroup, snap *domain.Snapshot) error {
	ctx, span := p.tracer.Start(ctx, "alert-processor.process-symbol")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", g.symbol), attribute.Int("alerts", len(g.alerts)))

	for _, alert := range g.alerts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processAlert(ctx, state, alert, snap); err != nil {
			return err
		}
		state.add(func(s *RunSummary) { s.Processed++ })
	}
	return nil
}

func (p *AlertProcessor) processAlert(ctx context.Context, state *runState, alert domain.Alert, snap *domain.Snapshot) error {
	now := p.now().UTC()
	update := domain.AlertStateUpdate{
		Status:       alert.Status,
		CheckedAt:    now,
		ConditionMet: alert.ConditionMet,
		Baseline:     alert.Baseline,
	}

	if alert.Status == domain.StatusTriggered {
		if !alert.Recurring || !alert.CooldownElapsed(now) {
			return p.save(ctx, alert.ID, update)
		}
		// re-armed alerts start from a clean edge
		update.Status = domain.StatusActive
		update.ConditionMet = false
	}

	if alert.ParamsErr != nil {
		return p.alertFailed(ctx, state, alert, update, alert.ParamsErr)
	}
	trigger, err := domain.ParseTrigger(alert.Type, alert.Params)
	if err != nil {
		return p.alertFailed(ctx, state, alert, update, err)
	}
	result, err := evaluator.Evaluate(trigger, snap, alert.Baseline)
	if err != nil {
		return p.alertFailed(ctx, state, alert, update, err)
	}

	wasMet := update.ConditionMet
	if !result.Missing {
		update.ConditionMet = result.Triggered
	}
	if result.UpdateBaseline {
		update.Baseline = snap
	}
	if alert.ConsecutiveErrors > 0 {
		update.ResetErrors = true
	}

	edge := result.Triggered && !wasMet
	if edge {
		value := result.Value
		update.Status = domain.StatusTriggered
		update.TriggeredAt = &now
		update.TriggeredValue = &value
		update.ResetErrors = true
		update.Source = snap.Source
	}

	metrics.AlertsEvaluated.WithLabelValues(string(alert.Type), verdict(edge, result)).Inc()
	if err := p.save(ctx, alert.ID, update); err != nil {
		return err
	}
	if !edge {
		return nil
	}

	state.add(func(s *RunSummary) { s.Triggered++ })
	logger.Info(ctx, "alert triggered",
		zap.Int64("alert_id", alert.ID),
		zap.String("symbol", alert.Symbol),
		zap.String("alert_type", string(alert.Type)),
		zap.Float64("value", result.Value),
		zap.String("reason", result.Reason),
	)
	p.notify(ctx, state, alert, snap, result, now)
	return nil
}

// alertFailed records a per-alert evaluation error and disables the alert
// once it has failed ErrorDisableThreshold times in a row.
func (p *AlertProcessor) alertFailed(ctx context.Context, state *runState, alert domain.Alert, update domain.AlertStateUpdate, cause error) error {
	metrics.AlertsEvaluated.WithLabelValues(string(alert.Type), "error").Inc()
	state.addError(fmt.Sprintf("alert %d (%s): %v", alert.ID, alert.Symbol, cause))

	if err := p.save(ctx, alert.ID, update); err != nil {
		return err
	}
	count, err := p.store.IncrementErrorCount(ctx, alert.ID)
	if err != nil {
		return storeErr("increment error count", err)
	}

	fields := []zap.Field{zap.Int64("alert_id", alert.ID), zap.Int("consecutive_errors", count), zap.Error(cause)}
	if count < p.cfg.ErrorDisableThreshold {
		logger.Warn(ctx, "alert evaluation failed", fields...)
		return nil
	}
	if err := p.store.DisableAlert(ctx, alert.ID, cause.Error()); err != nil {
		return storeErr("disable alert", err)
	}
	logger.Warn(ctx, "alert disabled after repeated errors", fields...)
	return nil
}

func (p *AlertProcessor) notify(ctx context.Context, state *runState, alert domain.Alert, snap *domain.Snapshot, res evaluator.Result, at time.Time) {
	if p.dispatcher == nil {
		return
	}
	n := domain.Notification{
		AlertID:     alert.ID,
		UserID:      alert.UserID,
		Symbol:      alert.Symbol,
		AlertType:   alert.Type,
		Value:       res.Value,
		Title:       fmt.Sprintf("%s alert: %s", domain.NormalizeSymbol(alert.Symbol), alert.Type),
		Message:     res.Reason,
		Source:      snap.Source,
		TriggeredAt: at,
	}

	for _, ch := range alert.UniqueChannels() {
		if err := p.dispatcher.Send(ctx, alert, ch, n); err != nil {
			metrics.Notifications.WithLabelValues(string(ch), "failed").Inc()
			state.add(func(s *RunSummary) { s.NotificationsFailed++ })
			logger.Warn(ctx, "notification failed",
				zap.Int64("alert_id", alert.ID),
				zap.String("channel", string(ch)),
				zap.Error(err),
			)
			continue
		}
		metrics.Notifications.WithLabelValues(string(ch), "sent").Inc()
		state.add(func(s *RunSummary) { s.NotificationsSent++ })
	}
}

func (p *AlertProcessor) save(ctx context.Context, id int64, update domain.AlertStateUpdate) error {
	if err := p.store.UpdateAlertState(ctx, id, update); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return storeErr("update alert state", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	var se *domain.StoreUnavailableError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StoreUnavailableError{Op: op, Err: err}
}

func verdict(edge bool, res evaluator.Result) string {
	switch {
	case edge:
		return "triggered"
	case res.Missing:
		return "missing"
	default:
		return "quiet"
	}
}

func groupKey(asset domain.AssetType, symbol string) string {
	return string(asset) + ":" + domain.NormalizeSymbol(symbol)
}

// groupBySymbol partitions alerts so each alert belongs to exactly one group.
// Groups come back in symbol order for stable batching.
func groupBySymbol(alerts []domain.Alert) []symbolGroup {
	index := make(map[string]int)
	var groups []symbolGroup
	for _, a := range alerts {
		asset := a.AssetType
		if asset == "" {
			asset = domain.AssetEquity
		}
		key := groupKey(asset, a.Symbol)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, symbolGroup{asset: asset, symbol: domain.NormalizeSymbol(a.Symbol)})
		}
		groups[i].alerts = append(groups[i].alerts, a)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].symbol == groups[j].symbol {
			return groups[i].asset < groups[j].asset
		}
		return groups[i].symbol < groups[j].symbol
	})
	return groups
}

// needsOf is the union of data needs across alerts, in first-seen order.
func needsOf(alerts []domain.Alert) []domain.DataNeed {
	seen := make(map[domain.DataNeed]struct{})
	var needs []domain.DataNeed
	for _, a := range alerts {
		for _, n := range a.Type.Needs() {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			needs = append(needs, n)
		}
	}
	return needs
}

func normalizeScope(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = domain.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
