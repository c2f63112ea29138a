package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tripwire/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const alertColumns = `id, user_id, asset_type, symbol, alert_type, trigger_params, status, recurring,
	cooldown_seconds, channels, contact_email, push_chat_id, last_checked_at, triggered_at,
	triggered_value, consecutive_errors, condition_met, baseline`

// AlertRepository is the Postgres alert store.
type AlertRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewAlertRepository(pool PgxPool, tracer trace.Tracer) *AlertRepository {
	return &AlertRepository{pool: pool, tracer: tracer}
}

// GetActiveAlerts loads active alerts plus triggered recurring ones that may
// re-arm. A nil symbols slice loads every symbol.
func (r *AlertRepository) GetActiveAlerts(ctx context.Context, symbols []string) ([]domain.Alert, error) {
	ctx, span := r.tracer.Start(ctx, "alert-repo.get-active-alerts")
	defer span.End()
	span.SetAttributes(attribute.Int("scope", len(symbols)))

	rows, err := r.pool.Query(ctx,
		`SELECT `+alertColumns+`
		 FROM alerts
		 WHERE (status = 'active' OR (status = 'triggered' AND recurring))
		   AND ($1::text[] IS NULL OR upper(symbol) = ANY($1))
		 ORDER BY symbol, id`,
		symbols,
	)
	if err != nil {
		return nil, fmt.Errorf("query active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read active alerts: %w", err)
	}
	return alerts, nil
}

// UpdateAlertState writes the evaluation outcome. A trigger also appends an
// alert_events row in the same batch.
func (r *AlertRepository) UpdateAlertState(ctx context.Context, id int64, u domain.AlertStateUpdate) error {
	ctx, span := r.tracer.Start(ctx, "alert-repo.update-alert-state")
	defer span.End()
	span.SetAttributes(attribute.Int64("alert_id", id), attribute.String("status", string(u.Status)))

	baseline, err := marshalBaseline(u.Baseline)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`UPDATE alerts SET
		     status = $2,
		     last_checked_at = $3,
		     condition_met = $4,
		     baseline = $5,
		     triggered_at = COALESCE($6, triggered_at),
		     triggered_value = COALESCE($7, triggered_value),
		     consecutive_errors = CASE WHEN $8 THEN 0 ELSE consecutive_errors END,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, string(u.Status), u.CheckedAt, u.ConditionMet, baseline, u.TriggeredAt, u.TriggeredValue, u.ResetErrors,
	)
	if u.TriggeredAt != nil && u.TriggeredValue != nil {
		batch.Queue(
			`INSERT INTO alert_events (alert_id, symbol, alert_type, value, source, triggered_at)
			 SELECT id, symbol, alert_type, $2, $3, $4 FROM alerts WHERE id = $1`,
			id, *u.TriggeredValue, u.Source, *u.TriggeredAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("update alert %d: %w", id, err)
		}
	}
	return nil
}

// IncrementErrorCount returns the new consecutive error count.
func (r *AlertRepository) IncrementErrorCount(ctx context.Context, id int64) (int, error) {
	ctx, span := r.tracer.Start(ctx, "alert-repo.increment-error-count")
	defer span.End()

	var count int
	err := r.pool.QueryRow(ctx,
		`UPDATE alerts SET consecutive_errors = consecutive_errors + 1, updated_at = NOW()
		 WHERE id = $1
		 RETURNING consecutive_errors`,
		id,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("increment errors for alert %d: %w", id, err)
	}
	return count, nil
}

func (r *AlertRepository) DisableAlert(ctx context.Context, id int64, reason string) error {
	ctx, span := r.tracer.Start(ctx, "alert-repo.disable-alert")
	defer span.End()

	if _, err := r.pool.Exec(ctx,
		`UPDATE alerts SET status = 'disabled', disabled_reason = $2, updated_at = NOW() WHERE id = $1`,
		id, reason,
	); err != nil {
		return fmt.Errorf("disable alert %d: %w", id, err)
	}
	return nil
}

// AlertEvent is one recorded trigger.
type AlertEvent struct {
	AlertID     int64            `json:"alert_id"`
	Symbol      string           `json:"symbol"`
	AlertType   domain.AlertType `json:"alert_type"`
	Value       float64          `json:"value"`
	Source      string           `json:"source"`
	TriggeredAt time.Time        `json:"triggered_at"`
}

// RecentEvents returns an alert's trigger history, newest first.
func (r *AlertRepository) RecentEvents(ctx context.Context, alertID int64, limit int) ([]AlertEvent, error) {
	ctx, span := r.tracer.Start(ctx, "alert-repo.recent-events")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT alert_id, symbol, alert_type, value, source, triggered_at
		 FROM alert_events
		 WHERE alert_id = $1
		 ORDER BY triggered_at DESC
		 LIMIT $2`,
		alertID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query alert events: %w", err)
	}
	defer rows.Close()

	var events []AlertEvent
	for rows.Next() {
		var e AlertEvent
		var alertType string
		if err := rows.Scan(&e.AlertID, &e.Symbol, &alertType, &e.Value, &e.Source, &e.TriggeredAt); err != nil {
			return nil, err
		}
		e.AlertType = domain.AlertType(alertType)
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var (
		a         domain.Alert
		asset     string
		alertType string
		status    string
		params    []byte
		cooldown  int
		channels  []string
		baseline  []byte
	)
	err := row.Scan(
		&a.ID, &a.UserID, &asset, &a.Symbol, &alertType, &params, &status, &a.Recurring,
		&cooldown, &channels, &a.Contact.Email, &a.Contact.PushChatID, &a.LastCheckedAt, &a.TriggeredAt,
		&a.TriggeredValue, &a.ConsecutiveErrors, &a.ConditionMet, &baseline,
	)
	if err != nil {
		return a, fmt.Errorf("scan alert: %w", err)
	}

	a.AssetType = domain.AssetType(asset)
	a.Type = domain.AlertType(alertType)
	a.Status = domain.AlertStatus(status)
	a.Cooldown = time.Duration(cooldown) * time.Second
	a.Channels = make([]domain.Channel, len(channels))
	for i, ch := range channels {
		a.Channels[i] = domain.Channel(ch)
	}

	// malformed params fail only this alert, at evaluation time
	if len(params) > 0 {
		if err := json.Unmarshal(params, &a.Params); err != nil {
			a.Params = domain.TriggerParams{}
			a.ParamsErr = domain.NewValidationError("trigger_params", nil, err.Error())
		}
	}
	if len(baseline) > 0 {
		var snap domain.Snapshot
		if err := json.Unmarshal(baseline, &snap); err == nil {
			a.Baseline = &snap
		}
	}
	return a, nil
}

func marshalBaseline(s *domain.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal baseline: %w", err)
	}
	return data, nil
}
