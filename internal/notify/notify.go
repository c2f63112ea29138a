// Package notify delivers triggered-alert notifications on the configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tripwire/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrChannelNotConfigured = errors.New("channel not configured")
	ErrNoRecipient          = errors.New("alert has no recipient for channel")
)

// Sender delivers on a single channel.
type Sender interface {
	Send(ctx context.Context, alert domain.Alert, n domain.Notification) error
}

// Router dispatches a notification to the sender registered for its channel.
type Router struct {
	tracer  trace.Tracer
	mu      sync.RWMutex
	senders map[domain.Channel]Sender
}

func NewRouter(tracer trace.Tracer) *Router {
	return &Router{tracer: tracer, senders: make(map[domain.Channel]Sender)}
}

func (r *Router) Register(ch domain.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

// Channels lists the channels that have a sender.
func (r *Router) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	return out
}

// Send returns a *domain.NotificationError for any failure, including a
// channel nobody registered.
func (r *Router) Send(ctx context.Context, alert domain.Alert, ch domain.Channel, n domain.Notification) error {
	ctx, span := r.tracer.Start(ctx, "notify.send")
	defer span.End()
	span.SetAttributes(attribute.String("channel", string(ch)), attribute.Int64("alert_id", alert.ID))

	r.mu.RLock()
	s, ok := r.senders[ch]
	r.mu.RUnlock()
	if !ok {
		span.SetStatus(codes.Error, "not configured")
		return &domain.NotificationError{Channel: ch, AlertID: alert.ID, Err: ErrChannelNotConfigured}
	}

	if err := s.Send(ctx, alert, n); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		var ne *domain.NotificationError
		if errors.As(err, &ne) {
			return err
		}
		return &domain.NotificationError{Channel: ch, AlertID: alert.ID, Err: err}
	}
	return nil
}

// text renders the human-readable body shared by push and email.
func text(n domain.Notification) string {
	return fmt.Sprintf("%s\n%s\nValue: %.4g\nAt: %s", n.Title, n.Message, n.Value, n.TriggeredAt.UTC().Format("2006-01-02 15:04 MST"))
}
