package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"tripwire/internal/domain"

	"github.com/redis/go-redis/v9"
)

// inAppLimit is how many notifications a user's feed keeps.
const inAppLimit = 100

type InAppClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// InAppSender prepends notifications to a capped per-user Redis list read
// by the dashboard.
type InAppSender struct {
	client InAppClient
}

func NewInAppSender(client InAppClient) *InAppSender {
	return &InAppSender{client: client}
}

func InAppKey(userID string) string {
	return "notifications:inapp:" + userID
}

func (s *InAppSender) Send(ctx context.Context, alert domain.Alert, n domain.Notification) error {
	if alert.UserID == "" {
		return ErrNoRecipient
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	key := InAppKey(alert.UserID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	if err := s.client.LTrim(ctx, key, 0, inAppLimit-1).Err(); err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	return nil
}
