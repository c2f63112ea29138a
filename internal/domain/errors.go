package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned by a provider that cannot serve an asset type or data need.
var ErrUnsupported = errors.New("unsupported by provider")

// ProviderError is a network or HTTP failure from one vendor.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// QuotaExceededError means the provider's daily quota is used up; no upstream call was made.
type QuotaExceededError struct {
	Provider string
	Count    int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("provider %s quota exceeded: %d/%d", e.Provider, e.Count, e.Limit)
}

// DataUnavailableError means every provider failed or was skipped for a symbol.
type DataUnavailableError struct {
	Symbol   string
	Need     DataNeed
	Attempts []error
}

func (e *DataUnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%s %s unavailable: no provider configured", e.Symbol, e.Need)
	}
	parts := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%s %s unavailable: %s", e.Symbol, e.Need, strings.Join(parts, "; "))
}

func (e *DataUnavailableError) Unwrap() []error { return e.Attempts }

// ValidationError reports malformed alert trigger parameters.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// NotificationError is a failed delivery on one channel.
type NotificationError struct {
	Channel Channel
	AlertID int64
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify alert %d via %s: %v", e.AlertID, e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// StoreUnavailableError aborts a whole run.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("alert store %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsSkip reports whether err means a provider was passed over without an
// upstream failure.
func IsSkip(err error) bool {
	var quota *QuotaExceededError
	return errors.Is(err, ErrUnsupported) || errors.As(err, &quota)
}
