package domain

import (
	"fmt"
	"strings"
)

// Trigger is the typed form of an alert condition. The set of implementations is
// closed: only this package can add a variant.
type Trigger interface {
	Type() AlertType
	isTrigger()
}

type Direction string

const (
	DirectionAny  Direction = ""
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

const (
	DefaultRSIOverbought = 70.0
	DefaultRSIOversold   = 30.0
	DefaultEarningsDays  = 7
)

// PriceLimit fires when the price reaches Threshold from below (Upper) or above.
type PriceLimit struct {
	Kind      AlertType
	Threshold float64
	Upper     bool
}

// PriceChange fires when the daily or from-open percentage move reaches Threshold.
type PriceChange struct {
	Kind      AlertType
	Threshold float64
	Direction Direction
	FromOpen  bool
}

// VolumeRatio compares volume to average volume scaled by Multiplier.
type VolumeRatio struct {
	Kind       AlertType
	Multiplier float64
	Spike      bool
}

type SMACross struct {
	Kind   AlertType
	Period int
}

type RSILevel struct {
	Kind       AlertType
	Level      float64
	Overbought bool
}

type FiftyTwoWeek struct {
	Kind AlertType
	High bool
}

// EarningsWindow fires when the next earnings report is at most Days away.
type EarningsWindow struct {
	Kind AlertType
	Days int
}

func (t PriceLimit) Type() AlertType     { return t.Kind }
func (t PriceChange) Type() AlertType    { return t.Kind }
func (t VolumeRatio) Type() AlertType    { return t.Kind }
func (t SMACross) Type() AlertType       { return t.Kind }
func (t RSILevel) Type() AlertType       { return t.Kind }
func (t FiftyTwoWeek) Type() AlertType   { return t.Kind }
func (t EarningsWindow) Type() AlertType { return t.Kind }

func (PriceLimit) isTrigger()     {}
func (PriceChange) isTrigger()    {}
func (VolumeRatio) isTrigger()    {}
func (SMACross) isTrigger()       {}
func (RSILevel) isTrigger()       {}
func (FiftyTwoWeek) isTrigger()   {}
func (EarningsWindow) isTrigger() {}

// ParseTrigger validates stored parameters for an alert type and returns the
// matching Trigger variant.
func ParseTrigger(alertType AlertType, p TriggerParams) (Trigger, error) {
	switch alertType {
	case AlertPriceLimitUpper, AlertPriceLimitLower:
		if p.Threshold == nil {
			return nil, NewValidationError("threshold", nil, "required for "+string(alertType))
		}
		return PriceLimit{Kind: alertType, Threshold: *p.Threshold, Upper: alertType == AlertPriceLimitUpper}, nil

	case AlertPriceChange1Day, AlertPercentChangeFromOpen:
		if p.Threshold == nil {
			return nil, NewValidationError("threshold", nil, "required for "+string(alertType))
		}
		if *p.Threshold < 0 {
			return nil, NewValidationError("threshold", *p.Threshold, "must not be negative; use direction for sign")
		}
		dir, err := parseDirection(p.Direction)
		if err != nil {
			return nil, err
		}
		return PriceChange{
			Kind:      alertType,
			Threshold: *p.Threshold,
			Direction: dir,
			FromOpen:  alertType == AlertPercentChangeFromOpen,
		}, nil

	case AlertVolumeSpike, AlertVolumeDip:
		m := p.Multiplier
		if m == nil {
			m = p.Threshold
		}
		if m == nil {
			return nil, NewValidationError("multiplier", nil, "required for "+string(alertType))
		}
		if *m <= 0 {
			return nil, NewValidationError("multiplier", *m, "must be positive")
		}
		return VolumeRatio{Kind: alertType, Multiplier: *m, Spike: alertType == AlertVolumeSpike}, nil

	case AlertSMA20PriceCross:
		return SMACross{Kind: alertType, Period: 20}, nil

	case AlertRSIOverbought, AlertRSIOversold:
		overbought := alertType == AlertRSIOverbought
		level := DefaultRSIOversold
		if overbought {
			level = DefaultRSIOverbought
		}
		if p.Threshold != nil {
			if *p.Threshold < 0 || *p.Threshold > 100 {
				return nil, NewValidationError("threshold", *p.Threshold, "rsi level must be within [0, 100]")
			}
			level = *p.Threshold
		}
		return RSILevel{Kind: alertType, Level: level, Overbought: overbought}, nil

	case AlertFiftyTwoWeekHigh, AlertFiftyTwoWeekLow:
		return FiftyTwoWeek{Kind: alertType, High: alertType == AlertFiftyTwoWeekHigh}, nil

	case AlertEarningsUpcoming:
		days := DefaultEarningsDays
		if p.Days != nil {
			days = *p.Days
		}
		if days < 0 {
			return nil, NewValidationError("days", days, "must not be negative")
		}
		return EarningsWindow{Kind: alertType, Days: days}, nil

	default:
		return nil, NewValidationError("alert_type", alertType, "unsupported alert type")
	}
}

func parseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case DirectionAny, "any", "either":
		return DirectionAny, nil
	case DirectionUp, "above":
		return DirectionUp, nil
	case DirectionDown, "below":
		return DirectionDown, nil
	default:
		return "", NewValidationError("direction", raw, fmt.Sprintf("expected %q or %q", DirectionUp, DirectionDown))
	}
}
