// Package evaluator decides whether a trigger condition holds for a snapshot.
// It is pure: no I/O and no state between calls.
package evaluator

import (
	"fmt"
	"math"
	"time"

	"tripwire/internal/domain"
)

// Result is the verdict for one evaluation. Value is the observed quantity
// the condition was checked against. Missing is set when the snapshot lacked
// an input; that is not an error.
type Result struct {
	Triggered      bool
	Value          float64
	Reason         string
	Missing        bool
	UpdateBaseline bool
}

func missing(what string) Result {
	return Result{Missing: true, Reason: what + " unavailable"}
}

// Evaluate checks trigger against current. previous is the baseline stored
// at the alert's last evaluation and is only consulted by crossing triggers.
func Evaluate(trigger domain.Trigger, current, previous *domain.Snapshot) (Result, error) {
	if current == nil {
		return missing("snapshot"), nil
	}

	switch t := trigger.(type) {
	case domain.PriceLimit:
		return priceLimit(t, current), nil
	case domain.PriceChange:
		return priceChange(t, current), nil
	case domain.VolumeRatio:
		return volumeRatio(t, current), nil
	case domain.SMACross:
		return smaCross(current, previous), nil
	case domain.RSILevel:
		return rsiLevel(t, current), nil
	case domain.FiftyTwoWeek:
		return fiftyTwoWeek(t, current), nil
	case domain.EarningsWindow:
		return earningsWindow(t, current), nil
	case nil:
		return Result{}, domain.NewValidationError("trigger", nil, "missing trigger")
	default:
		return Result{}, domain.NewValidationError("trigger", fmt.Sprintf("%T", trigger), "unknown trigger variant")
	}
}

func priceLimit(t domain.PriceLimit, s *domain.Snapshot) Result {
	if s.Price <= 0 {
		return missing("price")
	}
	r := Result{Value: s.Price}
	if t.Upper {
		r.Triggered = s.Price >= t.Threshold
		r.Reason = fmt.Sprintf("price %.4g %s %.4g", s.Price, cmp(r.Triggered, ">=", "<"), t.Threshold)
	} else {
		r.Triggered = s.Price <= t.Threshold
		r.Reason = fmt.Sprintf("price %.4g %s %.4g", s.Price, cmp(r.Triggered, "<=", ">"), t.Threshold)
	}
	return r
}

func priceChange(t domain.PriceChange, s *domain.Snapshot) Result {
	var observed float64
	if t.FromOpen {
		if s.Open == nil || *s.Open == 0 || s.Price <= 0 {
			return missing("open price")
		}
		observed = (s.Price - *s.Open) / *s.Open * 100
	} else {
		if s.Price <= 0 {
			return missing("daily change")
		}
		observed = s.ChangePercent
	}

	r := Result{Value: observed}
	switch t.Direction {
	case domain.DirectionUp:
		r.Triggered = observed >= t.Threshold
	case domain.DirectionDown:
		r.Triggered = observed <= -t.Threshold
	default:
		r.Triggered = math.Abs(observed) >= t.Threshold
	}
	r.Reason = fmt.Sprintf("change %.2f%% vs threshold %.2f%% (%s)", observed, t.Threshold, directionLabel(t.Direction))
	return r
}

func volumeRatio(t domain.VolumeRatio, s *domain.Snapshot) Result {
	if s.Volume == nil {
		return missing("volume")
	}
	if s.AvgVolume == nil || *s.AvgVolume <= 0 {
		return missing("average volume")
	}
	limit := *s.AvgVolume * t.Multiplier
	r := Result{Value: *s.Volume}
	if t.Spike {
		r.Triggered = *s.Volume >= limit
		r.Reason = fmt.Sprintf("volume %.0f %s %.2gx average %.0f", *s.Volume, cmp(r.Triggered, ">=", "<"), t.Multiplier, *s.AvgVolume)
	} else {
		r.Triggered = *s.Volume <= limit
		r.Reason = fmt.Sprintf("volume %.0f %s %.2gx average %.0f", *s.Volume, cmp(r.Triggered, "<=", ">"), t.Multiplier, *s.AvgVolume)
	}
	return r
}

// smaCross fires only when price moves from one side of SMA20 to the other
// between the baseline and now. Touching the average is not a side, so a
// touch keeps the older baseline and below, touch, above still crosses.
func smaCross(cur, prev *domain.Snapshot) Result {
	if cur.SMA20 == nil || cur.Price <= 0 {
		return missing("sma20")
	}
	r := Result{Value: cur.Price, UpdateBaseline: true}
	if prev == nil || prev.SMA20 == nil || prev.Price <= 0 {
		r.Reason = "no baseline; recording current price vs sma20"
		return r
	}

	before := side(prev.Price, *prev.SMA20)
	now := side(cur.Price, *cur.SMA20)
	r.Triggered = before != 0 && now != 0 && before != now
	r.UpdateBaseline = now != 0 || before == 0
	r.Reason = fmt.Sprintf("price %s sma20 %.4g (was %s)", sideLabel(now), *cur.SMA20, sideLabel(before))
	return r
}

func rsiLevel(t domain.RSILevel, s *domain.Snapshot) Result {
	if s.RSI14 == nil {
		return missing("rsi14")
	}
	r := Result{Value: *s.RSI14}
	if t.Overbought {
		r.Triggered = *s.RSI14 >= t.Level
		r.Reason = fmt.Sprintf("rsi14 %.1f %s %.1f", *s.RSI14, cmp(r.Triggered, ">=", "<"), t.Level)
	} else {
		r.Triggered = *s.RSI14 <= t.Level
		r.Reason = fmt.Sprintf("rsi14 %.1f %s %.1f", *s.RSI14, cmp(r.Triggered, "<=", ">"), t.Level)
	}
	return r
}

func fiftyTwoWeek(t domain.FiftyTwoWeek, s *domain.Snapshot) Result {
	if s.Price <= 0 {
		return missing("price")
	}
	r := Result{Value: s.Price}
	if t.High {
		if s.High52 == nil {
			return missing("52-week high")
		}
		r.Triggered = s.Price >= *s.High52
		r.Reason = fmt.Sprintf("price %.4g %s 52-week high %.4g", s.Price, cmp(r.Triggered, ">=", "<"), *s.High52)
	} else {
		if s.Low52 == nil {
			return missing("52-week low")
		}
		r.Triggered = s.Price <= *s.Low52
		r.Reason = fmt.Sprintf("price %.4g %s 52-week low %.4g", s.Price, cmp(r.Triggered, "<=", ">"), *s.Low52)
	}
	return r
}

// earningsWindow counts whole UTC days from the snapshot's day to the report day.
func earningsWindow(t domain.EarningsWindow, s *domain.Snapshot) Result {
	if s.NextEarnings == nil {
		return missing("earnings date")
	}
	asOf := s.FetchedAt
	if asOf.IsZero() {
		asOf = time.Now()
	}
	day := 24 * time.Hour
	days := int(s.NextEarnings.UTC().Truncate(day).Sub(asOf.UTC().Truncate(day)) / day)

	r := Result{Value: float64(days)}
	r.Triggered = days >= 0 && days <= t.Days
	r.Reason = fmt.Sprintf("earnings on %s, %d day(s) away (window %d)", s.NextEarnings.Format(time.DateOnly), days, t.Days)
	return r
}

func side(price, sma float64) int {
	switch {
	case price > sma:
		return 1
	case price < sma:
		return -1
	default:
		return 0
	}
}

func sideLabel(s int) string {
	switch s {
	case 1:
		return "above"
	case -1:
		return "below"
	default:
		return "at"
	}
}

func directionLabel(d domain.Direction) string {
	if d == domain.DirectionAny {
		return "either"
	}
	return string(d)
}

func cmp(triggered bool, yes, no string) string {
	if triggered {
		return yes
	}
	return no
}
