package marketdata

import (
	"sort"
	"time"

	"tripwire/internal/domain"
	"tripwire/internal/provider"
	"tripwire/internal/ta"
)

const (
	smaPeriod       = 20
	rsiPeriod       = 14
	avgVolumeWindow = 30
)

// sessions per year by asset: exchanges trade ~252 days, crypto every day
func yearSessions(asset domain.AssetType) int {
	if asset == domain.AssetCrypto {
		return 365
	}
	return 252
}

func quoteSnapshot(providerID, symbol string, q *provider.Quote, now time.Time) *domain.Snapshot {
	snap := &domain.Snapshot{
		Symbol:        symbol,
		Price:         q.Price,
		Open:          q.Open,
		PreviousClose: q.PreviousClose,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		AvgVolume:     q.AvgVolume,
		DayHigh:       q.DayHigh,
		DayLow:        q.DayLow,
		High52:        q.YearHigh,
		Low52:         q.YearLow,
		Source:        providerID,
		FetchedAt:     now.UTC(),
	}
	if snap.Change == 0 && snap.ChangePercent == 0 && snap.PreviousClose != nil && *snap.PreviousClose > 0 {
		snap.Change = snap.Price - *snap.PreviousClose
		snap.ChangePercent = snap.Change / *snap.PreviousClose * 100
	}
	return snap
}

// technicalSnapshot keeps vendor indicators and derives the rest from history.
func technicalSnapshot(providerID, symbol string, asset domain.AssetType, t *provider.Technical, now time.Time) *domain.Snapshot {
	snap := &domain.Snapshot{
		Symbol:    symbol,
		SMA20:     t.SMA20,
		RSI14:     t.RSI14,
		Source:    providerID,
		FetchedAt: now.UTC(),
	}

	if n := len(t.Closes); n > 0 {
		snap.Price = t.Closes[n-1]
	}
	if snap.SMA20 == nil {
		if v, ok := ta.SMA(t.Closes, smaPeriod); ok {
			snap.SMA20 = &v
		}
	}
	if snap.RSI14 == nil {
		if v, ok := ta.RSI(t.Closes, rsiPeriod); ok {
			snap.RSI14 = &v
		}
	}

	// the latest session may still be forming, so it is left out of the average
	if n := len(t.Volumes); n > 1 {
		avg := ta.Mean(ta.Tail(t.Volumes[:n-1], avgVolumeWindow))
		if avg > 0 {
			snap.AvgVolume = &avg
		}
	}

	window := yearSessions(asset)
	highs, lows := t.Highs, t.Lows
	if len(highs) == 0 {
		highs = t.Closes
	}
	if len(lows) == 0 {
		lows = t.Closes
	}
	if _, hi, ok := ta.Extremes(ta.Tail(highs, window)); ok {
		snap.High52 = &hi
	}
	if lo, _, ok := ta.Extremes(ta.Tail(lows, window)); ok {
		snap.Low52 = &lo
	}
	return snap
}

// earningsCalendar maps a symbol to its report dates in ascending order.
type earningsCalendar map[string][]time.Time

func newEarningsCalendar(events []provider.EarningsEvent) earningsCalendar {
	cal := make(earningsCalendar)
	for _, e := range events {
		sym := domain.NormalizeSymbol(e.Symbol)
		cal[sym] = append(cal[sym], e.Date.UTC())
	}
	for sym := range cal {
		dates := cal[sym]
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	}
	return cal
}

// next returns the first report date on or after the start of now's UTC day.
func (c earningsCalendar) next(symbol string, now time.Time) (time.Time, bool) {
	today := now.UTC().Truncate(24 * time.Hour)
	for _, d := range c[domain.NormalizeSymbol(symbol)] {
		if !d.Before(today) {
			return d, true
		}
	}
	return time.Time{}, false
}
