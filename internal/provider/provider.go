package provider

import (
	"context"
	"time"

	"tripwire/internal/domain"
)

// Provider is one market-data vendor. Methods return *domain.ProviderError
// for upstream failures and wrap domain.ErrUnsupported for symbols or data
// the vendor cannot serve.
type Provider interface {
	ID() string
	Supports(asset domain.AssetType, need domain.DataNeed) bool
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
	FetchTechnical(ctx context.Context, symbol string) (*Technical, error)
	FetchEarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error)
}

// Quote is the vendor-neutral form of a latest-price response. Optional
// fields are nil when the vendor does not report them.
type Quote struct {
	Symbol        string
	Price         float64
	Open          *float64
	PreviousClose *float64
	Change        float64
	ChangePercent float64
	Volume        *float64
	AvgVolume     *float64
	DayHigh       *float64
	DayLow        *float64
	YearHigh      *float64
	YearLow       *float64
	Timestamp     time.Time
}

// Technical carries vendor indicators plus the daily history (oldest first)
// the aggregator derives missing indicators from.
type Technical struct {
	Symbol  string
	SMA20   *float64
	RSI14   *float64
	Closes  []float64
	Volumes []float64
	Highs   []float64
	Lows    []float64
	AsOf    time.Time
}

type EarningsEvent struct {
	Symbol string
	Date   time.Time
}

func ptr(v float64) *float64 { return &v }

// nonZero treats a zero vendor value as missing.
func nonZero(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
