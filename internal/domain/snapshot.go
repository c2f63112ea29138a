package domain

import "time"

// DataNeed names one class of market data a provider can serve.
type DataNeed string

const (
	NeedQuote     DataNeed = "quote"
	NeedTechnical DataNeed = "technical"
	NeedEarnings  DataNeed = "earnings"
)

// Snapshot is a normalized point-in-time bundle of market data for one symbol.
// Optional indicators are nil when no provider could supply or derive them.
type Snapshot struct {
	Symbol        string              `json:"symbol"`
	Price         float64             `json:"price"`
	Open          *float64            `json:"open,omitempty"`
	PreviousClose *float64            `json:"previous_close,omitempty"`
	Change        float64             `json:"change"`
	ChangePercent float64             `json:"change_percent"`
	Volume        *float64            `json:"volume,omitempty"`
	AvgVolume     *float64            `json:"avg_volume,omitempty"`
	DayHigh       *float64            `json:"day_high,omitempty"`
	DayLow        *float64            `json:"day_low,omitempty"`
	High52        *float64            `json:"high_52w,omitempty"`
	Low52         *float64            `json:"low_52w,omitempty"`
	SMA20         *float64            `json:"sma_20,omitempty"`
	RSI14         *float64            `json:"rsi_14,omitempty"`
	NextEarnings  *time.Time          `json:"next_earnings,omitempty"`
	Source        string              `json:"source"`
	Sources       map[DataNeed]string `json:"sources,omitempty"`
	FetchedAt     time.Time           `json:"fetched_at"`
}

// Merge copies the fields served for need from other into s. The primary
// Source tag is the provider that served the quote, or the first one merged.
func (s *Snapshot) Merge(need DataNeed, other *Snapshot) {
	if other == nil {
		return
	}
	if s.Symbol == "" {
		s.Symbol = other.Symbol
	}
	if s.Sources == nil {
		s.Sources = make(map[DataNeed]string, 3)
	}
	s.Sources[need] = other.Source
	if s.Source == "" || need == NeedQuote {
		s.Source = other.Source
	}
	if other.FetchedAt.After(s.FetchedAt) {
		s.FetchedAt = other.FetchedAt
	}

	switch need {
	case NeedQuote:
		s.Price = other.Price
		s.Open = other.Open
		s.PreviousClose = other.PreviousClose
		s.Change = other.Change
		s.ChangePercent = other.ChangePercent
		s.Volume = other.Volume
		s.DayHigh = other.DayHigh
		s.DayLow = other.DayLow
		s.AvgVolume = firstSet(s.AvgVolume, other.AvgVolume)
		s.High52 = firstSet(s.High52, other.High52)
		s.Low52 = firstSet(s.Low52, other.Low52)
	case NeedTechnical:
		s.SMA20 = firstSet(other.SMA20, s.SMA20)
		s.RSI14 = firstSet(other.RSI14, s.RSI14)
		s.AvgVolume = firstSet(s.AvgVolume, other.AvgVolume)
		s.High52 = firstSet(s.High52, other.High52)
		s.Low52 = firstSet(s.Low52, other.Low52)
		if s.Price == 0 {
			s.Price = other.Price
		}
	case NeedEarnings:
		s.NextEarnings = other.NextEarnings
	}
}

func firstSet(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Candle is one OHLCV bucket of provider history.
type Candle struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}
