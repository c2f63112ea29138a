package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAlertTypeNeeds(t *testing.T) {
	for _, at := range AlertTypes {
		if len(at.Needs()) == 0 {
			t.Errorf("alert type %s has no data needs", at)
		}
	}
	if got := AlertType("bogus").Needs(); got != nil {
		t.Errorf("unknown type needs = %v, want nil", got)
	}
	needs := AlertSMA20PriceCross.Needs()
	if len(needs) != 2 || needs[0] != NeedQuote || needs[1] != NeedTechnical {
		t.Errorf("sma cross needs = %v", needs)
	}
}

func TestUniqueChannels(t *testing.T) {
	a := Alert{Channels: []Channel{ChannelPush, "sms", ChannelEmail, ChannelPush, ChannelInApp}}
	got := a.UniqueChannels()
	want := []Channel{ChannelPush, ChannelEmail, ChannelInApp}
	if len(got) != len(want) {
		t.Fatalf("channels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channels = %v, want %v", got, want)
		}
	}
}

func TestCooldownElapsed(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	triggered := now.Add(-time.Hour)

	a := Alert{TriggeredAt: &triggered, Cooldown: 2 * time.Hour}
	if a.CooldownElapsed(now) {
		t.Error("cooldown should still be running")
	}
	a.Cooldown = time.Hour
	if !a.CooldownElapsed(now) {
		t.Error("cooldown ending exactly now should count as elapsed")
	}
	if !(Alert{}).CooldownElapsed(now) {
		t.Error("never-triggered alert should be re-armable")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	if got := NormalizeSymbol("  aapl "); got != "AAPL" {
		t.Errorf("NormalizeSymbol = %q", got)
	}
}

func TestInferAsset(t *testing.T) {
	if got := InferAsset(" btc"); got != AssetCrypto {
		t.Errorf("InferAsset(btc) = %s", got)
	}
	if got := InferAsset("AAPL"); got != AssetEquity {
		t.Errorf("InferAsset(AAPL) = %s", got)
	}
}

func TestParseTrigger(t *testing.T) {
	f := Float
	days := 3
	neg := -1

	tests := []struct {
		name    string
		typ     AlertType
		params  TriggerParams
		want    Trigger
		wantErr bool
	}{
		{"upper", AlertPriceLimitUpper, TriggerParams{Threshold: f(150)}, PriceLimit{Kind: AlertPriceLimitUpper, Threshold: 150, Upper: true}, false},
		{"lower missing threshold", AlertPriceLimitLower, TriggerParams{}, nil, true},
		{"change with direction", AlertPriceChange1Day, TriggerParams{Threshold: f(5), Direction: "Down"}, PriceChange{Kind: AlertPriceChange1Day, Threshold: 5, Direction: DirectionDown}, false},
		{"change negative threshold", AlertPriceChange1Day, TriggerParams{Threshold: f(-5)}, nil, true},
		{"change bad direction", AlertPercentChangeFromOpen, TriggerParams{Threshold: f(1), Direction: "sideways"}, nil, true},
		{"from open", AlertPercentChangeFromOpen, TriggerParams{Threshold: f(2)}, PriceChange{Kind: AlertPercentChangeFromOpen, Threshold: 2, FromOpen: true}, false},
		{"spike multiplier", AlertVolumeSpike, TriggerParams{Multiplier: f(3)}, VolumeRatio{Kind: AlertVolumeSpike, Multiplier: 3, Spike: true}, false},
		{"dip uses threshold as multiplier", AlertVolumeDip, TriggerParams{Threshold: f(0.5)}, VolumeRatio{Kind: AlertVolumeDip, Multiplier: 0.5}, false},
		{"spike zero multiplier", AlertVolumeSpike, TriggerParams{Multiplier: f(0)}, nil, true},
		{"sma", AlertSMA20PriceCross, TriggerParams{}, SMACross{Kind: AlertSMA20PriceCross, Period: 20}, false},
		{"rsi default", AlertRSIOverbought, TriggerParams{}, RSILevel{Kind: AlertRSIOverbought, Level: 70, Overbought: true}, false},
		{"rsi override", AlertRSIOversold, TriggerParams{Threshold: f(25)}, RSILevel{Kind: AlertRSIOversold, Level: 25}, false},
		{"rsi out of range", AlertRSIOversold, TriggerParams{Threshold: f(120)}, nil, true},
		{"52w high", AlertFiftyTwoWeekHigh, TriggerParams{}, FiftyTwoWeek{Kind: AlertFiftyTwoWeekHigh, High: true}, false},
		{"earnings default", AlertEarningsUpcoming, TriggerParams{}, EarningsWindow{Kind: AlertEarningsUpcoming, Days: 7}, false},
		{"earnings days", AlertEarningsUpcoming, TriggerParams{Days: &days}, EarningsWindow{Kind: AlertEarningsUpcoming, Days: 3}, false},
		{"earnings negative", AlertEarningsUpcoming, TriggerParams{Days: &neg}, nil, true},
		{"unknown", AlertType("moon"), TriggerParams{}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTrigger(tt.typ, tt.params)
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
			if got.Type() != tt.typ {
				t.Errorf("Type() = %s, want %s", got.Type(), tt.typ)
			}
		})
	}
}

func TestSnapshotMerge(t *testing.T) {
	now := time.Now().UTC()
	quote := &Snapshot{Symbol: "AAPL", Price: 190, Volume: Float(1e6), High52: Float(200), Source: "fmp", FetchedAt: now}
	tech := &Snapshot{Symbol: "AAPL", Price: 189, SMA20: Float(185), RSI14: Float(55), High52: Float(210), Source: "alphavantage", FetchedAt: now.Add(time.Second)}

	var s Snapshot
	s.Merge(NeedTechnical, tech)
	s.Merge(NeedQuote, quote)

	if s.Price != 190 {
		t.Errorf("price = %v, want quote price", s.Price)
	}
	if s.Source != "fmp" {
		t.Errorf("source = %q, want fmp", s.Source)
	}
	if s.Sources[NeedTechnical] != "alphavantage" || s.Sources[NeedQuote] != "fmp" {
		t.Errorf("sources = %v", s.Sources)
	}
	if s.SMA20 == nil || *s.SMA20 != 185 {
		t.Errorf("sma20 = %v", s.SMA20)
	}
	if *s.High52 != 210 {
		t.Errorf("high52 = %v, want first merged value", *s.High52)
	}
	if !s.FetchedAt.Equal(now.Add(time.Second)) {
		t.Errorf("fetchedAt = %v", s.FetchedAt)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	root := errors.New("connection reset")
	pe := &ProviderError{Provider: "fmp", Op: "quote", StatusCode: 502, Err: root}
	qe := &QuotaExceededError{Provider: "alphavantage", Count: 25, Limit: 25}
	du := &DataUnavailableError{Symbol: "AAPL", Need: NeedQuote, Attempts: []error{pe, qe}}

	if !errors.Is(du, root) {
		t.Error("DataUnavailableError should unwrap to the provider cause")
	}
	var gotQuota *QuotaExceededError
	if !errors.As(du, &gotQuota) || gotQuota.Provider != "alphavantage" {
		t.Error("DataUnavailableError should expose the quota attempt")
	}

	wrapped := fmt.Errorf("run: %w", &StoreUnavailableError{Op: "load", Err: root})
	var se *StoreUnavailableError
	if !errors.As(wrapped, &se) || se.Op != "load" {
		t.Error("StoreUnavailableError not matched through wrapping")
	}

	if !IsSkip(qe) || !IsSkip(fmt.Errorf("x: %w", ErrUnsupported)) || IsSkip(pe) {
		t.Error("IsSkip classification wrong")
	}
}

func TestCoinGeckoCoin(t *testing.T) {
	if id, ok := CoinGeckoCoin("eth"); !ok || id != "ethereum" {
		t.Errorf("CoinGeckoCoin(eth) = %q, %v", id, ok)
	}
	if _, ok := CoinGeckoCoin("TSLA"); ok {
		t.Error("TSLA should not map to a coin")
	}
}
