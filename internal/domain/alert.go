package domain

import (
	"strings"
	"time"
)

type AssetType string

const (
	AssetEquity AssetType = "equity"
	AssetCrypto AssetType = "crypto"
)

type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusTriggered AlertStatus = "triggered"
	StatusDisabled  AlertStatus = "disabled"
	StatusErrored   AlertStatus = "errored"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

type AlertType string

const (
	AlertPriceLimitUpper       AlertType = "price_limit_upper"
	AlertPriceLimitLower       AlertType = "price_limit_lower"
	AlertPriceChange1Day       AlertType = "price_change_1day"
	AlertPercentChangeFromOpen AlertType = "percent_change_from_open"
	AlertVolumeSpike           AlertType = "volume_spike"
	AlertVolumeDip             AlertType = "volume_dip"
	AlertSMA20PriceCross       AlertType = "sma_20_price_cross"
	AlertRSIOverbought         AlertType = "rsi_overbought"
	AlertRSIOversold           AlertType = "rsi_oversold"
	AlertFiftyTwoWeekHigh      AlertType = "fifty_two_week_high"
	AlertFiftyTwoWeekLow       AlertType = "fifty_two_week_low"
	AlertEarningsUpcoming      AlertType = "earnings_upcoming"
)

// AlertTypes lists every alert type the evaluator understands.
var AlertTypes = []AlertType{
	AlertPriceLimitUpper,
	AlertPriceLimitLower,
	AlertPriceChange1Day,
	AlertPercentChangeFromOpen,
	AlertVolumeSpike,
	AlertVolumeDip,
	AlertSMA20PriceCross,
	AlertRSIOverbought,
	AlertRSIOversold,
	AlertFiftyTwoWeekHigh,
	AlertFiftyTwoWeekLow,
	AlertEarningsUpcoming,
}

// Needs returns the market data an alert of this type has to be evaluated against.
func (t AlertType) Needs() []DataNeed {
	switch t {
	case AlertPriceLimitUpper, AlertPriceLimitLower, AlertPriceChange1Day, AlertPercentChangeFromOpen:
		return []DataNeed{NeedQuote}
	case AlertVolumeSpike, AlertVolumeDip, AlertSMA20PriceCross, AlertFiftyTwoWeekHigh, AlertFiftyTwoWeekLow:
		return []DataNeed{NeedQuote, NeedTechnical}
	case AlertRSIOverbought, AlertRSIOversold:
		return []DataNeed{NeedTechnical}
	case AlertEarningsUpcoming:
		return []DataNeed{NeedEarnings}
	default:
		return nil
	}
}

// TriggerParams is the loosely stored form of a trigger condition. ParseTrigger
// turns it into a typed Trigger.
type TriggerParams struct {
	Threshold  *float64 `json:"threshold,omitempty"`
	Direction  string   `json:"direction,omitempty"`
	Multiplier *float64 `json:"multiplier,omitempty"`
	Days       *int     `json:"days,omitempty"`
}

type Contact struct {
	Email      string `json:"email,omitempty"`
	PushChatID string `json:"push_chat_id,omitempty"`
}

type Alert struct {
	ID                int64         `json:"id"`
	UserID            string        `json:"user_id"`
	AssetType         AssetType     `json:"asset_type"`
	Symbol            string        `json:"symbol"`
	Type              AlertType     `json:"alert_type"`
	Params            TriggerParams `json:"trigger_params"`
	Status            AlertStatus   `json:"status"`
	Recurring         bool          `json:"recurring"`
	Cooldown          time.Duration `json:"cooldown"`
	Channels          []Channel     `json:"channels"`
	Contact           Contact       `json:"contact"`
	LastCheckedAt     *time.Time    `json:"last_checked_at,omitempty"`
	TriggeredAt       *time.Time    `json:"triggered_at,omitempty"`
	TriggeredValue    *float64      `json:"triggered_value,omitempty"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	ConditionMet      bool          `json:"condition_met"`
	Baseline          *Snapshot     `json:"baseline,omitempty"`

	// ParamsErr is set when the stored trigger parameters could not be decoded.
	ParamsErr error `json:"-"`
}

// NormalizeSymbol upper-cases and trims a ticker so grouping is stable.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// coinGeckoIDs maps the crypto symbols we quote to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
	"LTC":   "litecoin",
	"BNB":   "binancecoin",
}

// CoinGeckoCoin returns the CoinGecko id for a crypto symbol.
func CoinGeckoCoin(symbol string) (string, bool) {
	id, ok := coinGeckoIDs[NormalizeSymbol(symbol)]
	return id, ok
}

// InferAsset guesses the asset class of a bare ticker: known coins are
// crypto, everything else is equity.
func InferAsset(symbol string) AssetType {
	if _, ok := CoinGeckoCoin(symbol); ok {
		return AssetCrypto
	}
	return AssetEquity
}

// UniqueChannels returns the alert's channels without duplicates or unknown values,
// preserving order.
func (a Alert) UniqueChannels() []Channel {
	seen := make(map[Channel]struct{}, len(a.Channels))
	out := make([]Channel, 0, len(a.Channels))
	for _, ch := range a.Channels {
		if !ch.IsValid() {
			continue
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// CooldownElapsed reports whether a triggered alert may be re-armed at now.
func (a Alert) CooldownElapsed(now time.Time) bool {
	if a.TriggeredAt == nil {
		return true
	}
	return !now.Before(a.TriggeredAt.Add(a.Cooldown))
}

// AlertStateUpdate is written back to the store after every evaluation.
type AlertStateUpdate struct {
	Status         AlertStatus
	CheckedAt      time.Time
	TriggeredAt    *time.Time
	TriggeredValue *float64
	ConditionMet   bool
	Baseline       *Snapshot
	ResetErrors    bool
	// Source is the provider that served the triggering snapshot.
	Source string
}

// Notification is the payload handed to a channel sender.
type Notification struct {
	AlertID     int64     `json:"alert_id"`
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	AlertType   AlertType `json:"alert_type"`
	Value       float64   `json:"value"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Source      string    `json:"source"`
	TriggeredAt time.Time `json:"triggered_at"`
}
