package provider

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"tripwire/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	CoinGeckoID      = "coingecko"
	coingeckoBaseURL = "https://api.coingecko.com/api/v3"
	// a year of daily points covers the 52-week range
	coingeckoHistoryDays = 365
)

// CoinGeckoProvider serves crypto quotes and daily history from the CoinGecko API.
type CoinGeckoProvider struct {
	baseURL string
	rest    *restClient
}

// NewCoinGeckoProvider is paced to 8 requests per minute, the public plan
// limit. apiKey is optional and sent as the demo-plan header.
func NewCoinGeckoProvider(tracer trace.Tracer, apiKey string) *CoinGeckoProvider {
	rest := newRESTClient(CoinGeckoID, tracer, NewPacer(CoinGeckoID, 8, 8))
	if apiKey != "" {
		rest.headers["x-cg-demo-api-key"] = apiKey
	}
	return &CoinGeckoProvider{baseURL: coingeckoBaseURL, rest: rest}
}

func (p *CoinGeckoProvider) ID() string { return CoinGeckoID }

func (p *CoinGeckoProvider) Supports(asset domain.AssetType, need domain.DataNeed) bool {
	return asset == domain.AssetCrypto && need != domain.NeedEarnings
}

func coinID(symbol string) (string, error) {
	id, ok := domain.CoinGeckoCoin(symbol)
	if !ok {
		return "", fmt.Errorf("coingecko id for %s: %w", symbol, domain.ErrUnsupported)
	}
	return id, nil
}

type coingeckoMarket struct {
	ID                       string  `json:"id"`
	CurrentPrice             float64 `json:"current_price"`
	High24h                  float64 `json:"high_24h"`
	Low24h                   float64 `json:"low_24h"`
	PriceChange24h           float64 `json:"price_change_24h"`
	PriceChangePercentage24h float64 `json:"price_change_percentage_24h"`
	TotalVolume              float64 `json:"total_volume"`
	LastUpdated              string  `json:"last_updated"`
}

// FetchQuote reads /coins/markets. Crypto trades around the clock, so the
// 24h change stands in for the daily change and the price 24h ago for the
// previous close.
func (p *CoinGeckoProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	id, err := coinID(symbol)
	if err != nil {
		return nil, err
	}

	q := url.Values{"vs_currency": {"usd"}, "ids": {id}}
	var raw []coingeckoMarket
	if err := p.rest.getJSON(ctx, "quote", p.baseURL+"/coins/markets?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, &domain.ProviderError{Provider: CoinGeckoID, Op: "quote", Err: fmt.Errorf("%w for %s", errNoData, symbol)}
	}

	m := raw[0]
	ts := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, m.LastUpdated); err == nil {
		ts = parsed.UTC()
	}
	quote := &Quote{
		Symbol:        domain.NormalizeSymbol(symbol),
		Price:         m.CurrentPrice,
		Change:        m.PriceChange24h,
		ChangePercent: m.PriceChangePercentage24h,
		Volume:        ptr(m.TotalVolume),
		DayHigh:       nonZero(m.High24h),
		DayLow:        nonZero(m.Low24h),
		Timestamp:     ts,
	}
	if prev := m.CurrentPrice - m.PriceChange24h; prev > 0 {
		quote.PreviousClose = &prev
		quote.Open = &prev
	}
	return quote, nil
}

// FetchTechnical builds daily candles from a year of market_chart data.
func (p *CoinGeckoProvider) FetchTechnical(ctx context.Context, symbol string) (*Technical, error) {
	candles, err := p.FetchMarketChart(ctx, symbol, coingeckoHistoryDays, "1d")
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, &domain.ProviderError{Provider: CoinGeckoID, Op: "technical", Err: fmt.Errorf("%w for %s", errNoData, symbol)}
	}

	tech := &Technical{Symbol: domain.NormalizeSymbol(symbol), AsOf: time.Now().UTC()}
	for _, c := range candles {
		tech.Closes = append(tech.Closes, c.Close)
		tech.Volumes = append(tech.Volumes, c.Volume)
		tech.Highs = append(tech.Highs, c.High)
		tech.Lows = append(tech.Lows, c.Low)
	}
	return tech, nil
}

func (p *CoinGeckoProvider) FetchEarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error) {
	return nil, fmt.Errorf("%s earnings calendar: %w", CoinGeckoID, domain.ErrUnsupported)
}

// FetchMarketChart fetches market_chart data and buckets it into candles of
// the given interval.
func (p *CoinGeckoProvider) FetchMarketChart(ctx context.Context, symbol string, days int, interval string) ([]*domain.Candle, error) {
	id, err := coinID(symbol)
	if err != nil {
		return nil, err
	}

	q := url.Values{"vs_currency": {"usd"}, "days": {fmt.Sprint(days)}}
	if interval == "1d" {
		q.Set("interval", "daily")
	}

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	if err := p.rest.getJSON(ctx, "market-chart", p.baseURL+"/coins/"+id+"/market_chart?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	return buildCandlesFromMarketChart(domain.NormalizeSymbol(symbol), interval, raw.Prices, raw.TotalVolumes), nil
}

type volumePoint struct {
	ts  int64
	vol float64
}

// buildCandlesFromMarketChart constructs candles of the given interval
// from raw market_chart price/volume arrays.
func buildCandlesFromMarketChart(symbol, interval string, prices, volumes [][]float64) []*domain.Candle {
	if len(prices) == 0 {
		return nil
	}

	intervalDuration := intervalToDuration(interval)
	if intervalDuration == 0 {
		return nil
	}

	volPoints := make([]volumePoint, 0, len(volumes))
	for _, v := range volumes {
		if len(v) >= 2 {
			volPoints = append(volPoints, volumePoint{ts: int64(v[0]), vol: v[1]})
		}
	}

	sort.Slice(prices, func(i, j int) bool {
		return prices[i][0] < prices[j][0]
	})

	type bucket struct {
		open     float64
		high     float64
		low      float64
		close    float64
		openTime time.Time
	}

	buckets := make(map[int64]*bucket)

	for _, pt := range prices {
		if len(pt) < 2 {
			continue
		}
		price := pt[1]
		t := time.UnixMilli(int64(pt[0]))

		bucketTS := t.Truncate(intervalDuration).UnixMilli()

		b, exists := buckets[bucketTS]
		if !exists {
			buckets[bucketTS] = &bucket{
				open:     price,
				high:     price,
				low:      price,
				close:    price,
				openTime: time.UnixMilli(bucketTS),
			}
			continue
		}
		b.high = math.Max(b.high, price)
		b.low = math.Min(b.low, price)
		b.close = price
	}

	sortedKeys := make([]int64, 0, len(buckets))
	for k := range buckets {
		sortedKeys = append(sortedKeys, k)
	}
	sort.Slice(sortedKeys, func(i, j int) bool { return sortedKeys[i] < sortedKeys[j] })

	candles := make([]*domain.Candle, 0, len(sortedKeys))
	for _, k := range sortedKeys {
		b := buckets[k]
		vol := findClosestVolume(volPoints, k+int64(intervalDuration/time.Millisecond))
		candles = append(candles, &domain.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: b.openTime.UTC(),
			Open:     b.open,
			High:     b.high,
			Low:      b.low,
			Close:    b.close,
			Volume:   vol,
		})
	}

	return candles
}

func findClosestVolume(volumes []volumePoint, targetMs int64) float64 {
	if len(volumes) == 0 {
		return 0
	}
	closest := volumes[0]
	minDiff := int64(math.MaxInt64)
	for _, v := range volumes {
		diff := v.ts - targetMs
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closest = v
		}
	}
	return closest.vol
}

func intervalToDuration(interval string) time.Duration {
	switch strings.ToLower(interval) {
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}
