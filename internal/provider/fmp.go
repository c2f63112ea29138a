package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"tripwire/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	FMPID         = "fmp"
	fmpBaseURL    = "https://financialmodelingprep.com"
	fmpDateLayout = "2006-01-02"
)

// FMPProvider serves equities from Financial Modeling Prep.
type FMPProvider struct {
	baseURL string
	apiKey  string
	rest    *restClient
}

// NewFMPProvider paces requests at 5 per second, the free-tier burst limit.
func NewFMPProvider(tracer trace.Tracer, apiKey string) *FMPProvider {
	return &FMPProvider{
		baseURL: fmpBaseURL,
		apiKey:  apiKey,
		rest:    newRESTClient(FMPID, tracer, NewPacer(FMPID, 300, 5)),
	}
}

func (p *FMPProvider) ID() string { return FMPID }

func (p *FMPProvider) Supports(asset domain.AssetType, need domain.DataNeed) bool {
	return asset == domain.AssetEquity
}

type fmpQuote struct {
	Symbol            string  `json:"symbol"`
	Price             float64 `json:"price"`
	ChangesPercentage float64 `json:"changesPercentage"`
	Change            float64 `json:"change"`
	DayLow            float64 `json:"dayLow"`
	DayHigh           float64 `json:"dayHigh"`
	YearHigh          float64 `json:"yearHigh"`
	YearLow           float64 `json:"yearLow"`
	Volume            float64 `json:"volume"`
	AvgVolume         float64 `json:"avgVolume"`
	Open              float64 `json:"open"`
	PreviousClose     float64 `json:"previousClose"`
	Timestamp         int64   `json:"timestamp"`
}

func (p *FMPProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	var raw []fmpQuote
	if err := p.rest.getJSON(ctx, "quote", p.url("/api/v3/quote/"+url.PathEscape(symbol), nil), &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0].Price == 0 {
		return nil, &domain.ProviderError{Provider: FMPID, Op: "quote", Err: fmt.Errorf("%w for %s", errNoData, symbol)}
	}

	q := raw[0]
	ts := time.Now().UTC()
	if q.Timestamp > 0 {
		ts = time.Unix(q.Timestamp, 0).UTC()
	}
	return &Quote{
		Symbol:        domain.NormalizeSymbol(q.Symbol),
		Price:         q.Price,
		Open:          nonZero(q.Open),
		PreviousClose: nonZero(q.PreviousClose),
		Change:        q.Change,
		ChangePercent: q.ChangesPercentage,
		Volume:        ptr(q.Volume),
		AvgVolume:     nonZero(q.AvgVolume),
		DayHigh:       nonZero(q.DayHigh),
		DayLow:        nonZero(q.DayLow),
		YearHigh:      nonZero(q.YearHigh),
		YearLow:       nonZero(q.YearLow),
		Timestamp:     ts,
	}, nil
}

type fmpIndicatorRow struct {
	Date   string   `json:"date"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume float64  `json:"volume"`
	RSI    *float64 `json:"rsi"`
}

// FetchTechnical reads the daily RSI series, which also carries the OHLCV
// history used to derive SMA20 and the volume average.
func (p *FMPProvider) FetchTechnical(ctx context.Context, symbol string) (*Technical, error) {
	q := url.Values{"type": {"rsi"}, "period": {"14"}}
	var rows []fmpIndicatorRow
	if err := p.rest.getJSON(ctx, "technical", p.url("/api/v3/technical_indicator/1day/"+url.PathEscape(symbol), q), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ProviderError{Provider: FMPID, Op: "technical", Err: fmt.Errorf("%w for %s", errNoData, symbol)}
	}

	// newest first on the wire
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })

	tech := &Technical{Symbol: domain.NormalizeSymbol(symbol), AsOf: time.Now().UTC()}
	for _, row := range rows {
		tech.Closes = append(tech.Closes, row.Close)
		tech.Volumes = append(tech.Volumes, row.Volume)
		tech.Highs = append(tech.Highs, row.High)
		tech.Lows = append(tech.Lows, row.Low)
	}
	tech.RSI14 = rows[len(rows)-1].RSI
	return tech, nil
}

type fmpEarning struct {
	Date   string `json:"date"`
	Symbol string `json:"symbol"`
}

func (p *FMPProvider) FetchEarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error) {
	q := url.Values{"from": {from.UTC().Format(fmpDateLayout)}, "to": {to.UTC().Format(fmpDateLayout)}}
	var raw []fmpEarning
	if err := p.rest.getJSON(ctx, "earnings", p.url("/api/v3/earning_calendar", q), &raw); err != nil {
		return nil, err
	}

	events := make([]EarningsEvent, 0, len(raw))
	for _, e := range raw {
		d, err := time.Parse(fmpDateLayout, e.Date)
		if err != nil || e.Symbol == "" {
			continue
		}
		events = append(events, EarningsEvent{Symbol: domain.NormalizeSymbol(e.Symbol), Date: d})
	}
	return events, nil
}

func (p *FMPProvider) url(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("apikey", p.apiKey)
	return strings.TrimRight(p.baseURL, "/") + path + "?" + q.Encode()
}
