package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"tripwire/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	AlphaVantageID      = "alphavantage"
	alphaVantageBaseURL = "https://www.alphavantage.co"
)

// AlphaVantageProvider serves equity quotes and daily history. It has no
// earnings calendar in JSON form.
type AlphaVantageProvider struct {
	baseURL string
	apiKey  string
	rest    *restClient
}

// NewAlphaVantageProvider paces requests at 5 per minute, the free-tier limit.
func NewAlphaVantageProvider(tracer trace.Tracer, apiKey string) *AlphaVantageProvider {
	return &AlphaVantageProvider{
		baseURL: alphaVantageBaseURL,
		apiKey:  apiKey,
		rest:    newRESTClient(AlphaVantageID, tracer, NewPacer(AlphaVantageID, 5, 5)),
	}
}

func (p *AlphaVantageProvider) ID() string { return AlphaVantageID }

func (p *AlphaVantageProvider) Supports(asset domain.AssetType, need domain.DataNeed) bool {
	return asset == domain.AssetEquity && need != domain.NeedEarnings
}

// avEnvelope captures the throttling and error notes Alpha Vantage returns with a 200.
type avEnvelope struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (e avEnvelope) err(op string) error {
	switch {
	case e.ErrorMessage != "":
		return &domain.ProviderError{Provider: AlphaVantageID, Op: op, StatusCode: http.StatusBadRequest, Err: fmt.Errorf("%s", e.ErrorMessage)}
	case e.Note != "":
		return &domain.ProviderError{Provider: AlphaVantageID, Op: op, StatusCode: http.StatusTooManyRequests, Err: fmt.Errorf("%s", e.Note)}
	case e.Information != "":
		return &domain.ProviderError{Provider: AlphaVantageID, Op: op, StatusCode: http.StatusTooManyRequests, Err: fmt.Errorf("%s", e.Information)}
	}
	return nil
}

func (p *AlphaVantageProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	var raw struct {
		avEnvelope
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	q := url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}
	if err := p.rest.getJSON(ctx, "quote", p.url(q), &raw); err != nil {
		return nil, err
	}
	if err := raw.err("quote"); err != nil {
		return nil, err
	}
	gq := raw.GlobalQuote
	price := parseAV(gq["05. price"])
	if price == nil {
		return nil, &domain.ProviderError{Provider: AlphaVantageID, Op: "quote", Err: fmt.Errorf("%w for %s", errNoData, symbol)}
	}

	quote := &Quote{
		Symbol:        domain.NormalizeSymbol(gq["01. symbol"]),
		Price:         *price,
		Open:          parseAV(gq["02. open"]),
		DayHigh:       parseAV(gq["03. high"]),
		DayLow:        parseAV(gq["04. low"]),
		Volume:        parseAV(gq["06. volume"]),
		PreviousClose: parseAV(gq["08. previous close"]),
		Timestamp:     time.Now().UTC(),
	}
	if c := parseAV(gq["09. change"]); c != nil {
		quote.Change = *c
	}
	if cp := parseAV(strings.TrimSuffix(gq["10. change percent"], "%")); cp != nil {
		quote.ChangePercent = *cp
	}
	if day, err := time.Parse(fmpDateLayout, gq["07. latest trading day"]); err == nil {
		quote.Timestamp = day
	}
	return quote, nil
}

// FetchTechnical reads the full daily series; indicators are derived from it.
func (p *AlphaVantageProvider) FetchTechnical(ctx context.Context, symbol string) (*Technical, error) {
	var raw struct {
		avEnvelope
		Series map[string]map[string]string `json:"Time Series (Daily)"`
	}
	q := url.Values{"function": {"TIME_SERIES_DAILY"}, "symbol": {symbol}, "outputsize": {"full"}}
	if err := p.rest.getJSON(ctx, "technical", p.url(q), &raw); err != nil {
		return nil, err
	}
	if err := raw.err("technical"); err != nil {
		return nil, err
	}
	if len(raw.Series) == 0 {
		return nil, &domain.ProviderError{Provider: AlphaVantageID, Op: "technical", Err: fmt.Errorf("%w for %s", errNoData, symbol)}
	}

	dates := make([]string, 0, len(raw.Series))
	for d := range raw.Series {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	// a year of sessions is all any indicator needs
	if len(dates) > 260 {
		dates = dates[len(dates)-260:]
	}

	tech := &Technical{Symbol: domain.NormalizeSymbol(symbol), AsOf: time.Now().UTC()}
	for _, d := range dates {
		bar := raw.Series[d]
		closeV := parseAV(bar["4. close"])
		if closeV == nil {
			continue
		}
		tech.Closes = append(tech.Closes, *closeV)
		tech.Volumes = append(tech.Volumes, valueOr(parseAV(bar["5. volume"]), 0))
		tech.Highs = append(tech.Highs, valueOr(parseAV(bar["2. high"]), *closeV))
		tech.Lows = append(tech.Lows, valueOr(parseAV(bar["3. low"]), *closeV))
	}
	return tech, nil
}

func (p *AlphaVantageProvider) FetchEarningsCalendar(ctx context.Context, from, to time.Time) ([]EarningsEvent, error) {
	return nil, fmt.Errorf("%s earnings calendar: %w", AlphaVantageID, domain.ErrUnsupported)
}

func (p *AlphaVantageProvider) url(q url.Values) string {
	q.Set("apikey", p.apiKey)
	return strings.TrimRight(p.baseURL, "/") + "/query?" + q.Encode()
}

func parseAV(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
