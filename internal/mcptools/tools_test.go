package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tripwire/internal/domain"
	"tripwire/internal/marketdata"
	"tripwire/internal/service"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuoter struct {
	symbol string
	err    error
}

func (s *stubQuoter) Quote(ctx context.Context, symbol string) (*domain.Snapshot, error) {
	s.symbol = symbol
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Snapshot{Symbol: symbol, Price: 187.5, Source: "fmp"}, nil
}

type stubUsage struct{}

func (stubUsage) Status(ctx context.Context) ([]marketdata.ProviderStatus, error) {
	return []marketdata.ProviderStatus{{ID: "fmp", Used: 40, Limit: 250, Remaining: 210, Breaker: "closed"}}, nil
}

type stubRunner struct {
	scope []string
	err   error
}

func (s *stubRunner) Run(ctx context.Context, scope []string) (service.RunSummary, error) {
	s.scope = scope
	return service.RunSummary{RunID: "r1", Processed: 3, Triggered: 1}, s.err
}

func connect(t *testing.T, svc Services) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	server := NewServer("test", svc)
	ss, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return res, text.Text
}

func TestListToolsOnlyRegistersConfiguredServices(t *testing.T) {
	cs := connect(t, Services{Usage: stubUsage{}})

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "provider_usage", res.Tools[0].Name)
}

func TestGetQuoteNormalizesSymbol(t *testing.T) {
	q := &stubQuoter{}
	cs := connect(t, Services{Quotes: q})

	res, text := callText(t, cs, "get_quote", map[string]any{"symbol": " aapl "})
	assert.False(t, res.IsError)
	assert.Equal(t, "AAPL", q.symbol)

	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal([]byte(text), &snap))
	assert.Equal(t, 187.5, snap.Price)
}

func TestGetQuoteErrorIsToolError(t *testing.T) {
	cs := connect(t, Services{Quotes: &stubQuoter{err: &domain.DataUnavailableError{Symbol: "ZZZZ", Need: domain.NeedQuote}}})

	res, text := callText(t, cs, "get_quote", map[string]any{"symbol": "ZZZZ"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "ZZZZ")
}

func TestProviderUsage(t *testing.T) {
	cs := connect(t, Services{Usage: stubUsage{}})

	_, text := callText(t, cs, "provider_usage", map[string]any{})
	var statuses []marketdata.ProviderStatus
	require.NoError(t, json.Unmarshal([]byte(text), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, int64(210), statuses[0].Remaining)
}

func TestCheckAlertsScope(t *testing.T) {
	r := &stubRunner{}
	cs := connect(t, Services{Runner: r})

	_, text := callText(t, cs, "check_alerts", map[string]any{"symbols": []string{"btc", " ", "AAPL"}})
	assert.Equal(t, []string{"BTC", "AAPL"}, r.scope)

	var summary service.RunSummary
	require.NoError(t, json.Unmarshal([]byte(text), &summary))
	assert.Equal(t, 1, summary.Triggered)
}

func TestCheckAlertsInProgress(t *testing.T) {
	cs := connect(t, Services{Runner: &stubRunner{err: service.ErrRunInProgress}})

	res, text := callText(t, cs, "check_alerts", nil)
	assert.False(t, res.IsError)
	assert.Contains(t, text, "already in progress")
}

func TestCheckAlertsFailure(t *testing.T) {
	cs := connect(t, Services{Runner: &stubRunner{err: errors.New("alert store: connection refused")}})

	res, text := callText(t, cs, "check_alerts", nil)
	assert.True(t, res.IsError)
	assert.Contains(t, text, "connection refused")
}
