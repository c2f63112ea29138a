// Package mcptools exposes the alert pipeline as Model Context Protocol
// tools so an assistant can look up quotes, check provider quota and run the
// alert check.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tripwire/internal/domain"
	"tripwire/internal/marketdata"
	"tripwire/internal/service"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type Quoter interface {
	Quote(ctx context.Context, symbol string) (*domain.Snapshot, error)
}

type UsageSource interface {
	Status(ctx context.Context) ([]marketdata.ProviderStatus, error)
}

type AlertRunner interface {
	Run(ctx context.Context, scope []string) (service.RunSummary, error)
}

type Services struct {
	Quotes Quoter
	Usage  UsageSource
	Runner AlertRunner
}

type QuoteInput struct {
	Symbol string `json:"symbol" jsonschema:"ticker or coin symbol, for example AAPL or BTC"`
}

type CheckAlertsInput struct {
	Symbols []string `json:"symbols,omitempty" jsonschema:"limit the run to these symbols, all active alerts when empty"`
}

// NewServer registers every tool whose backing service is set.
func NewServer(version string, svc Services) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "tripwire", Version: version}, nil)

	if svc.Quotes != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "get_quote",
			Description: "Fetch the latest market snapshot for a symbol.",
		}, quoteTool(svc.Quotes))
	}
	if svc.Usage != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "provider_usage",
			Description: "Show today's request count, daily limit and breaker state per market data provider.",
		}, usageTool(svc.Usage))
	}
	if svc.Runner != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "check_alerts",
			Description: "Evaluate active alerts now and send notifications for the ones that trigger.",
		}, checkAlertsTool(svc.Runner))
	}
	return server
}

func quoteTool(q Quoter) mcp.ToolHandlerFor[QuoteInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in QuoteInput) (*mcp.CallToolResult, any, error) {
		symbol := strings.ToUpper(strings.TrimSpace(in.Symbol))
		if symbol == "" {
			return nil, nil, errors.New("symbol is required")
		}
		snap, err := q.Quote(ctx, symbol)
		if err != nil {
			return nil, nil, fmt.Errorf("quote %s: %w", symbol, err)
		}
		return jsonResult(snap)
	}
}

func usageTool(u UsageSource) mcp.ToolHandlerFor[struct{}, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		statuses, err := u.Status(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("provider usage: %w", err)
		}
		return jsonResult(statuses)
	}
}

func checkAlertsTool(r AlertRunner) mcp.ToolHandlerFor[CheckAlertsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in CheckAlertsInput) (*mcp.CallToolResult, any, error) {
		var scope []string
		for _, s := range in.Symbols {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				scope = append(scope, s)
			}
		}
		summary, err := r.Run(ctx, scope)
		if errors.Is(err, service.ErrRunInProgress) {
			return textResult("an alert run is already in progress; try again shortly"), nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("check alerts: %w", err)
		}
		return jsonResult(summary)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(data)), nil, nil
}

func textResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}
}
