package handler

import (
	"context"

	"tripwire/internal/cache"
	"tripwire/internal/domain"
	"tripwire/internal/marketdata"
	"tripwire/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// AlertRunner runs one guarded alert pass.
type AlertRunner interface {
	Run(ctx context.Context, scope []string) (service.RunSummary, error)
}

// MarketView is the read side of the aggregator.
type MarketView interface {
	Fetch(ctx context.Context, symbol string, asset domain.AssetType, need domain.DataNeed) (*domain.Snapshot, string, error)
	Status(ctx context.Context) ([]marketdata.ProviderStatus, error)
	InvalidateSymbol(symbol string) int
}

type CacheStats interface {
	Stats() cache.Stats
}

type Handler struct {
	tracer trace.Tracer
	runner AlertRunner
	market MarketView
	cache  CacheStats
	events EventSource
}

func New(tracer trace.Tracer, runner AlertRunner, market MarketView, cacheStats CacheStats) *Handler {
	return &Handler{
		tracer: tracer,
		runner: runner,
		market: market,
		cache:  cacheStats,
	}
}

// RegisterRoutes mounts every endpoint. cronAuth guards the routes that
// trigger work or mutate state.
func (h *Handler) RegisterRoutes(r *gin.Engine, cronAuth gin.HandlerFunc) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	cron := r.Group("/api/cron", cronAuth)
	cron.POST("/check-alerts", h.CheckAlerts)
	cron.GET("/check-alerts", h.CheckAlerts)

	r.GET("/api/quotes/:symbol", h.GetQuote)
	r.GET("/api/providers/usage", h.ProviderUsage)
	r.DELETE("/api/cache/:symbol", cronAuth, h.InvalidateSymbol)
	if h.events != nil {
		r.GET("/api/alerts/:id/events", cronAuth, h.AlertEvents)
	}
}
