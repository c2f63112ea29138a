package handler

import (
	"errors"
	"net/http"
	"strings"

	"tripwire/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetQuote godoc
// @Summary      Market snapshot
// @Description  Merged snapshot read through the cache and provider fallback
// @Tags         market
// @Produce      json
// @Param        symbol  path      string  true   "Ticker symbol"
// @Param        asset   query     string  false  "equity or crypto; inferred when empty"
// @Param        needs   query     string  false  "Comma separated: quote, technical, earnings"  default(quote)
// @Success      200     {object}  domain.Snapshot
// @Failure      400     {object}  map[string]string
// @Failure      502     {object}  map[string]interface{}
// @Router       /api/quotes/{symbol} [get]
func (h *Handler) GetQuote(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-quote")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	asset, err := parseAsset(c.Query("asset"), symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	needs, err := parseNeeds(c.DefaultQuery("needs", string(domain.NeedQuote)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := &domain.Snapshot{Symbol: symbol}
	for _, need := range needs {
		part, _, err := h.market.Fetch(ctx, symbol, asset, need)
		if err != nil {
			var du *domain.DataUnavailableError
			if errors.As(err, &du) {
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "symbol": symbol, "need": need})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		snap.Merge(need, part)
	}
	c.JSON(http.StatusOK, snap)
}

// ProviderUsage godoc
// @Summary      Provider quota usage
// @Description  Today's calls per provider, remaining quota, breaker state and cache stats
// @Tags         market
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/providers/usage [get]
func (h *Handler) ProviderUsage(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.provider-usage")
	defer span.End()

	providers, err := h.market.Status(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{"providers": providers}
	if h.cache != nil {
		body["cache"] = h.cache.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// InvalidateSymbol godoc
// @Summary      Drop cached market data
// @Description  Removes every cached entry for a symbol across providers and needs
// @Tags         market
// @Produce      json
// @Param        symbol  path      string  true  "Ticker symbol"
// @Success      200     {object}  map[string]interface{}
// @Security     CronSecret
// @Router       /api/cache/{symbol} [delete]
func (h *Handler) InvalidateSymbol(c *gin.Context) {
	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	removed := h.market.InvalidateSymbol(symbol)
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "removed": removed})
}

func parseAsset(raw, symbol string) (domain.AssetType, error) {
	switch domain.AssetType(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return domain.InferAsset(symbol), nil
	case domain.AssetEquity:
		return domain.AssetEquity, nil
	case domain.AssetCrypto:
		return domain.AssetCrypto, nil
	default:
		return "", errors.New("unsupported asset: " + raw)
	}
}

func parseNeeds(raw string) ([]domain.DataNeed, error) {
	var needs []domain.DataNeed
	seen := map[domain.DataNeed]bool{}
	for _, part := range strings.Split(raw, ",") {
		need := domain.DataNeed(strings.ToLower(strings.TrimSpace(part)))
		switch need {
		case "":
			continue
		case domain.NeedQuote, domain.NeedTechnical, domain.NeedEarnings:
		default:
			return nil, errors.New("unsupported need: " + string(need))
		}
		if !seen[need] {
			seen[need] = true
			needs = append(needs, need)
		}
	}
	if len(needs) == 0 {
		needs = []domain.DataNeed{domain.NeedQuote}
	}
	return needs, nil
}
