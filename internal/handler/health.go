package handler

import (
	"net/http"

	"tripwire/internal/cache"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status string       `json:"status"`
	Cache  *cache.Stats `json:"cache,omitempty"`
}

// Health godoc
// @Summary      Health check
// @Description  Liveness plus snapshot cache counters. Stores and providers are checked at startup, not here.
// @Tags         health
// @Produce      json
// @Success      200  {object}  handler.healthResponse
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	resp := healthResponse{Status: "healthy"}
	if h.cache != nil {
		stats := h.cache.Stats()
		resp.Cache = &stats
	}
	c.JSON(http.StatusOK, resp)
}
