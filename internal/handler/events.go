package handler

import (
	"context"
	"net/http"
	"strconv"

	"tripwire/internal/repository"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 200
)

// EventSource reads recorded triggers.
type EventSource interface {
	RecentEvents(ctx context.Context, alertID int64, limit int) ([]repository.AlertEvent, error)
}

// WithEvents enables the trigger history endpoint.
func (h *Handler) WithEvents(src EventSource) *Handler {
	h.events = src
	return h
}

// AlertEvents godoc
// @Summary      Alert trigger history
// @Description  Recorded triggers of one alert, newest first
// @Tags         alerts
// @Produce      json
// @Param        id     path      int  true   "Alert ID"
// @Param        limit  query     int  false  "Maximum events (1-200)"  default(20)
// @Success      200    {object}  map[string]interface{}
// @Failure      400    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Security     CronSecret
// @Router       /api/alerts/{id}/events [get]
func (h *Handler) AlertEvents(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.alert-events")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	limit := defaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	span.SetAttributes(attribute.Int64("alert_id", id), attribute.Int("limit", limit))

	events, err := h.events.RecentEvents(ctx, id, limit)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load alert events"})
		return
	}
	if events == nil {
		events = []repository.AlertEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"alertId": id, "events": events})
}
