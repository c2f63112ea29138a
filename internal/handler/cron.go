package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"tripwire/internal/service"
	"tripwire/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type checkAlertsRequest struct {
	Symbols []string `json:"symbols"`
}

// CheckAlerts runs one alert pass. The scope comes from a JSON body
// {"symbols": [...]} or a comma separated ?symbols= query.
//
// CheckAlerts godoc
// @Summary      Run the alert check
// @Description  Evaluates active alerts against fresh market data and sends notifications for new triggers
// @Tags         cron
// @Accept       json
// @Produce      json
// @Param        symbols  query     string              false  "Comma separated symbols to restrict the run"
// @Param        body     body      checkAlertsRequest  false  "Symbols to restrict the run"
// @Success      200      {object}  map[string]interface{}
// @Failure      400      {object}  map[string]interface{}
// @Failure      401      {object}  map[string]interface{}
// @Failure      409      {object}  map[string]interface{}
// @Failure      500      {object}  map[string]interface{}
// @Security     CronSecret
// @Router       /api/cron/check-alerts [post]
func (h *Handler) CheckAlerts(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.check-alerts")
	defer span.End()

	scope, err := parseScope(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("scope", len(scope)))

	summary, err := h.runner.Run(ctx, scope)
	now := time.Now().UTC()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrRunInProgress) {
			status = http.StatusConflict
		} else {
			logger.Error(ctx, "alert run failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error(), "timestamp": now})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"results":   summary,
		"timestamp": now,
	})
}

func parseScope(c *gin.Context) ([]string, error) {
	if q := c.Query("symbols"); q != "" {
		return strings.Split(q, ","), nil
	}
	if c.Request.Method != http.MethodPost || c.Request.Body == nil {
		return nil, nil
	}
	var req checkAlertsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return req.Symbols, nil
}
