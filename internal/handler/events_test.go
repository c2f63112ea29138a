package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tripwire/internal/domain"
	"tripwire/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEvents struct {
	id    int64
	limit int
	err   error
}

func (s *stubEvents) RecentEvents(ctx context.Context, alertID int64, limit int) ([]repository.AlertEvent, error) {
	s.id, s.limit = alertID, limit
	if s.err != nil {
		return nil, s.err
	}
	return []repository.AlertEvent{{
		AlertID:     alertID,
		Symbol:      "BTC",
		AlertType:   domain.AlertRSIOverbought,
		Value:       74.2,
		Source:      "coingecko",
		TriggeredAt: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}}, nil
}

func newEventsRouter(src EventSource) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(testTracer, &stubRunner{}, &stubMarket{}, nil)
	if src != nil {
		h.WithEvents(src)
	}
	h.RegisterRoutes(r, CronAuth("", false))
	return r
}

func getEvents(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestAlertEvents(t *testing.T) {
	src := &stubEvents{}
	w := getEvents(newEventsRouter(src), "/api/alerts/42/events?limit=5")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(42), src.id)
	assert.Equal(t, 5, src.limit)

	var body struct {
		AlertID int64                   `json:"alertId"`
		Events  []repository.AlertEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "coingecko", body.Events[0].Source)
}

func TestAlertEventsDefaultsLimit(t *testing.T) {
	src := &stubEvents{}
	w := getEvents(newEventsRouter(src), "/api/alerts/7/events")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultEventLimit, src.limit)
}

func TestAlertEventsBadInput(t *testing.T) {
	r := newEventsRouter(&stubEvents{})
	for _, path := range []string{"/api/alerts/abc/events", "/api/alerts/0/events", "/api/alerts/1/events?limit=500"} {
		assert.Equal(t, http.StatusBadRequest, getEvents(r, path).Code, path)
	}
}

func TestAlertEventsStoreError(t *testing.T) {
	w := getEvents(newEventsRouter(&stubEvents{err: errors.New("conn reset")}), "/api/alerts/1/events")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "conn reset")
}

func TestAlertEventsNotMountedWithoutSource(t *testing.T) {
	w := getEvents(newEventsRouter(nil), "/api/alerts/1/events")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
