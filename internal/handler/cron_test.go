package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tripwire/internal/domain"
	"tripwire/internal/service"

	"github.com/gin-gonic/gin"
)

type stubRunner struct {
	summary service.RunSummary
	err     error
	scope   []string
	calls   int
}

func (s *stubRunner) Run(ctx context.Context, scope []string) (service.RunSummary, error) {
	s.calls++
	s.scope = scope
	return s.summary, s.err
}

func newCronRouter(runner AlertRunner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	New(testTracer, runner, &stubMarket{}, nil).RegisterRoutes(r, CronAuth("s3cret", true))
	return r
}

func doCron(r *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCheckAlertsSuccess(t *testing.T) {
	runner := &stubRunner{summary: service.RunSummary{
		RunID:        "run-1",
		Processed:    28,
		Triggered:    3,
		Errors:       2,
		ErrorDetails: []string{"SYM04: unavailable", "SYM21: unavailable"},
	}}
	r := newCronRouter(runner)

	w := doCron(r, http.MethodPost, "/api/cron/check-alerts", `{"symbols":["aapl","MSFT"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		Success bool `json:"success"`
		Results struct {
			Processed    int      `json:"processed"`
			Triggered    int      `json:"triggered"`
			Errors       int      `json:"errors"`
			ErrorDetails []string `json:"errorDetails"`
		} `json:"results"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Results.Processed != 28 || body.Results.Triggered != 3 || body.Results.Errors != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.Results.ErrorDetails) != 2 || body.Timestamp == "" {
		t.Fatalf("unexpected details: %+v", body)
	}
	if len(runner.scope) != 2 || runner.scope[0] != "aapl" {
		t.Fatalf("scope not forwarded: %v", runner.scope)
	}
}

func TestCheckAlertsScopeSources(t *testing.T) {
	runner := &stubRunner{}
	r := newCronRouter(runner)

	if w := doCron(r, http.MethodGet, "/api/cron/check-alerts?symbols=AAPL,TSLA", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(runner.scope) != 2 || runner.scope[1] != "TSLA" {
		t.Fatalf("expected query scope, got %v", runner.scope)
	}

	if w := doCron(r, http.MethodPost, "/api/cron/check-alerts", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d", w.Code)
	}
	if runner.scope != nil {
		t.Fatalf("expected full run, got %v", runner.scope)
	}
}

func TestCheckAlertsRejectsBadBody(t *testing.T) {
	runner := &stubRunner{}
	w := doCron(newCronRouter(runner), http.MethodPost, "/api/cron/check-alerts", `{"symbols":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if runner.calls != 0 {
		t.Fatal("runner must not be called")
	}
}

func TestCheckAlertsUnauthorized(t *testing.T) {
	runner := &stubRunner{}
	r := newCronRouter(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/cron/check-alerts", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if runner.calls != 0 {
		t.Fatal("runner must not be called")
	}
}

func TestCheckAlertsRunInProgress(t *testing.T) {
	w := doCron(newCronRouter(&stubRunner{err: service.ErrRunInProgress}), http.MethodPost, "/api/cron/check-alerts", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestCheckAlertsStoreUnavailable(t *testing.T) {
	err := &domain.StoreUnavailableError{Op: "get active alerts", Err: errors.New("connection refused")}
	w := doCron(newCronRouter(&stubRunner{err: err}), http.MethodPost, "/api/cron/check-alerts", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"success":false`) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}
