package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tripwire/internal/marketdata"
	"tripwire/internal/service"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func TestNewAlertPollerInterval(t *testing.T) {
	poller := NewAlertPoller(testTracer, &stubRunner{}, nil, 2)
	if poller.pollInterval != 2*time.Second {
		t.Fatalf("expected 2s interval, got %v", poller.pollInterval)
	}
	if poller.quotaInterval != defaultQuotaInterval {
		t.Fatalf("expected default quota interval, got %v", poller.quotaInterval)
	}
}

func TestAlertPollerStart(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	usage := &stubUsage{}
	poller := NewAlertPoller(testTracer, runner, usage, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go poller.Start(ctx)

	eventually(t, func() bool { return runner.count() > 0 && usage.count() > 0 })
	cancel()
}

func TestRunOnceSkipsOverlappingRun(t *testing.T) {
	poller := NewAlertPoller(testTracer, &stubRunner{err: service.ErrRunInProgress}, nil, 1)
	if err := poller.runOnce(context.Background()); err != nil {
		t.Fatalf("expected overlapping run to be skipped, got %v", err)
	}
}

func TestRunOnceReturnsFatalErrors(t *testing.T) {
	boom := errors.New("store down")
	poller := NewAlertPoller(testTracer, &stubRunner{err: boom}, nil, 1)
	if err := poller.runOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestLowQuota(t *testing.T) {
	statuses := []marketdata.ProviderStatus{
		{ID: "fmp", Limit: 250, Remaining: 200},
		{ID: "alphavantage", Limit: 25, Remaining: 2},
		{ID: "coingecko", Limit: 0, Remaining: -1},
		{ID: "spent", Limit: 100, Remaining: 0},
	}
	got := lowQuota(statuses)
	if len(got) != 2 || got[0].ID != "alphavantage" || got[1].ID != "spent" {
		t.Fatalf("unexpected low quota providers: %+v", got)
	}
}

func TestCheckQuotaPropagatesErrors(t *testing.T) {
	poller := NewAlertPoller(testTracer, &stubRunner{}, &stubUsage{err: errors.New("redis down")}, 1)
	if err := poller.checkQuota(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type stubRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubRunner) Run(ctx context.Context, scope []string) (service.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return service.RunSummary{RunID: "r1"}, s.err
}

func (s *stubRunner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubUsage struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubUsage) Status(ctx context.Context) ([]marketdata.ProviderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return []marketdata.ProviderStatus{{ID: "fmp", Limit: 10, Remaining: 1}}, s.err
}

func (s *stubUsage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
