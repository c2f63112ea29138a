package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tripwire/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equityRequests(n int, needs ...domain.DataNeed) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{Symbol: fmt.Sprintf("SYM%02d", i), Asset: domain.AssetEquity, Needs: needs}
	}
	return reqs
}

func TestChunkRequests(t *testing.T) {
	chunks := chunkRequests(equityRequests(23), 10)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[2], 3)
	assert.Len(t, chunkRequests(equityRequests(4), 0), 1)
	assert.Empty(t, chunkRequests(nil, 10))
}

func TestFetchBatchIsolatesFailures(t *testing.T) {
	p := newFakeProvider("A")
	p.failSymbols = map[string]bool{"SYM03": true, "SYM17": true}
	p.delay = 2 * time.Millisecond
	agg, _ := newTestAggregator(Options{ChunkSize: 10, ChunkConcurrency: 3}, p)

	var mu sync.Mutex
	var ok, failed []string
	err := agg.FetchBatch(context.Background(), equityRequests(30, domain.NeedQuote), func(ctx context.Context, res Result) error {
		mu.Lock()
		defer mu.Unlock()
		if res.Err != nil {
			var du *domain.DataUnavailableError
			assert.ErrorAs(t, res.Err, &du)
			failed = append(failed, res.Symbol)
			return nil
		}
		assert.Equal(t, res.Symbol, res.Snapshot.Symbol)
		ok = append(ok, res.Symbol)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, ok, 28)
	assert.ElementsMatch(t, []string{"SYM03", "SYM17"}, failed)
	assert.LessOrEqual(t, p.peak.Load(), int32(3), "parallelism is bounded")
}

func TestFetchBatchMergesNeedsOncePerSymbol(t *testing.T) {
	p := newFakeProvider("A")
	agg, _ := newTestAggregator(Options{}, p)

	var got *domain.Snapshot
	err := agg.FetchBatch(context.Background(), []Request{{
		Symbol: "AAPL",
		Asset:  domain.AssetEquity,
		Needs:  []domain.DataNeed{domain.NeedQuote, domain.NeedTechnical, domain.NeedQuote},
	}}, func(ctx context.Context, res Result) error {
		got = res.Snapshot
		return res.Err
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, p.callCount(domain.NeedQuote))
	assert.Equal(t, 1, p.callCount(domain.NeedTechnical))
	assert.Equal(t, 100.0, got.Price, "quote price wins over last close")
	assert.NotNil(t, got.SMA20)
	assert.Equal(t, "A", got.Sources[domain.NeedTechnical])
}

func TestFetchBatchStopsOnCallbackError(t *testing.T) {
	agg, _ := newTestAggregator(Options{ChunkSize: 2, ChunkConcurrency: 1}, newFakeProvider("A"))
	storeDown := errors.New("store down")

	calls := 0
	err := agg.FetchBatch(context.Background(), equityRequests(6, domain.NeedQuote), func(ctx context.Context, res Result) error {
		calls++
		return storeDown
	})
	assert.ErrorIs(t, err, storeDown)
	assert.Equal(t, 1, calls)
}

func TestFetchBatchHonorsDeadlineBetweenChunks(t *testing.T) {
	agg, _ := newTestAggregator(Options{ChunkSize: 1, ChunkDelay: time.Second}, newFakeProvider("A"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	delivered := 0
	start := time.Now()
	err := agg.FetchBatch(ctx, equityRequests(3, domain.NeedQuote), func(ctx context.Context, res Result) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, delivered, "only the first chunk runs before the deadline")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
