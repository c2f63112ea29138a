package marketdata

import (
	"context"
	"time"

	"tripwire/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Request asks for every need of one symbol.
type Request struct {
	Symbol string
	Asset  domain.AssetType
	Needs  []domain.DataNeed
}

// Result is a merged snapshot for one Request, or the first fetch error.
type Result struct {
	Request
	Snapshot *domain.Snapshot
	Err      error
}

// ResultFunc receives each result as soon as it is ready. It may be called
// concurrently. Returning an error stops the batch.
type ResultFunc func(ctx context.Context, res Result) error

// FetchBatch fetches requests in chunks of ChunkSize with at most
// ChunkConcurrency fetches in flight, pausing ChunkDelay between chunks.
// A failed symbol only affects its own Result. The batch stops early when ctx
// ends (returning ctx.Err()) or when onResult fails (returning that error).
func (a *Aggregator) FetchBatch(ctx context.Context, requests []Request, onResult ResultFunc) error {
	ctx, span := a.tracer.Start(ctx, "marketdata.fetch-batch")
	defer span.End()

	chunks := chunkRequests(requests, a.opts.ChunkSize)
	span.SetAttributes(attribute.Int("symbols", len(requests)), attribute.Int("chunks", len(chunks)))

	for i, chunk := range chunks {
		if i > 0 && a.opts.ChunkDelay > 0 {
			timer := time.NewTimer(a.opts.ChunkDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(a.opts.ChunkConcurrency)
		for _, req := range chunk {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return onResult(gctx, a.fetchAll(gctx, req))
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// fetchAll merges one fetch per distinct need into a single snapshot.
func (a *Aggregator) fetchAll(ctx context.Context, req Request) Result {
	res := Result{Request: req}
	snap := &domain.Snapshot{Symbol: domain.NormalizeSymbol(req.Symbol)}

	seen := make(map[domain.DataNeed]struct{}, len(req.Needs))
	for _, need := range req.Needs {
		if _, ok := seen[need]; ok {
			continue
		}
		seen[need] = struct{}{}

		part, _, err := a.Fetch(ctx, req.Symbol, req.Asset, need)
		if err != nil {
			res.Err = err
			return res
		}
		snap.Merge(need, part)
	}
	res.Snapshot = snap
	return res
}

func chunkRequests(requests []Request, size int) [][]Request {
	if size <= 0 {
		size = len(requests)
	}
	var chunks [][]Request
	for i := 0; i < len(requests); i += size {
		end := min(i+size, len(requests))
		chunks = append(chunks, requests[i:end])
	}
	return chunks
}
