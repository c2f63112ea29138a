package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tripwire/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNoData = errors.New("no data returned")

// restClient is the HTTP plumbing shared by every vendor.
type restClient struct {
	provider string
	client   *http.Client
	tracer   trace.Tracer
	limiter  *Pacer
	headers  map[string]string
}

func newRESTClient(provider string, tracer trace.Tracer, limiter *Pacer) *restClient {
	return &restClient{
		provider: provider,
		client:   &http.Client{Timeout: 30 * time.Second},
		tracer:   tracer,
		limiter:  limiter,
		headers:  map[string]string{},
	}
}

// getJSON performs a paced GET and decodes the body into out. Every failure
// comes back as a *domain.ProviderError.
func (r *restClient) getJSON(ctx context.Context, op, url string, out any) error {
	ctx, span := r.tracer.Start(ctx, r.provider+"."+op)
	defer span.End()

	err := r.do(ctx, op, url, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *restClient) do(ctx context.Context, op, url string, out any) error {
	fail := func(status int, err error) error {
		return &domain.ProviderError{Provider: r.provider, Op: op, StatusCode: status, Err: err}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return fail(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(resp.StatusCode, fmt.Errorf("%s API error: %s", r.provider, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode %s response: %w", op, err))
	}
	return nil
}
