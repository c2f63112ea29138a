package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tripwire/internal/config"
	"tripwire/internal/domain"
	"tripwire/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type stubRunner struct {
	summary service.RunSummary
	err     error
	scope   []string
}

func (s *stubRunner) Run(ctx context.Context, scope []string) (service.RunSummary, error) {
	s.scope = scope
	return s.summary, s.err
}

func stubDeps(t *testing.T, r runner, buildErr error) *bool {
	t.Helper()
	origEnv, origCfg, origTracer, origBuild := loadEnvFunc, loadConfigFunc, initTracerFunc, buildRunner
	t.Cleanup(func() {
		loadEnvFunc, loadConfigFunc, initTracerFunc, buildRunner = origEnv, origCfg, origTracer, origBuild
	})

	closed := false
	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config { return &config.Config{LogLevel: "error"} }
	initTracerFunc = func(ctx context.Context, name, version string) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	buildRunner = func(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (runner, func(), error) {
		if buildErr != nil {
			return nil, nil, buildErr
		}
		return r, func() { closed = true }, nil
	}
	return &closed
}

func TestRunPrintsSummary(t *testing.T) {
	r := &stubRunner{summary: service.RunSummary{RunID: "run-1", Processed: 28, Errors: 2}}
	closed := stubDeps(t, r, nil)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-symbols", "aapl, msft,,"}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.True(t, *closed)
	assert.Equal(t, []string{"aapl", "msft"}, r.scope)

	var got service.RunSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	assert.Equal(t, 28, got.Processed)
	assert.Equal(t, 2, got.Errors)
}

func TestRunFatalFailureExitsOne(t *testing.T) {
	r := &stubRunner{err: &domain.StoreUnavailableError{Op: "get active alerts", Err: errors.New("refused")}}
	stubDeps(t, r, nil)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(nil, &stdout, &stderr))
	assert.Empty(t, stdout.String())
}

func TestRunBuildFailureExitsOne(t *testing.T) {
	stubDeps(t, nil, errors.New("alert store: DATABASE_URL is required"))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(nil, &stdout, &stderr))
}

func TestRunInProgressIsNotAFailure(t *testing.T) {
	stubDeps(t, &stubRunner{err: service.ErrRunInProgress}, nil)

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(nil, &stdout, &stderr))
}

func TestRunBadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run([]string{"-nope"}, &stdout, &stderr))
}

func TestSplitSymbols(t *testing.T) {
	assert.Nil(t, splitSymbols(""))
	assert.Equal(t, []string{"BTC"}, splitSymbols(" BTC ,"))
}
