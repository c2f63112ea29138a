package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"tripwire/internal/app"
	"tripwire/internal/config"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func stubMCPDeps(t *testing.T, buildErr, serveErr error) *bool {
	t.Helper()
	origLoadEnv, origLoadConfig := loadEnvFunc, loadConfigFunc
	origInitTracer, origBuildApp, origRunServer := initTracerFunc, buildAppFunc, runServerFunc
	t.Cleanup(func() {
		loadEnvFunc, loadConfigFunc = origLoadEnv, origLoadConfig
		initTracerFunc, buildAppFunc, runServerFunc = origInitTracer, origBuildApp, origRunServer
	})

	served := false
	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config { return &config.Config{LogLevel: "info"} }
	initTracerFunc = func(ctx context.Context, name, version string) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	buildAppFunc = func(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*app.App, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		return &app.App{}, nil
	}
	runServerFunc = func(ctx context.Context, server *mcp.Server) error {
		served = server != nil
		return serveErr
	}
	return &served
}

func TestRunServesOverStdio(t *testing.T) {
	served := stubMCPDeps(t, nil, nil)
	var stderr bytes.Buffer

	assert.Equal(t, 0, run(&stderr))
	assert.True(t, *served)
	assert.Contains(t, stderr.String(), "MCP server ready")
}

func TestRunBuildFailure(t *testing.T) {
	served := stubMCPDeps(t, errors.New("alert store: dial tcp: connection refused"), nil)
	var stderr bytes.Buffer

	assert.Equal(t, 1, run(&stderr))
	assert.False(t, *served)
	assert.Contains(t, stderr.String(), "connection refused")
}

func TestRunServerError(t *testing.T) {
	stubMCPDeps(t, nil, errors.New("broken pipe"))
	assert.Equal(t, 1, run(&bytes.Buffer{}))
}
