// Command checkalerts runs one alert pass and prints the run summary as JSON.
// It exits non-zero when the run fails before it can produce a summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tripwire/internal/app"
	"tripwire/internal/config"
	"tripwire/internal/service"
	"tripwire/pkg/logger"
	"tripwire/pkg/tracing"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const serviceName = "tripwire-checkalerts"

var version = "dev"

type runner interface {
	Run(ctx context.Context, scope []string) (service.RunSummary, error)
}

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	initTracerFunc = tracing.InitTracer
	buildRunner    = func(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (runner, func(), error) {
		a, err := app.Build(ctx, cfg, tracer)
		if err != nil {
			return nil, nil, err
		}
		return a.Runner, a.Close, nil
	}
	exitFunc = os.Exit
)

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("checkalerts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	symbols := fs.String("symbols", "", "comma-separated symbols to check (default: all)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	_ = loadEnvFunc()
	cfg := loadConfigFunc()
	// stdout carries the summary
	logger.InitWriter(serviceName, cfg.LogLevel, stderr)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := initTracerFunc(ctx, serviceName, version)
	if err != nil {
		logger.Error(ctx, "failed to initialize tracer", zap.Error(err))
		return 1
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	r, closeApp, err := buildRunner(ctx, cfg, tracer)
	if err != nil {
		logger.Error(ctx, "failed to build alert pipeline", zap.Error(err))
		return 1
	}
	defer closeApp()

	summary, err := r.Run(ctx, splitSymbols(*symbols))
	if errors.Is(err, service.ErrRunInProgress) {
		logger.Warn(ctx, "another run is in progress, nothing to do")
		return 0
	}
	if err != nil {
		logger.Error(ctx, "alert run failed", zap.Error(err))
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(stderr, "encode summary: %v\n", err)
		return 1
	}
	return 0
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
