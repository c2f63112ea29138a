// Command mcp serves the alert pipeline as MCP tools over stdio.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"tripwire/internal/app"
	"tripwire/internal/config"
	"tripwire/internal/mcptools"
	"tripwire/pkg/logger"
	"tripwire/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const serviceName = "tripwire-mcp"

var version = "dev"

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	initTracerFunc = tracing.InitTracer
	buildAppFunc   = app.Build
	runServerFunc  = func(ctx context.Context, server *mcp.Server) error {
		return server.Run(ctx, &mcp.StdioTransport{})
	}
	exitFunc = os.Exit
)

func main() {
	exitFunc(run(os.Stderr))
}

// run keeps stdout free for the protocol; logs go to stderr.
func run(stderr io.Writer) int {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()
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

	a, err := buildAppFunc(ctx, cfg, tracer)
	if err != nil {
		logger.Error(ctx, "failed to build alert pipeline", zap.Error(err))
		return 1
	}
	defer a.Close()

	server := mcptools.NewServer(version, mcptools.Services{Quotes: a, Usage: a.Market, Runner: a.Runner})
	logger.Info(ctx, "MCP server ready on stdio")
	if err := runServerFunc(ctx, server); err != nil && ctx.Err() == nil {
		logger.Error(ctx, "MCP server stopped", zap.Error(err))
		return 1
	}
	return 0
}
