package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tripwire/internal/app"
	"tripwire/internal/config"
	"tripwire/internal/handler"
	"tripwire/internal/job"
	"tripwire/internal/metrics"
	"tripwire/pkg/logger"
	"tripwire/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "tripwire/docs"
)

const serviceName = "tripwire"

// set with -ldflags "-X main.version=..."
var version = "dev"

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	initTracerFunc         = tracing.InitTracer
	buildAppFunc           = app.Build
	startBotFunc           = func(a *app.App) { a.StartBot() }
	startPollerFunc        = func(p *job.AlertPoller, ctx context.Context) { go p.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Tripwire API
// @version         1.0
// @description     Price and indicator alerts evaluated against quota-aware market data providers.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  CronSecret
// @in                          header
// @name                        X-Cron-Secret
func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()
	logger.Init(serviceName, cfg.LogLevel)
	defer logger.Sync()
	metrics.MustRegister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, serviceName, version)
	if err != nil {
		logger.Fatal(ctx, "failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Error(ctx, "error shutting down tracer provider", zap.Error(err))
		}
	}()

	a, err := buildAppFunc(ctx, cfg, tracer)
	if err != nil {
		logger.Fatal(ctx, "failed to build alert pipeline", zap.Error(err))
	}
	defer a.Close()

	startBotFunc(a)

	// in-process schedule; external cron hits /api/cron/check-alerts instead
	if cfg.AlertPollSecs > 0 {
		poller := job.NewAlertPoller(tracer, a.Runner, a.Market, cfg.AlertPollSecs)
		startPollerFunc(poller, ctx)
	}

	h := handler.New(tracer, a.Runner, a.Market, a.Cache)
	if a.Alerts != nil {
		h.WithEvents(a.Alerts)
	}

	r := newRouterFunc()
	r.Use(otelgin.Middleware(serviceName))
	h.RegisterRoutes(r, handler.CronAuth(cfg.CronSecret, cfg.RequireAuth))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(ctx, "listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info(ctx, "shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		logger.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	logger.Info(ctx, "server exiting")
}
