package main

import (
	"context"
	"errors"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"tripwire/internal/app"
	"tripwire/internal/config"
	"tripwire/internal/console"
	"tripwire/pkg/logger"
	"tripwire/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
)

const serviceName = "tripwire-console"

var version = "dev"

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	initTracerFunc    = tracing.InitTracer
	buildAppFunc      = app.Build
	newWishServerFunc = wish.NewServer
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
)

func main() {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()
	logger.Init(serviceName, cfg.LogLevel)
	defer logger.Sync()

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

	if len(cfg.SSHAuthorizedKeys) == 0 {
		logger.Warn(ctx, "SSH_AUTHORIZED_KEYS is empty, every login will be rejected")
	}

	srv, err := newWishServerFunc(
		wish.WithAddress(cfg.SSHAddr),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(publicKeyAuth(console.FingerprintAllowList(cfg.SSHAuthorizedKeys))),
		wish.WithMiddleware(
			bubbletea.Middleware(sessionHandler(a)),
			logging.Middleware(),
		),
	)
	if err != nil {
		logger.Fatal(ctx, "failed to create SSH server", zap.Error(err))
	}

	if srv != nil {
		go func() {
			logger.Info(ctx, "SSH console listening", zap.String("addr", cfg.SSHAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
				logger.Error(ctx, "SSH server stopped", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	logger.Info(ctx, "shutting down SSH console")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "SSH server shutdown error", zap.Error(err))
		}
	}
}

func publicKeyAuth(allowed func(fingerprint string) bool) ssh.PublicKeyHandler {
	return func(ctx ssh.Context, key ssh.PublicKey) bool {
		fingerprint := gossh.FingerprintSHA256(key)
		ok := allowed(fingerprint)
		logger.Info(context.Background(), "SSH auth",
			zap.String("user", ctx.User()),
			zap.String("fingerprint", fingerprint),
			zap.Bool("accepted", ok),
		)
		return ok
	}
}

func sessionHandler(a *app.App) func(ssh.Session) (tea.Model, []tea.ProgramOption) {
	return func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
		model := console.NewModel(console.Services{
			Usage:    a.Market,
			Runner:   a.Runner,
			Username: s.User(),
		})
		pty, _, _ := s.Pty()
		model.SetSize(pty.Window.Width, pty.Window.Height)
		return model, []tea.ProgramOption{tea.WithAltScreen()}
	}
}
