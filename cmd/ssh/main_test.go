package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"tripwire/internal/app"
	"tripwire/internal/config"
	"tripwire/internal/console"

	"github.com/charmbracelet/ssh"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	gossh "golang.org/x/crypto/ssh"
)

func TestMainBootstrap(t *testing.T) {
	restore := stubSSHDeps()
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

// authContext satisfies ssh.Context for the auth callback.
type authContext struct {
	ssh.Context
}

func (authContext) User() string { return "ops" }

func TestPublicKeyAuth(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}
	fingerprint := gossh.FingerprintSHA256(key)

	allow := publicKeyAuth(console.FingerprintAllowList([]string{fingerprint}))
	if !allow(authContext{}, key) {
		t.Fatal("expected listed key to be accepted")
	}

	deny := publicKeyAuth(console.FingerprintAllowList([]string{"SHA256:someoneelse"}))
	if deny(authContext{}, key) {
		t.Fatal("expected unlisted key to be rejected")
	}
}

func stubSSHDeps() func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitTracer := initTracerFunc
	origBuildApp := buildAppFunc
	origNewWishServer := newWishServerFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		return &config.Config{LogLevel: "error", SSHAddr: ":0", SSHHostKeyPath: ".ssh/test_key"}
	}
	initTracerFunc = func(ctx context.Context, name, version string) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	buildAppFunc = func(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*app.App, error) {
		return &app.App{}, nil
	}
	newWishServerFunc = func(ops ...ssh.Option) (*ssh.Server, error) {
		return nil, nil
	}
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initTracerFunc = origInitTracer
		buildAppFunc = origBuildApp
		newWishServerFunc = origNewWishServer
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
	}
}
