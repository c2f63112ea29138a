package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"strconv"

	"tripwire/internal/config"
	"tripwire/internal/db"
	"tripwire/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	cmdUp      = "up"
	cmdDown    = "down"
	cmdVersion = "version"
	cmdStatus  = "status"

	usage = "usage: migrate [up|down [steps]|version|status]"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var errUsage = errors.New(usage)

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	openDBFunc     = func(ctx context.Context, dsn string) (migrationDB, func(), error) {
		pool, err := db.InitPostgres(ctx, dsn, 2)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
	exitFunc = os.Exit
)

func main() {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()
	logger.Init("tripwire-migrate", cfg.LogLevel)
	defer logger.Sync()

	ctx := context.Background()
	if err := run(ctx, cfg.DatabaseURL, os.Args[1:]); err != nil {
		logger.Error(ctx, "migrate failed", zap.Error(err))
		logger.Sync()
		exitFunc(1)
	}
}

func run(ctx context.Context, dsn string, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	steps := 1
	switch args[0] {
	case cmdUp, cmdVersion, cmdStatus:
	case cmdDown:
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid down steps %q", args[1])
			}
			steps = n
		}
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}

	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	conn, closeDB, err := openDBFunc(ctx, dsn)
	if err != nil {
		return err
	}
	defer closeDB()

	m := NewMigrator(conn, migrations)
	if err := m.EnsureTable(ctx); err != nil {
		return err
	}

	switch args[0] {
	case cmdUp:
		n, err := m.Up(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations up (%d applied): %w", n, err)
		}
		logger.Info(ctx, "migrations up complete", zap.Int("applied", n))
	case cmdDown:
		n, err := m.Down(ctx, steps)
		if err != nil {
			return fmt.Errorf("apply migrations down (%d rolled back): %w", n, err)
		}
		logger.Info(ctx, "migrations down complete", zap.Int("rolled_back", n))
	case cmdVersion:
		version, name, err := m.Version(ctx)
		if err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if version == 0 {
			logger.Info(ctx, "no migrations applied")
			return nil
		}
		logger.Info(ctx, "current version", zap.Int64("version", version), zap.String("name", name))
	case cmdStatus:
		pending, err := m.Pending(ctx)
		if err != nil {
			return err
		}
		names := make([]string, len(pending))
		for i, p := range pending {
			names[i] = fmt.Sprintf("%06d_%s", p.Version, p.Name)
		}
		logger.Info(ctx, "migration status", zap.Int("known", len(migrations)), zap.Strings("pending", names))
	}
	return nil
}
