// Package app wires the alert pipeline from configuration. The HTTP server,
// the scheduler and the one-shot CLI all build the same graph here.
package app

import (
	"context"
	"fmt"
	"time"

	"tripwire/internal/cache"
	"tripwire/internal/config"
	"tripwire/internal/db"
	"tripwire/internal/domain"
	"tripwire/internal/marketdata"
	"tripwire/internal/notify"
	"tripwire/internal/provider"
	"tripwire/internal/repository"
	"tripwire/internal/service"
	"tripwire/internal/usage"
	"tripwire/pkg/logger"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

const maxDBConns = 10

// RedisClient is the union of what the usage tracker, the run lock and the
// in-app channel need from *redis.Client.
type RedisClient interface {
	usage.RedisClient
	service.LockClient
	notify.InAppClient
}

var (
	openPostgresFunc = func(ctx context.Context, dsn string) (repository.PgxPool, func(), error) {
		pool, err := db.InitPostgres(ctx, dsn, maxDBConns)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
	openRedisFunc = func(ctx context.Context, addr string) (RedisClient, func(), error) {
		client, err := cache.InitRedis(ctx, addr)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	}
	connectNATSFunc = func(url string) (notify.Publisher, func(), error) {
		nc, err := notify.ConnectNATS(url)
		if err != nil {
			return nil, nil, err
		}
		return nc, nc.Close, nil
	}
	newTelegramBotFunc = notify.NewTelegramBot
)

// App holds the long-lived components. Close releases connections in
// reverse order of creation.
type App struct {
	Cache    *cache.Cache
	Market   *marketdata.Aggregator
	Alerts   *repository.AlertRepository
	Notifier *notify.Router
	Runner   *service.Runner

	bot     *tele.Bot
	closers []func()
}

func Build(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (*App, error) {
	a := &App{}

	pool, closePool, err := openPostgresFunc(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("alert store: %w", err)
	}
	a.onClose(closePool)

	rdb, closeRedis, err := openRedisFunc(ctx, cfg.RedisURL)
	switch {
	case err != nil && needsRedis(cfg):
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	case err != nil:
		logger.Warn(ctx, "redis unavailable, in-app notifications disabled", zap.Error(err))
		rdb = nil
	default:
		a.onClose(closeRedis)
	}

	var tracker usage.Tracker = usage.NewMemoryTracker()
	if cfg.UsageBackend == config.BackendRedis {
		tracker = usage.NewRedisTracker(rdb)
	}

	a.Cache = cache.New()
	a.Market = marketdata.New(tracer, Providers(tracer, cfg), a.Cache, tracker, MarketOptions(cfg))
	a.Alerts = repository.NewAlertRepository(pool, tracer)
	a.Notifier = a.buildNotifier(ctx, cfg, tracer, rdb)

	processor := service.NewAlertProcessor(tracer, a.Alerts, a.Market, a.Notifier, service.ProcessorConfig{
		ErrorDisableThreshold: cfg.ErrorDisableThreshold,
		MaxErrorDetails:       cfg.MaxErrorDetails,
		RunTimeout:            cfg.RunTimeout,
	})

	var lock service.RunLocker = service.NewLocalLock()
	if cfg.RunLockBackend == config.BackendRedis {
		// outlive the slowest run so a live holder never loses the lock
		lock = service.NewRedisLock(rdb, "", cfg.RunTimeout+time.Minute)
	}
	a.Runner = service.NewRunner(processor, lock)

	logger.Info(ctx, "alert pipeline ready",
		zap.Strings("providers", cfg.ProviderPriority),
		zap.String("usage_backend", cfg.UsageBackend),
		zap.String("run_lock_backend", cfg.RunLockBackend),
		zap.Int("channels", len(a.Notifier.Channels())),
	)
	return a, nil
}

func (a *App) buildNotifier(ctx context.Context, cfg *config.Config, tracer trace.Tracer, rdb RedisClient) *notify.Router {
	router := notify.NewRouter(tracer)

	bot, err := newTelegramBotFunc(cfg.TelegramBotToken)
	switch {
	case err != nil:
		logger.Warn(ctx, "telegram unavailable, push notifications disabled", zap.Error(err))
	case bot != nil:
		a.bot = bot
		router.Register(domain.ChannelPush, notify.NewTelegramSender(bot))
	}

	if rdb != nil {
		router.Register(domain.ChannelInApp, notify.NewInAppSender(rdb))
	}

	if cfg.NATSURL == "" {
		logger.Info(ctx, "NATS_URL not set, email notifications disabled")
		return router
	}
	pub, closeNATS, err := connectNATSFunc(cfg.NATSURL)
	if err != nil {
		logger.Warn(ctx, "nats unavailable, email notifications disabled", zap.Error(err))
		return router
	}
	a.onClose(closeNATS)
	router.Register(domain.ChannelEmail, notify.NewEmailSender(pub, ""))
	return router
}

// StartBot serves the Telegram chat commands until Close.
func (a *App) StartBot() {
	if a.bot == nil {
		return
	}
	notify.StartTelegramCommands(a.bot, a.Quote)
	a.onClose(a.bot.Stop)
}

// Quote reads a live quote, inferring the asset class from the ticker.
func (a *App) Quote(ctx context.Context, symbol string) (*domain.Snapshot, error) {
	snap, _, err := a.Market.Fetch(ctx, symbol, domain.InferAsset(symbol), domain.NeedQuote)
	return snap, err
}

func (a *App) onClose(fn func()) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.UsageBackend == config.BackendRedis || cfg.RunLockBackend == config.BackendRedis
}

// Providers builds the vendors in priority order. Keyed vendors without a
// key are left out.
func Providers(tracer trace.Tracer, cfg *config.Config) []provider.Provider {
	var out []provider.Provider
	for _, id := range cfg.ProviderPriority {
		key := cfg.Providers[id].APIKey
		switch id {
		case provider.FMPID:
			if key == "" {
				logger.Warn(context.Background(), "FMP_API_KEY not set, skipping provider", zap.String("provider", id))
				continue
			}
			out = append(out, provider.NewFMPProvider(tracer, key))
		case provider.AlphaVantageID:
			if key == "" {
				logger.Warn(context.Background(), "ALPHAVANTAGE_API_KEY not set, skipping provider", zap.String("provider", id))
				continue
			}
			out = append(out, provider.NewAlphaVantageProvider(tracer, key))
		case provider.CoinGeckoID:
			out = append(out, provider.NewCoinGeckoProvider(tracer, key))
		default:
			logger.Warn(context.Background(), "unknown provider in PROVIDER_PRIORITY", zap.String("provider", id))
		}
	}
	return out
}

func MarketOptions(cfg *config.Config) marketdata.Options {
	limits := make(map[string]int64, len(cfg.Providers))
	for id, p := range cfg.Providers {
		limits[id] = p.DailyLimit
	}
	return marketdata.Options{
		Limits: limits,
		TTLs: map[domain.DataNeed]time.Duration{
			domain.NeedQuote:     cfg.TTLFor(string(domain.NeedQuote)),
			domain.NeedTechnical: cfg.TTLFor(string(domain.NeedTechnical)),
			domain.NeedEarnings:  cfg.TTLFor(string(domain.NeedEarnings)),
		},
		EarningsHorizon:  cfg.EarningsHorizon,
		ChunkSize:        cfg.ChunkSize,
		ChunkConcurrency: cfg.ChunkConcurrency,
		ChunkDelay:       cfg.ChunkDelay,
	}
}
