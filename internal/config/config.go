package config

import (
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProviderConfig holds per-vendor credentials and the daily quota. A limit
// of zero means the provider is not metered.
type ProviderConfig struct {
	APIKey     string
	DailyLimit int64
}

type Config struct {
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	TelegramBotToken string

	ProviderPriority []string
	Providers        map[string]ProviderConfig

	CacheTTLQuote     time.Duration
	CacheTTLTechnical time.Duration
	CacheTTLEarnings  time.Duration
	EarningsHorizon   time.Duration

	ChunkSize        int
	ChunkConcurrency int
	ChunkDelay       time.Duration

	ErrorDisableThreshold int
	MaxErrorDetails       int

	CronSecret  string
	RequireAuth bool
	RunTimeout  time.Duration
	// AlertPollSecs > 0 enables the in-process scheduler.
	AlertPollSecs int

	UsageBackend   string
	RunLockBackend string

	SSHAddr        string
	SSHHostKeyPath string
	// SSHAuthorizedKeys holds SHA256 key fingerprints allowed into the console.
	SSHAuthorizedKeys []string
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var defaultPriority = []string{"fmp", "alphavantage", "coingecko"}

var defaultLimits = map[string]int64{
	"fmp":          250,
	"alphavantage": 25,
	"coingecko":    10000,
}

// Load resolves configuration from the environment and, when CONFIG_FILE
// names one, a YAML file whose keys match the environment variable names.
// Invalid or non-positive numbers fall back to their defaults.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				log.Printf("Warning: config file %s not found, using environment only", file)
			} else {
				log.Printf("Warning: read config file %s: %v", file, err)
			}
		}
	}

	cfg := &Config{
		HTTPAddr:         str(v, "HTTP_ADDR", ":8080"),
		LogLevel:         str(v, "LOG_LEVEL", "info"),
		DatabaseURL:      str(v, "DATABASE_URL", ""),
		RedisURL:         str(v, "REDIS_URL", ""),
		NATSURL:          str(v, "NATS_URL", ""),
		TelegramBotToken: str(v, "TELEGRAM_BOT_TOKEN", ""),
		CronSecret:       str(v, "CRON_SECRET", ""),
	}

	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set")
	}
	if cfg.RedisURL == "" {
		log.Println("Warning: REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	cfg.ProviderPriority = list(v, "PROVIDER_PRIORITY", defaultPriority)
	cfg.Providers = make(map[string]ProviderConfig, len(cfg.ProviderPriority))
	for _, id := range cfg.ProviderPriority {
		prefix := strings.ToUpper(id)
		cfg.Providers[id] = ProviderConfig{
			APIKey:     str(v, prefix+"_API_KEY", ""),
			DailyLimit: int64(nonNegativeInt(v, prefix+"_DAILY_LIMIT", int(defaultLimits[id]))),
		}
	}

	cfg.CacheTTLQuote = seconds(v, "CACHE_TTL_QUOTE_SECS", 60)
	cfg.CacheTTLTechnical = seconds(v, "CACHE_TTL_TECHNICAL_SECS", 900)
	cfg.CacheTTLEarnings = seconds(v, "CACHE_TTL_EARNINGS_SECS", 43200)
	cfg.EarningsHorizon = time.Duration(positiveInt(v, "EARNINGS_HORIZON_DAYS", 30)) * 24 * time.Hour

	cfg.ChunkSize = positiveInt(v, "CHUNK_SIZE", 10)
	cfg.ChunkConcurrency = positiveInt(v, "CHUNK_CONCURRENCY", 5)
	cfg.ChunkDelay = time.Duration(nonNegativeInt(v, "CHUNK_DELAY_MS", 1000)) * time.Millisecond

	cfg.ErrorDisableThreshold = positiveInt(v, "ERROR_DISABLE_THRESHOLD", 3)
	cfg.MaxErrorDetails = positiveInt(v, "MAX_ERROR_DETAILS", 50)

	cfg.RequireAuth = boolean(v, "REQUIRE_AUTH", true)
	if cfg.RequireAuth && cfg.CronSecret == "" {
		log.Println("Warning: REQUIRE_AUTH is on but CRON_SECRET is empty, cron endpoint will reject every call")
	}
	cfg.RunTimeout = seconds(v, "RUN_TIMEOUT_SECS", 120)
	cfg.AlertPollSecs = nonNegativeInt(v, "ALERT_POLL_SECS", 0)

	cfg.UsageBackend = backend(v, "USAGE_BACKEND")
	cfg.RunLockBackend = backend(v, "RUN_LOCK_BACKEND")

	cfg.SSHAddr = str(v, "SSH_ADDR", ":2222")
	cfg.SSHHostKeyPath = str(v, "SSH_HOST_KEY_PATH", ".ssh/tripwire_ed25519")
	cfg.SSHAuthorizedKeys = fields(v, "SSH_AUTHORIZED_KEYS")

	return cfg
}

// TTLFor returns the cache TTL of a data need name.
func (c *Config) TTLFor(need string) time.Duration {
	switch need {
	case "quote":
		return c.CacheTTLQuote
	case "technical":
		return c.CacheTTLTechnical
	default:
		return c.CacheTTLEarnings
	}
}

func str(v *viper.Viper, key, def string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return def
}

func list(v *viper.Viper, key string, def []string) []string {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return append([]string(nil), def...)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

// fields splits a comma separated value without changing case.
func fields(v *viper.Viper, key string) []string {
	var out []string
	for _, part := range strings.Split(v.GetString(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func positiveInt(v *viper.Viper, key string, def int) int {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func nonNegativeInt(v *viper.Viper, key string, def int) int {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func seconds(v *viper.Viper, key string, def int) time.Duration {
	return time.Duration(positiveInt(v, key, def)) * time.Second
}

func boolean(v *viper.Viper, key string, def bool) bool {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, defaulting to %t", key, s, def)
		return def
	}
	return b
}

func backend(v *viper.Viper, key string) string {
	switch b := strings.ToLower(str(v, key, BackendMemory)); b {
	case BackendMemory, BackendRedis:
		return b
	default:
		log.Printf("Warning: unsupported %s=%q, defaulting to %s", key, b, BackendMemory)
		return BackendMemory
	}
}
