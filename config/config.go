package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/d60-Lab/skyframe/internal/feed"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds a whole feed fetch; the engine itself has no timeout.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type SentryConfig struct {
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// SeenStoreConfig selects where seen records live and how they are written.
type SeenStoreConfig struct {
	Backend    string `mapstructure:"backend"` // db | redis
	Async      bool   `mapstructure:"async"`
	QueueSize  int    `mapstructure:"queue_size"`
	Workers    int    `mapstructure:"workers"`
	SweepCron  string `mapstructure:"sweep_cron"`
	SweepBatch int    `mapstructure:"sweep_batch"`
}

type CacheConfig struct {
	UserLRUSize int           `mapstructure:"user_lru_size"`
	UserTTL     time.Duration `mapstructure:"user_ttl"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Feed      feed.Config     `mapstructure:"feed"`
	Seen      SeenStoreConfig `mapstructure:"seen"`
	Cache     CacheConfig     `mapstructure:"cache"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// Load reads config.yaml (optional), a .env file (optional) and SKYFRAME_* env vars.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if p := os.Getenv("SKYFRAME_CONFIG"); p != "" {
		v.SetConfigFile(p)
	}

	v.SetEnvPrefix("SKYFRAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Feed.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "5s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "skyframe.db")
	v.SetDefault("database.max_open_conns", 30)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	def := feed.DefaultConfig()
	v.SetDefault("feed.page_size", def.PageSize)
	v.SetDefault("feed.fresh_days", def.FreshDays)
	v.SetDefault("feed.prioritized_pct", def.PrioritizedPct)
	v.SetDefault("feed.candidate_multiplier", def.CandidateMultiplier)
	v.SetDefault("feed.max_per_uploader", def.MaxPerUploader)
	v.SetDefault("feed.max_consecutive_per_uploader", def.MaxConsecutivePerUploader)
	v.SetDefault("feed.seen_enabled", def.SeenEnabled)
	v.SetDefault("feed.seen_retention_days", def.SeenRetentionDays)
	v.SetDefault("feed.seen_max_ids", def.SeenMaxIDs)
	v.SetDefault("feed.record_seen_on_fallback", def.RecordSeenOnFallback)
	v.SetDefault("feed.inline_purge", def.InlinePurge)
	v.SetDefault("feed.cursor_secret", "")

	v.SetDefault("seen.backend", "db")
	v.SetDefault("seen.async", false)
	v.SetDefault("seen.queue_size", 10000)
	v.SetDefault("seen.workers", 4)
	v.SetDefault("seen.sweep_cron", "@every 1h")
	v.SetDefault("seen.sweep_batch", 500)

	v.SetDefault("cache.user_lru_size", 4096)
	v.SetDefault("cache.user_ttl", "10m")

	v.SetDefault("jwt.issuer", "skyframe")

	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.sample_rate", 1.0)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "skyframe")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }
