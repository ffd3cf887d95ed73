// Package config defines the top-level configuration for vaultbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTBOT_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Oracle   OracleConfig   `toml:"oracle"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Matching MatchingConfig `toml:"matching"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	// Storage selects the ledger backend: "memory" or "postgres".
	Storage string `toml:"storage"`
}

// EngineConfig holds the position engine constants. Changing them changes
// payouts.
type EngineConfig struct {
	FeedID               string   `toml:"feed_id"`
	MaxPriceAge          duration `toml:"max_price_age"`
	TradingFeeBps        uint64   `toml:"trading_fee_bps"`
	ClosingFeeBps        uint64   `toml:"closing_fee_bps"`
	MinPositionSize      uint64   `toml:"min_position_size"`
	MinLeverage          uint64   `toml:"min_leverage"`
	MaxLeverage          uint64   `toml:"max_leverage"`
	HealthyThreshold     uint64   `toml:"healthy_threshold"`
	WarningThreshold     uint64   `toml:"warning_threshold"`
	LiquidationThreshold uint64   `toml:"liquidation_threshold"`
	BaseRewardRateBps    uint64   `toml:"base_reward_rate_bps"`
}

// OracleConfig selects and tunes the price source.
type OracleConfig struct {
	// Source is "hermes" or "static". Static serves StaticPrice and exists for
	// local runs.
	Source          string   `toml:"source"`
	HermesURL       string   `toml:"hermes_url"`
	StreamURL       string   `toml:"stream_url"`
	StreamEnabled   bool     `toml:"stream_enabled"`
	Timeout         duration `toml:"timeout"`
	RequestsPerSec  float64  `toml:"requests_per_sec"`
	Burst           int      `toml:"burst"`
	BreakerRatio    float64  `toml:"breaker_failure_ratio"`
	BreakerMinReqs  uint32   `toml:"breaker_min_requests"`
	BreakerInterval duration `toml:"breaker_interval"`
	BreakerTimeout  duration `toml:"breaker_open_timeout"`
	StaticPrice     int64    `toml:"static_price"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr runs without
// Redis: in-process price cache and rate limiter, no bus and no sweep lock.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig schedules the cold-storage export.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// MonitorConfig tunes the background position sweep.
type MonitorConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	Concurrency   int      `toml:"concurrency"`
	LockTTL       duration `toml:"lock_ttl"`
	CloseExpired  bool     `toml:"close_expired"`
	AutoLiquidate bool     `toml:"auto_liquidate"`
}

// MatchingConfig tunes the order matcher that pairs long and short orders
// into positions.
type MatchingConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// MinTradeSize is the smallest fill, in size units, worth opening.
	MinTradeSize uint64   `toml:"min_trade_size"`
	PositionTTL  duration `toml:"position_ttl"`
	LockTTL      duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	PerMinute         int      `toml:"per_minute"`
}

// LogConfig adds an optional rotating log file next to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			FeedID:               "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
			MaxPriceAge:          duration{60 * time.Second},
			TradingFeeBps:        10,
			ClosingFeeBps:        5,
			MinPositionSize:      1000,
			MinLeverage:          1,
			MaxLeverage:          100,
			HealthyThreshold:     150,
			WarningThreshold:     120,
			LiquidationThreshold: 110,
			BaseRewardRateBps:    10,
		},
		Oracle: OracleConfig{
			Source:          "hermes",
			HermesURL:       "https://hermes.pyth.network",
			StreamURL:       "wss://hermes.pyth.network/ws",
			StreamEnabled:   true,
			Timeout:         duration{5 * time.Second},
			RequestsPerSec:  5,
			Burst:           5,
			BreakerRatio:    0.6,
			BreakerMinReqs:  5,
			BreakerInterval: duration{time.Minute},
			BreakerTimeout:  duration{30 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			PriceTTL:     duration{5 * time.Minute},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
		},
		Monitor: MonitorConfig{
			Enabled:       true,
			Interval:      duration{15 * time.Second},
			Concurrency:   8,
			LockTTL:       duration{15 * time.Second},
			CloseExpired:  true,
			AutoLiquidate: false,
		},
		Matching: MatchingConfig{
			Enabled:      false,
			Interval:     duration{6 * time.Second},
			MinTradeSize: 2000,
			PositionTTL:  duration{24 * time.Hour},
			LockTTL:      duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       20,
			RateWindow:      duration{time.Second},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events:    []string{"liquidation_risk", "position_liquidated", "position_closed", "error"},
			PerMinute: 20,
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Mode:     "full",
		LogLevel: "info",
		Storage:  "postgres",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":     true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsRedis reports whether Redis is configured.
func (c *Config) NeedsRedis() bool { return strings.TrimSpace(c.Redis.Addr) != "" }

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	e := c.Engine
	if strings.TrimSpace(e.FeedID) == "" {
		errs = append(errs, "engine: feed_id must not be empty")
	}
	if e.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "engine: max_price_age must be positive")
	}
	if e.MinLeverage == 0 || e.MinLeverage > e.MaxLeverage {
		errs = append(errs, fmt.Sprintf("engine: leverage range [%d,%d] is invalid", e.MinLeverage, e.MaxLeverage))
	}
	if e.WarningThreshold > e.HealthyThreshold {
		errs = append(errs, "engine: warning_threshold must not exceed healthy_threshold")
	}
	if e.TradingFeeBps > 10_000 || e.ClosingFeeBps > 10_000 {
		errs = append(errs, "engine: fees must not exceed 10000 bps")
	}
	if e.MinPositionSize == 0 {
		errs = append(errs, "engine: min_position_size must be positive")
	}

	// Oracle
	switch c.Oracle.Source {
	case "hermes":
		if c.Oracle.HermesURL == "" {
			errs = append(errs, "oracle: hermes_url must not be empty")
		}
		if c.Oracle.StreamEnabled && c.Oracle.StreamURL == "" {
			errs = append(errs, "oracle: stream_url must not be empty when stream_enabled")
		}
	case "static":
		if c.Oracle.StaticPrice <= 0 {
			errs = append(errs, "oracle: static_price must be positive for the static source")
		}
	default:
		errs = append(errs, fmt.Sprintf("oracle: unknown source %q (valid: hermes, static)", c.Oracle.Source))
	}

	// Storage
	switch c.Storage {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: memory, postgres)", c.Storage))
	}

	// Redis
	if c.NeedsRedis() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Monitor
	if c.Monitor.Enabled {
		if c.Monitor.Interval.Duration <= 0 {
			errs = append(errs, "monitor: interval must be positive")
		}
		if c.Monitor.Concurrency < 1 {
			errs = append(errs, "monitor: concurrency must be >= 1")
		}
	}

	// Matching
	if c.Matching.Enabled {
		if c.Matching.Interval.Duration <= 0 {
			errs = append(errs, "matching: interval must be positive")
		}
		if c.Matching.PositionTTL.Duration <= 0 {
			errs = append(errs, "matching: position_ttl must be positive")
		}
		if c.Matching.MinTradeSize < e.MinPositionSize {
			errs = append(errs, fmt.Sprintf("matching: min_trade_size %d is below engine.min_position_size %d",
				c.Matching.MinTradeSize, e.MinPositionSize))
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
