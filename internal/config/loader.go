package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VAULTBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.FeedID, "VAULTBOT_ENGINE_FEED_ID")
	setDuration(&cfg.Engine.MaxPriceAge, "VAULTBOT_ENGINE_MAX_PRICE_AGE")
	setUint64(&cfg.Engine.TradingFeeBps, "VAULTBOT_ENGINE_TRADING_FEE_BPS")
	setUint64(&cfg.Engine.ClosingFeeBps, "VAULTBOT_ENGINE_CLOSING_FEE_BPS")
	setUint64(&cfg.Engine.MaxLeverage, "VAULTBOT_ENGINE_MAX_LEVERAGE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Source, "VAULTBOT_ORACLE_SOURCE")
	setStr(&cfg.Oracle.HermesURL, "VAULTBOT_ORACLE_HERMES_URL")
	setStr(&cfg.Oracle.StreamURL, "VAULTBOT_ORACLE_STREAM_URL")
	setBool(&cfg.Oracle.StreamEnabled, "VAULTBOT_ORACLE_STREAM_ENABLED")
	setInt64(&cfg.Oracle.StaticPrice, "VAULTBOT_ORACLE_STATIC_PRICE")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "DATABASE_URL")
	setStr(&cfg.Supabase.DSN, "VAULTBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "VAULTBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "VAULTBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "VAULTBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "VAULTBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "VAULTBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "VAULTBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "VAULTBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "VAULTBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "VAULTBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAULTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "VAULTBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "VAULTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "VAULTBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "VAULTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "VAULTBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "VAULTBOT_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "VAULTBOT_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "VAULTBOT_ARCHIVE_RETENTION_DAYS")

	// ── Monitor ──
	setBool(&cfg.Monitor.Enabled, "VAULTBOT_MONITOR_ENABLED")
	setDuration(&cfg.Monitor.Interval, "VAULTBOT_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.Concurrency, "VAULTBOT_MONITOR_CONCURRENCY")
	setBool(&cfg.Monitor.AutoLiquidate, "VAULTBOT_MONITOR_AUTO_LIQUIDATE")

	// ── Matching ──
	setBool(&cfg.Matching.Enabled, "VAULTBOT_MATCHING_ENABLED")
	setDuration(&cfg.Matching.Interval, "VAULTBOT_MATCHING_INTERVAL")
	setUint64(&cfg.Matching.MinTradeSize, "VAULTBOT_MATCHING_MIN_TRADE_SIZE")
	setDuration(&cfg.Matching.PositionTTL, "VAULTBOT_MATCHING_POSITION_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VAULTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VAULTBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "VAULTBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VAULTBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "VAULTBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTBOT_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "VAULTBOT_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTBOT_MODE")
	setStr(&cfg.LogLevel, "VAULTBOT_LOG_LEVEL")
	setStr(&cfg.Storage, "VAULTBOT_STORAGE")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
