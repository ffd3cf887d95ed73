package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/vaultbot/internal/blob/s3"
	"github.com/alanyoungcy/vaultbot/internal/cache/redis"
	"github.com/alanyoungcy/vaultbot/internal/config"
	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/metrics"
	"github.com/alanyoungcy/vaultbot/internal/notify"
	"github.com/alanyoungcy/vaultbot/internal/oracle"
	"github.com/alanyoungcy/vaultbot/internal/pipeline"
	"github.com/alanyoungcy/vaultbot/internal/server/handler"
	"github.com/alanyoungcy/vaultbot/internal/server/middleware"
	"github.com/alanyoungcy/vaultbot/internal/service"
	"github.com/alanyoungcy/vaultbot/internal/store/memory"
	"github.com/alanyoungcy/vaultbot/internal/store/postgres"
)

// Dependencies bundles everything the modes start. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Params service.Params

	// Storage
	Ledger domain.Ledger
	Audit  domain.AuditStore
	Orders domain.OrderStore
	Trades domain.TradeStore

	// Redis-backed, or in-process fallbacks when redis.addr is empty. Bus and
	// Locks stay nil without Redis.
	PriceCache domain.PriceCache
	Bus        domain.SignalBus
	Locks      domain.LockManager
	Limiter    middleware.Limiter

	// Price source. Exactly one of Stream (hermes, when streaming) or Static
	// (static source) may be set next to Oracle.
	Oracle domain.PriceOracle
	Stream *oracle.Stream
	Static *oracle.Static

	// Cold storage, set when archive.enabled.
	BlobReader domain.BlobReader
	Archiver   *pipeline.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Probes   map[string]handler.Probe

	// Engines
	Positions  *service.PositionService
	Health     *service.HealthService
	Settlement *service.SettlementService
	Rewards    *service.RewardService
	Pools      *service.PoolService
	Monitor    *service.PositionMonitor
	Matching   *service.MatchingService
}

// ParamsFromConfig converts the engine section into service parameters.
func ParamsFromConfig(e config.EngineConfig) service.Params {
	return service.Params{
		FeedID:               e.FeedID,
		MaxPriceAge:          e.MaxPriceAge.Duration,
		TradingFeeBps:        e.TradingFeeBps,
		ClosingFeeBps:        e.ClosingFeeBps,
		MinPositionSize:      e.MinPositionSize,
		MinLeverage:          e.MinLeverage,
		MaxLeverage:          e.MaxLeverage,
		HealthyThreshold:     e.HealthyThreshold,
		WarningThreshold:     e.WarningThreshold,
		LiquidationThreshold: e.LiquidationThreshold,
		BaseRewardRateBps:    e.BaseRewardRateBps,
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	params := ParamsFromConfig(cfg.Engine)
	if err := params.Validate(); err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	feedID, err := oracle.NormalizeFeedID(params.FeedID)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: engine feed: %w", err)
	}
	params.FeedID = feedID

	deps := &Dependencies{
		Params:  params,
		Metrics: metrics.New(),
		Probes:  make(map[string]handler.Probe),
	}

	// --- Ledger and audit log ---
	switch cfg.Storage {
	case "memory":
		deps.Ledger = memory.NewLedger()
		deps.Audit = memory.NewAuditStore()
		deps.Orders = memory.NewOrderStore()
		deps.Trades = memory.NewTradeStore()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Ledger = postgres.NewLedger(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Orders = postgres.NewOrderStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Probes["postgres"] = pool.Ping
	}

	// --- Redis ---
	if cfg.NeedsRedis() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
		deps.Probes["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis not configured; using in-process cache and limiter")
		deps.PriceCache = oracle.NewMemoryCache()
		deps.Limiter = middleware.NewLocalLimiter()
	}

	// --- Price oracle ---
	switch cfg.Oracle.Source {
	case "static":
		static := oracle.NewStatic()
		static.SetPrice(params.FeedID, cfg.Oracle.StaticPrice)
		deps.Static = static
		deps.Oracle = static
	default:
		hermes := oracle.NewHermesClient(oracle.HermesConfig{
			BaseURL:        cfg.Oracle.HermesURL,
			Timeout:        cfg.Oracle.Timeout.Duration,
			RequestsPerSec: cfg.Oracle.RequestsPerSec,
			Burst:          cfg.Oracle.Burst,
			FailureRatio:   cfg.Oracle.BreakerRatio,
			MinRequests:    cfg.Oracle.BreakerMinReqs,
			Interval:       cfg.Oracle.BreakerInterval.Duration,
			OpenTimeout:    cfg.Oracle.BreakerTimeout.Duration,
		}, deps.Metrics, logger)
		deps.Oracle = oracle.NewCachedOracle(deps.PriceCache, hermes, logger)
		if cfg.Oracle.StreamEnabled {
			deps.Stream = oracle.NewStream(cfg.Oracle.StreamURL, []string{params.FeedID}, deps.PriceCache, deps.Bus, logger)
		}
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobReader = s3blob.NewReader(s3Client)
		blobArchiver := s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Ledger, deps.Audit)
		deps.Archiver = pipeline.NewArchiver(blobArchiver, cfg.Archive.RetentionDays, logger)
		deps.Probes["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, notify.Options{PerMinute: cfg.Notify.PerMinute}, logger)

	// --- Engines ---
	deps.Positions = service.NewPositionService(deps.Ledger, deps.Oracle, deps.Bus, deps.Audit, params, logger)
	deps.Health = service.NewHealthService(deps.Ledger, deps.Oracle, deps.Bus, deps.Audit, params, logger)
	deps.Settlement = service.NewSettlementService(deps.Ledger, deps.Oracle, deps.Bus, deps.Audit, params, logger)
	deps.Rewards = service.NewRewardService(deps.Ledger, deps.Oracle, deps.Bus, deps.Audit, params, logger)
	deps.Pools = service.NewPoolService(deps.Ledger, deps.Bus, deps.Audit, params, logger)
	deps.Matching = service.NewMatchingService(deps.Ledger, deps.Oracle, deps.Bus, deps.Audit, deps.Orders, deps.Trades,
		deps.Positions, deps.Locks, params, service.MatchingConfig{
			Interval:     cfg.Matching.Interval.Duration,
			MinTradeSize: cfg.Matching.MinTradeSize,
			PositionTTL:  cfg.Matching.PositionTTL.Duration,
			LockTTL:      cfg.Matching.LockTTL.Duration,
		}, logger)

	type instrumented interface {
		SetMetrics(*metrics.Metrics)
		SetAlerter(service.Alerter)
	}
	for _, svc := range []instrumented{deps.Positions, deps.Health, deps.Settlement, deps.Rewards, deps.Pools, deps.Matching} {
		svc.SetMetrics(deps.Metrics)
		if deps.Notifier.Enabled() {
			svc.SetAlerter(deps.Notifier)
		}
	}

	if cfg.Monitor.Enabled {
		deps.Monitor = service.NewPositionMonitor(deps.Positions, deps.Health, deps.Settlement, deps.Locks, service.MonitorConfig{
			Interval:      cfg.Monitor.Interval.Duration,
			Concurrency:   cfg.Monitor.Concurrency,
			LockTTL:       cfg.Monitor.LockTTL.Duration,
			CloseExpired:  cfg.Monitor.CloseExpired,
			AutoLiquidate: cfg.Monitor.AutoLiquidate,
		}, logger)
		deps.Monitor.SetMetrics(deps.Metrics)
	}

	return deps, cleanup, nil
}
