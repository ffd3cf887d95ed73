package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/oracle"
	"github.com/alanyoungcy/vaultbot/internal/pipeline"
	"github.com/alanyoungcy/vaultbot/internal/server"
	"github.com/alanyoungcy/vaultbot/internal/server/handler"
	"github.com/alanyoungcy/vaultbot/internal/server/ws"
	"github.com/alanyoungcy/vaultbot/internal/service"
)

// APIMode serves the HTTP and websocket API over the engines.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	o := pipeline.NewOrchestrator(a.logger)
	a.addPriceTasks(o, deps)
	a.addServerTasks(o, deps)
	return o.Run(ctx)
}

// MonitorMode runs the position sweep without the API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	o := pipeline.NewOrchestrator(a.logger)
	a.addPriceTasks(o, deps)
	if deps.Monitor == nil {
		a.logger.WarnContext(ctx, "monitor.enabled is false, but monitor mode always runs the sweep")
		deps.Monitor = service.NewPositionMonitor(deps.Positions, deps.Health, deps.Settlement, deps.Locks, service.MonitorConfig{}, a.logger)
		deps.Monitor.SetMetrics(deps.Metrics)
	}
	o.Add("position_monitor", deps.Monitor.Run)
	a.addMatchingTask(o, deps)
	return o.Run(ctx)
}

// FullMode starts the API, the background engines and the archive schedule.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	o := pipeline.NewOrchestrator(a.logger)
	a.addPriceTasks(o, deps)
	if deps.Monitor != nil {
		o.Add("position_monitor", deps.Monitor.Run)
	}
	a.addMatchingTask(o, deps)
	if deps.Archiver != nil {
		expr := a.cfg.Archive.Cron
		o.Add("archiver", func(ctx context.Context) error {
			return deps.Archiver.RunCron(ctx, expr)
		})
	}
	if a.cfg.Server.Enabled {
		a.addServerTasks(o, deps)
	}
	return o.Run(ctx)
}

// addPriceTasks keeps the configured price source fresh: the Hermes stream
// for the hermes source, a periodic republish for the static one.
func (a *App) addPriceTasks(o *pipeline.Orchestrator, deps *Dependencies) {
	if deps.Stream != nil {
		o.Add("price_stream", deps.Stream.Run)
	}
	if deps.Static != nil {
		feedID, price := deps.Params.FeedID, a.cfg.Oracle.StaticPrice
		interval := deps.Params.MaxPriceAge / 2
		if interval <= 0 {
			interval = time.Second
		}
		o.Add("static_price", func(ctx context.Context) error {
			return deps.Static.Hold(ctx, feedID, price, interval)
		})
	}
}

// addMatchingTask runs the order matcher on its interval when
// matching.enabled. Orders can still be placed and matched on demand
// through the API without it.
func (a *App) addMatchingTask(o *pipeline.Orchestrator, deps *Dependencies) {
	if a.cfg.Matching.Enabled && deps.Matching != nil {
		o.Add("order_matcher", deps.Matching.Run)
	}
}

// addServerTasks builds the HTTP server and, when a signal bus exists, the
// websocket hub relaying engine records and prices.
func (a *App) addServerTasks(o *pipeline.Orchestrator, deps *Dependencies) {
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			Channels:  []string{service.PositionsChannel, oracle.PricesChannel},
			StartedAt: time.Now().UTC(),
		})
		o.Add("ws_hub", hub.Run)
	} else {
		a.logger.Info("no signal bus; websocket relay disabled")
	}

	var monitor handler.MonitorReporter
	if deps.Monitor != nil {
		monitor = deps.Monitor
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Probes, monitor, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.cfg.Storage, deps.Params),
		Positions: handler.NewPositionHandler(deps.Positions, deps.Health, deps.Settlement, deps.Rewards, a.logger),
		Pools:     handler.NewPoolHandler(deps.Pools, a.logger),
		Orders:    handler.NewOrderHandler(deps.Matching, a.logger),
		Price:     handler.NewPriceHandler(deps.Oracle, deps.Params.FeedID, deps.Params.MaxPriceAge, a.logger),
		Audit:     handler.NewAuditHandler(deps.Audit, a.logger),
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Metrics, deps.Limiter, a.logger)

	grace := a.cfg.Server.ShutdownTimeout.Duration
	o.Add("http_server", func(ctx context.Context) error {
		return srv.Run(ctx, grace)
	})
	a.logger.Info("http server configured",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("auth", a.cfg.Server.APIKey != ""),
	)
}
