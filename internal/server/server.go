// Package server exposes the engines over HTTP and relays engine records to
// websocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/metrics"
	"github.com/alanyoungcy/vaultbot/internal/server/handler"
	"github.com/alanyoungcy/vaultbot/internal/server/middleware"
	"github.com/alanyoungcy/vaultbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Pools     *handler.PoolHandler
	Orders    *handler.OrderHandler
	Price     *handler.PriceHandler
	Audit     *handler.AuditHandler
	Archive   *handler.ArchiveHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain. limiter
// may be nil when RateLimit is 0.
func NewServer(
	cfg Config,
	handlers Handlers,
	hub *ws.Hub,
	m *metrics.Metrics,
	limiter middleware.Limiter,
	logger *slog.Logger,
) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}
	if h := handlers.Status; h != nil {
		mux.HandleFunc("GET /api/status", h.GetStatus)
	}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	if h := handlers.Positions; h != nil {
		mux.HandleFunc("POST /api/positions", h.OpenPosition)
		mux.HandleFunc("GET /api/positions", h.ListPositions)
		mux.HandleFunc("GET /api/positions/{owner}/{order_id}", h.GetPosition)
		mux.HandleFunc("POST /api/positions/{owner}/{order_id}/check", h.CheckPosition)
		mux.HandleFunc("POST /api/positions/{owner}/{order_id}/close", h.ClosePosition)
		mux.HandleFunc("POST /api/positions/{owner}/{order_id}/liquidate", h.LiquidatePosition)
		mux.HandleFunc("POST /api/positions/{owner}/{order_id}/claim", h.ClaimPosition)
	}

	if h := handlers.Pools; h != nil {
		mux.HandleFunc("GET /api/pools", h.GetPools)
		mux.HandleFunc("POST /api/pools/init", h.InitPools)
		mux.HandleFunc("POST /api/pools/pause", h.PauseTrading)
		mux.HandleFunc("POST /api/pools/resume", h.ResumeTrading)
		mux.HandleFunc("POST /api/pools/rewards/fund", h.FundRewards)
		mux.HandleFunc("GET /api/vaults/{owner}", h.GetVault)
		mux.HandleFunc("POST /api/vaults/{owner}/fund", h.FundVault)
	}

	if h := handlers.Orders; h != nil {
		mux.HandleFunc("POST /api/orders", h.PlaceOrder)
		mux.HandleFunc("GET /api/orders", h.ListOrders)
		mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
		mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
		mux.HandleFunc("POST /api/orders/match", h.MatchOrders)
		mux.HandleFunc("GET /api/trades", h.ListTrades)
	}

	if h := handlers.Price; h != nil {
		mux.HandleFunc("GET /api/price", h.GetPrice)
	}
	if h := handlers.Audit; h != nil {
		mux.HandleFunc("GET /api/audit", h.ListAudit)
	}
	if h := handlers.Archive; h != nil {
		mux.HandleFunc("GET /api/archive", h.ListArchives)
		mux.HandleFunc("POST /api/archive/trigger", h.TriggerArchive)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Innermost first: auth, rate limit, logging, CORS.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if cfg.RateLimit > 0 && limiter != nil {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger, m)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run serves until ctx is done and then shuts down within grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
