package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/metrics"
)

// MonitorLockKey is the distributed lock held for the duration of a sweep so
// only one monitor replica sweeps at a time.
const MonitorLockKey = "monitor:sweep"

// MonitorConfig tunes the position monitor.
type MonitorConfig struct {
	Interval      time.Duration
	Concurrency   int
	LockTTL       time.Duration
	CloseExpired  bool
	AutoLiquidate bool
}

// MonitorStatus summarizes the most recent sweep.
type MonitorStatus struct {
	Running    bool      `json:"running"`
	LastSweep  time.Time `json:"last_sweep"`
	Checked    int64     `json:"checked"`
	Failed     int64     `json:"failed"`
	Closed     int64     `json:"closed"`
	Liquidated int64     `json:"liquidated"`
	LastError  string    `json:"last_error,omitempty"`
}

// PositionMonitor periodically health-checks every open position, closing
// expired ones and optionally liquidating those still at risk.
type PositionMonitor struct {
	positions  *PositionService
	health     *HealthService
	settlement *SettlementService
	locks      domain.LockManager
	cfg        MonitorConfig
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.RWMutex
	status MonitorStatus
}

// NewPositionMonitor creates a monitor. locks may be nil for single-replica
// deployments.
func NewPositionMonitor(
	positions *PositionService,
	health *HealthService,
	settlement *SettlementService,
	locks domain.LockManager,
	cfg MonitorConfig,
	logger *slog.Logger,
) *PositionMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &PositionMonitor{
		positions:  positions,
		health:     health,
		settlement: settlement,
		locks:      locks,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(slog.String("component", "position_monitor")),
	}
}

// SetMetrics attaches Prometheus instruments.
func (m *PositionMonitor) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// SetClock overrides the wall clock used for expiry.
func (m *PositionMonitor) SetClock(now func() time.Time) { m.now = now }

// Status returns the summary of the last sweep.
func (m *PositionMonitor) Status() MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run sweeps immediately and then on every interval until ctx is done.
func (m *PositionMonitor) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	m.logger.InfoContext(ctx, "position monitor started", slog.Duration("interval", m.cfg.Interval))
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := m.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.ErrorContext(ctx, "position monitor sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass over the open positions. Per-position failures are
// logged and counted; they never abort the sweep.
func (m *PositionMonitor) Sweep(ctx context.Context) (MonitorStatus, error) {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, MonitorLockKey, m.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				m.metrics.RecordSweep("skipped")
				m.logger.DebugContext(ctx, "sweep skipped, lock held elsewhere")
				return m.Status(), nil
			}
			m.metrics.RecordSweep("error")
			return m.Status(), fmt.Errorf("position_monitor: acquire lock: %w", err)
		}
		defer unlock()
	}

	open, err := m.positions.OpenPositions(ctx)
	if err != nil {
		m.metrics.RecordSweep("error")
		m.finish(MonitorStatus{LastError: err.Error()})
		return m.Status(), err
	}

	var checked, failed, closed, liquidated atomic.Int64
	now := m.now()
	p := pool.New().WithMaxGoroutines(m.cfg.Concurrency)
	for _, pos := range open {
		p.Go(func() {
			key := pos.Key()
			if m.cfg.CloseExpired && pos.IsExpired(now) {
				if _, err := m.settlement.Close(ctx, key); err != nil {
					failed.Add(1)
					m.logger.WarnContext(ctx, "close expired position failed",
						slog.String("position", key.String()),
						slog.String("error", err.Error()),
					)
					return
				}
				closed.Add(1)
				return
			}

			report, err := m.health.Check(ctx, key)
			if err != nil {
				failed.Add(1)
				m.logger.WarnContext(ctx, "health check failed",
					slog.String("position", key.String()),
					slog.String("error", err.Error()),
				)
				return
			}
			checked.Add(1)

			if m.cfg.AutoLiquidate && report.Position.Status == domain.PositionStatusLiquidationRisk {
				if _, err := m.settlement.Liquidate(ctx, key); err != nil {
					failed.Add(1)
					m.logger.WarnContext(ctx, "liquidation failed",
						slog.String("position", key.String()),
						slog.String("error", err.Error()),
					)
					return
				}
				liquidated.Add(1)
			}
		})
	}
	p.Wait()

	st := MonitorStatus{
		Checked:    checked.Load(),
		Failed:     failed.Load(),
		Closed:     closed.Load(),
		Liquidated: liquidated.Load(),
	}
	m.finish(st)
	m.metrics.RecordSweep("ok")
	m.logger.DebugContext(ctx, "sweep complete",
		slog.Int("open", len(open)),
		slog.Int64("checked", st.Checked),
		slog.Int64("failed", st.Failed),
		slog.Int64("closed", st.Closed),
		slog.Int64("liquidated", st.Liquidated),
	)
	return m.Status(), nil
}

func (m *PositionMonitor) finish(st MonitorStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st.Running = m.status.Running
	st.LastSweep = m.now()
	m.status = st
}

func (m *PositionMonitor) setRunning(v bool) {
	m.mu.Lock()
	m.status.Running = v
	m.mu.Unlock()
}
