package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/metrics"
)

// PositionsChannel is the bus channel and stream suffix every engine record
// is published on.
const PositionsChannel = "positions"

// Alerter forwards operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// engine carries the dependencies shared by the position, health, settlement
// and reward services.
type engine struct {
	name    string
	ledger  domain.Ledger
	oracle  domain.PriceOracle
	bus     domain.SignalBus
	audit   domain.AuditStore
	params  Params
	metrics *metrics.Metrics
	alerts  Alerter
	now     func() time.Time
	logger  *slog.Logger
}

func newEngine(
	name string,
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	bus domain.SignalBus,
	audit domain.AuditStore,
	params Params,
	logger *slog.Logger,
) engine {
	if logger == nil {
		logger = slog.Default()
	}
	return engine{
		name:   name,
		ledger: ledger,
		oracle: oracle,
		bus:    bus,
		audit:  audit,
		params: params,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// SetMetrics attaches Prometheus instruments.
func (e *engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// SetAlerter attaches an operator alert sink.
func (e *engine) SetAlerter(a Alerter) { e.alerts = a }

// SetClock overrides the wall clock.
func (e *engine) SetClock(now func() time.Time) { e.now = now }

// Params returns the engine constants.
func (e *engine) Params() Params { return e.params }

// currentPrice fetches a verified price for feedID no older than the
// configured bound.
func (e *engine) currentPrice(ctx context.Context, feedID string) (uint64, error) {
	sample, err := e.oracle.GetPrice(ctx, feedID, e.params.MaxPriceAge)
	if err != nil {
		return 0, fmt.Errorf("%s: price %s: %w", e.name, feedID, err)
	}
	if sample.Price <= 0 {
		return 0, fmt.Errorf("%s: price %s is %d: %w", e.name, feedID, sample.Price, domain.ErrInvalidPriceFeed)
	}
	e.metrics.ObservePriceAge(sample.Age(e.now()))
	return uint64(sample.Price), nil
}

type envelope struct {
	ID    string        `json:"id"`
	Event string        `json:"event"`
	Data  domain.Record `json:"data"`
}

// emit publishes committed records to the bus, the durable stream and the
// audit log. Delivery failures never fail the operation.
func (e *engine) emit(ctx context.Context, records ...domain.Record) {
	for _, rec := range records {
		name := rec.RecordName()
		payload, err := json.Marshal(envelope{ID: uuid.NewString(), Event: name, Data: rec})
		if err != nil {
			e.logger.ErrorContext(ctx, e.name+": marshal record failed",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		if e.bus != nil {
			if pubErr := e.bus.Publish(ctx, PositionsChannel, payload); pubErr != nil {
				e.logger.WarnContext(ctx, e.name+": publish event failed",
					slog.String("event", name),
					slog.String("error", pubErr.Error()),
				)
			}
			if strErr := e.bus.StreamAppend(ctx, PositionsChannel, payload); strErr != nil {
				e.logger.WarnContext(ctx, e.name+": stream append failed",
					slog.String("event", name),
					slog.String("error", strErr.Error()),
				)
			}
		}

		if e.audit != nil {
			if auditErr := e.audit.Log(ctx, name, recordDetail(rec)); auditErr != nil {
				e.logger.WarnContext(ctx, e.name+": audit log failed",
					slog.String("event", name),
					slog.String("error", auditErr.Error()),
				)
			}
		}

		e.alert(ctx, rec)
	}
}

func recordDetail(rec domain.Record) map[string]any {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	var detail map[string]any
	_ = json.Unmarshal(raw, &detail)
	return detail
}

func (e *engine) alert(ctx context.Context, rec domain.Record) {
	if e.alerts == nil {
		return
	}
	var title, msg string
	switch r := rec.(type) {
	case domain.LiquidationRisk:
		title = "Liquidation risk"
		msg = fmt.Sprintf("Position %s health %d%% at price %d (collateral %d, required %d)",
			r.Key, r.HealthScore, r.CurrentPrice, r.Collateral, r.RequiredMargin)
	case domain.PositionLiquidated:
		title = "Position liquidated"
		msg = fmt.Sprintf("Position %s liquidated at price %d, health %d%%", r.Key, r.Price, r.HealthScore)
	case domain.PositionClosed:
		title = "Position closed"
		msg = fmt.Sprintf("Position %s closed at %d: pnl %d, payout %d%%", r.Key, r.ExitPrice, r.FinalPnL, r.PayoutPercentage)
	default:
		return
	}
	if err := e.alerts.Notify(ctx, rec.RecordName(), title, msg); err != nil {
		e.logger.WarnContext(ctx, e.name+": alert failed",
			slog.String("event", rec.RecordName()),
			slog.String("error", err.Error()),
		)
	}
}

// publishPools refreshes the pool gauges after a committed change.
func (e *engine) publishPools(tp *domain.TradingPool, rp *domain.RewardPool) {
	if tp != nil {
		e.metrics.SetTradingPool(*tp)
	}
	if rp != nil {
		e.metrics.SetRewardPool(*rp)
	}
}

// auditLog writes an administrative entry that has no record type.
func (e *engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, e.name+": audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
