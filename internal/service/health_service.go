package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// HealthReport is the outcome of a health check.
type HealthReport struct {
	Position       domain.Position       `json:"position"`
	PreviousStatus domain.PositionStatus `json:"previous_status"`
	CurrentPrice   uint64                `json:"current_price"`
	RequiredMargin uint64                `json:"required_margin"`
	Changed        bool                  `json:"changed"`
	// Skipped is set when the position was already terminal.
	Skipped bool `json:"skipped"`
}

// HealthService re-evaluates open positions against the current price.
type HealthService struct {
	engine
}

// NewHealthService creates a HealthService with all required dependencies.
func NewHealthService(
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	bus domain.SignalBus,
	audit domain.AuditStore,
	params Params,
	logger *slog.Logger,
) *HealthService {
	return &HealthService{engine: newEngine("health_service", ledger, oracle, bus, audit, params, logger)}
}

// Check recomputes the health score and unrealized P&L of the position at
// key. Terminal positions are left untouched. The liquidation price stays at
// its entry-time value until a check lands in LiquidationRisk, which pins it
// to the triggering price.
func (s *HealthService) Check(ctx context.Context, key domain.PositionKey) (report HealthReport, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("check", start, err) }()

	now := s.now()
	current, err := s.ledger.GetPosition(ctx, key)
	if err != nil {
		return HealthReport{}, fmt.Errorf("health_service: get %s: %w", key, err)
	}
	if !current.Status.IsOpen() {
		return HealthReport{Position: current, PreviousStatus: current.Status, Skipped: true}, nil
	}
	price, err := s.currentPrice(ctx, current.FeedID)
	if err != nil {
		return HealthReport{}, err
	}

	err = s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		pos, err := tx.Position(ctx, key)
		if err != nil {
			return fmt.Errorf("health_service: get %s: %w", key, err)
		}
		report = HealthReport{Position: pos, PreviousStatus: pos.Status}
		if !pos.Status.IsOpen() {
			report.Skipped = true
			return nil
		}

		required, _, err := MarginRequirements(pos.Size, price, pos.Leverage)
		if err != nil {
			return fmt.Errorf("health_service: required margin: %w", err)
		}
		score, err := HealthScore(pos.Collateral, required)
		if err != nil {
			return fmt.Errorf("health_service: health score: %w", err)
		}
		pnl, err := UnrealizedPnL(pos.Side, pos.EntryPrice, price, pos.Size)
		if err != nil {
			return fmt.Errorf("health_service: unrealized pnl: %w", err)
		}

		status := StatusForScore(score, s.params)
		report.Changed = status != pos.Status
		pos.Status = status
		pos.HealthScore = score
		pos.UnrealizedPnL = pnl
		if status == domain.PositionStatusLiquidationRisk {
			pos.LiquidationPrice = price
			pos.LastHealthCheck = now
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("health_service: save %s: %w", key, err)
		}

		report.Position = pos
		report.CurrentPrice = price
		report.RequiredMargin = required
		return nil
	})
	if err != nil {
		return HealthReport{}, err
	}
	if report.Skipped {
		return report, nil
	}

	pos := report.Position
	s.metrics.RecordHealth(pos.Status)

	records := make([]domain.Record, 0, 3)
	if report.Changed {
		records = append(records, domain.HealthUpdated{
			Key:         key,
			OldStatus:   report.PreviousStatus,
			NewStatus:   pos.Status,
			HealthScore: pos.HealthScore,
			At:          now,
		})
		s.logger.InfoContext(ctx, "health_service: status changed",
			slog.String("position", key.String()),
			slog.String("from", string(report.PreviousStatus)),
			slog.String("to", string(pos.Status)),
			slog.Uint64("health_score", pos.HealthScore),
		)
	}
	if pos.Status == domain.PositionStatusLiquidationRisk {
		records = append(records, domain.LiquidationRisk{
			Key:            key,
			HealthScore:    pos.HealthScore,
			CurrentPrice:   report.CurrentPrice,
			Collateral:     pos.Collateral,
			RequiredMargin: report.RequiredMargin,
			At:             now,
		})
	}
	records = append(records, domain.PositionMetrics{
		Key:           key,
		HealthScore:   pos.HealthScore,
		UnrealizedPnL: pos.UnrealizedPnL,
		CurrentPrice:  report.CurrentPrice,
		Status:        pos.Status,
		At:            now,
	})
	s.emit(ctx, records...)
	return report, nil
}
