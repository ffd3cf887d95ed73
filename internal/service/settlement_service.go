package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// SettlementOutcome describes a closed position.
type SettlementOutcome struct {
	Position         domain.Position `json:"position"`
	ExitPrice        uint64          `json:"exit_price"`
	Fees             Fees            `json:"fees"`
	RawPnL           int64           `json:"raw_pnl"`
	FinalPnL         int64           `json:"final_pnl"`
	SettlementAmount uint64          `json:"settlement_amount"`
	PayoutPercentage uint64          `json:"payout_percentage"`
	Profitable       bool            `json:"profitable"`
}

// SettlementService closes and liquidates positions and reconciles the
// trading pool.
type SettlementService struct {
	engine
}

// NewSettlementService creates a SettlementService with all required dependencies.
func NewSettlementService(
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	bus domain.SignalBus,
	audit domain.AuditStore,
	params Params,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{engine: newEngine("settlement_service", ledger, oracle, bus, audit, params, logger)}
}

func terminalError(pos domain.Position) error {
	switch pos.Status {
	case domain.PositionStatusSettled:
		return fmt.Errorf("settlement_service: %s: %w", pos.Key(), domain.ErrPositionAlreadySettled)
	case domain.PositionStatusLiquidated:
		return fmt.Errorf("settlement_service: %s: %w", pos.Key(), domain.ErrPositionLiquidated)
	}
	return nil
}

// Close settles the position at the current price, pays the settlement
// amount out of the trading pool vault and marks the position Settled.
func (s *SettlementService) Close(ctx context.Context, key domain.PositionKey) (out SettlementOutcome, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("close", start, err) }()

	now := s.now()
	price, err := s.priceFor(ctx, key)
	if err != nil {
		return SettlementOutcome{}, err
	}

	var pool domain.TradingPool
	err = s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		pos, err := tx.Position(ctx, key)
		if err != nil {
			return fmt.Errorf("settlement_service: get %s: %w", key, err)
		}
		if err := terminalError(pos); err != nil {
			return err
		}

		fees, err := ClosingFees(pos.Size, price, s.params)
		if err != nil {
			return fmt.Errorf("settlement_service: fees: %w", err)
		}
		rawPnL, err := UnrealizedPnL(pos.Side, pos.EntryPrice, price, pos.Size)
		if err != nil {
			return fmt.Errorf("settlement_service: raw pnl: %w", err)
		}
		totalFees, err := safemath.ToInt64(fees.Total)
		if err != nil {
			return fmt.Errorf("settlement_service: fees: %w", err)
		}
		finalPnL, err := safemath.SubInt(rawPnL, totalFees)
		if err != nil {
			return fmt.Errorf("settlement_service: final pnl: %w", err)
		}
		amount, payout, err := DetermineSettlement(pos.Collateral, finalPnL)
		if err != nil {
			return fmt.Errorf("settlement_service: settlement amount: %w", err)
		}

		pool, err = tx.TradingPool(ctx)
		if err != nil {
			return fmt.Errorf("settlement_service: trading pool: %w", err)
		}
		if amount > 0 {
			if err := payFromVault(ctx, tx, domain.TradingPoolVault, domain.UserVault(pos.Owner), amount, domain.ErrInsufficientPoolBalance); err != nil {
				return fmt.Errorf("settlement_service: pay settlement: %w", err)
			}
		}
		if pool.TotalPoolAmount, err = safemath.Sub(pool.TotalPoolAmount, amount); err != nil {
			return fmt.Errorf("settlement_service: total pool: %w", err)
		}
		if pool.TotalActiveAmount, err = safemath.Sub(pool.TotalActiveAmount, pos.Size); err != nil {
			return fmt.Errorf("settlement_service: total active: %w", err)
		}
		if pool.TotalFeesCollected, err = safemath.Add(pool.TotalFeesCollected, fees.Total); err != nil {
			return fmt.Errorf("settlement_service: fees collected: %w", err)
		}
		pool.UpdatedAt = now
		if err := tx.SaveTradingPool(ctx, pool); err != nil {
			return err
		}

		pos.Status = domain.PositionStatusSettled
		pos.UnrealizedPnL = 0
		pos.Settlement = &domain.SettlementData{
			SettledAt:        now,
			FinalPrice:       price,
			PayoutPercentage: payout,
			FinalPnL:         finalPnL,
			SettlementAmount: amount,
			TotalFees:        fees.Total,
		}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("settlement_service: save %s: %w", key, err)
		}

		out = SettlementOutcome{
			Position:         pos,
			ExitPrice:        price,
			Fees:             fees,
			RawPnL:           rawPnL,
			FinalPnL:         finalPnL,
			SettlementAmount: amount,
			PayoutPercentage: payout,
			Profitable:       finalPnL > 0,
		}
		return nil
	})
	if err != nil {
		return SettlementOutcome{}, err
	}

	s.publishPools(&pool, nil)
	s.emit(ctx, domain.PositionClosed{
		Key:              key,
		EntryPrice:       out.Position.EntryPrice,
		ExitPrice:        out.ExitPrice,
		FinalPnL:         out.FinalPnL,
		SettlementAmount: out.SettlementAmount,
		PayoutPercentage: out.PayoutPercentage,
		TradingFee:       out.Fees.Trading,
		ClosingFee:       out.Fees.Closing,
		TotalFees:        out.Fees.Total,
		Profitable:       out.Profitable,
		At:               now,
	})
	s.logger.InfoContext(ctx, "settlement_service: position closed",
		slog.String("position", key.String()),
		slog.Uint64("exit_price", out.ExitPrice),
		slog.Int64("final_pnl", out.FinalPnL),
		slog.Uint64("settlement_amount", out.SettlementAmount),
		slog.Uint64("payout_pct", out.PayoutPercentage),
	)
	return out, nil
}

// Liquidate force-closes a position that was flagged LiquidationRisk and is
// still below the warning threshold at the current price. The collateral
// stays in the trading pool.
func (s *SettlementService) Liquidate(ctx context.Context, key domain.PositionKey) (pos domain.Position, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("liquidate", start, err) }()

	now := s.now()
	price, err := s.priceFor(ctx, key)
	if err != nil {
		return domain.Position{}, err
	}

	var pool domain.TradingPool
	err = s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		pos, err = tx.Position(ctx, key)
		if err != nil {
			return fmt.Errorf("settlement_service: get %s: %w", key, err)
		}
		if err := terminalError(pos); err != nil {
			return err
		}
		if pos.Status != domain.PositionStatusLiquidationRisk {
			return fmt.Errorf("settlement_service: liquidate %s in status %s: %w", key, pos.Status, domain.ErrInvalidPositionStatus)
		}

		required, _, err := MarginRequirements(pos.Size, price, pos.Leverage)
		if err != nil {
			return fmt.Errorf("settlement_service: required margin: %w", err)
		}
		score, err := HealthScore(pos.Collateral, required)
		if err != nil {
			return fmt.Errorf("settlement_service: health score: %w", err)
		}
		if score >= s.params.WarningThreshold {
			return fmt.Errorf("settlement_service: %s recovered to health %d: %w", key, score, domain.ErrInvalidPositionStatus)
		}

		pool, err = tx.TradingPool(ctx)
		if err != nil {
			return fmt.Errorf("settlement_service: trading pool: %w", err)
		}
		if pool.TotalActiveAmount, err = safemath.Sub(pool.TotalActiveAmount, pos.Size); err != nil {
			return fmt.Errorf("settlement_service: total active: %w", err)
		}
		pool.UpdatedAt = now
		if err := tx.SaveTradingPool(ctx, pool); err != nil {
			return err
		}

		pos.Status = domain.PositionStatusLiquidated
		pos.HealthScore = score
		pos.LiquidationPrice = price
		pos.Settlement = &domain.SettlementData{
			SettledAt:  now,
			FinalPrice: price,
		}
		return tx.SavePosition(ctx, pos)
	})
	if err != nil {
		return domain.Position{}, err
	}

	s.publishPools(&pool, nil)
	s.emit(ctx, domain.PositionLiquidated{
		Key:         key,
		Price:       price,
		HealthScore: pos.HealthScore,
		Collateral:  pos.Collateral,
		At:          now,
	})
	s.logger.WarnContext(ctx, "settlement_service: position liquidated",
		slog.String("position", key.String()),
		slog.Uint64("price", price),
		slog.Uint64("health_score", pos.HealthScore),
	)
	return pos, nil
}

// priceFor reads the committed position and fetches its feed price before any
// unit of work opens. A position's feed never changes after open, and terminal
// positions fail here without touching the oracle.
func (s *SettlementService) priceFor(ctx context.Context, key domain.PositionKey) (uint64, error) {
	pos, err := s.ledger.GetPosition(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("settlement_service: get %s: %w", key, err)
	}
	if err := terminalError(pos); err != nil {
		return 0, err
	}
	return s.currentPrice(ctx, pos.FeedID)
}

// payFromVault moves amount out of a program-issued vault, reporting a short
// balance as shortErr.
func payFromVault(ctx context.Context, tx domain.LedgerTx, from, to domain.AccountID, amount uint64, shortErr error) error {
	v, err := tx.Vault(ctx, from)
	if err != nil {
		return err
	}
	if v.Balance < amount {
		return fmt.Errorf("%s holds %d, need %d: %w", from, v.Balance, amount, shortErr)
	}
	return tx.Transfer(ctx, domain.Transfer{
		From:      from,
		To:        to,
		Amount:    amount,
		Authority: domain.ProgramAuthority,
	})
}
