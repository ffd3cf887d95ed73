package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// ClaimKind tells which claim path ran.
type ClaimKind string

const (
	ClaimSettlement ClaimKind = "settlement"
	ClaimRewards    ClaimKind = "rewards"
	// ClaimNothing means an open position had no accrued rewards.
	ClaimNothing ClaimKind = "none"
)

// ClaimOutcome describes what a claim paid.
type ClaimOutcome struct {
	Position           domain.Position `json:"position"`
	Kind               ClaimKind       `json:"kind"`
	BasePayout         uint64          `json:"base_payout"`
	TimeRewards        uint64          `json:"time_rewards"`
	PerformanceRewards uint64          `json:"performance_rewards"`
	Total              uint64          `json:"total"`
}

// RewardService pays settlement payouts and time/performance rewards.
type RewardService struct {
	engine
}

// NewRewardService creates a RewardService with all required dependencies.
func NewRewardService(
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	bus domain.SignalBus,
	audit domain.AuditStore,
	params Params,
	logger *slog.Logger,
) *RewardService {
	return &RewardService{engine: newEngine("reward_service", ledger, oracle, bus, audit, params, logger)}
}

// Claim dispatches on the position status. A Settled position pays its base
// payout plus rewards exactly once; an open position collects its accrued
// rewards.
func (s *RewardService) Claim(ctx context.Context, key domain.PositionKey) (out ClaimOutcome, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("claim", start, err) }()

	now := s.now()
	var (
		tp domain.TradingPool
		rp domain.RewardPool
	)
	err = s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		pos, err := tx.Position(ctx, key)
		if err != nil {
			return fmt.Errorf("reward_service: get %s: %w", key, err)
		}
		switch {
		case pos.Status == domain.PositionStatusSettled:
			if pos.IsClaimed {
				return fmt.Errorf("reward_service: claim %s: %w", key, domain.ErrPositionAlreadyClaimed)
			}
			if pos.Settlement == nil {
				return fmt.Errorf("reward_service: claim %s: %w", key, domain.ErrPositionNotSettled)
			}
		case pos.Status == domain.PositionStatusLiquidated:
			return fmt.Errorf("reward_service: claim %s: %w", key, domain.ErrPositionLiquidated)
		case !pos.Status.IsOpen():
			return fmt.Errorf("reward_service: claim %s in status %q: %w", key, pos.Status, domain.ErrInvalidPositionStatus)
		}

		if tp, err = tx.TradingPool(ctx); err != nil {
			return fmt.Errorf("reward_service: trading pool: %w", err)
		}
		if rp, err = tx.RewardPool(ctx); err != nil {
			return fmt.Errorf("reward_service: reward pool: %w", err)
		}

		out = ClaimOutcome{Kind: ClaimRewards}
		if out.TimeRewards, err = TimeReward(pos.Size, rp.BaseRewardRate, pos.LastRewardClaim, now); err != nil {
			return fmt.Errorf("reward_service: time rewards: %w", err)
		}
		if out.PerformanceRewards, err = PerformanceReward(pos, tp.TotalActiveAmount, rp.PerformancePoolAmount); err != nil {
			return fmt.Errorf("reward_service: performance rewards: %w", err)
		}
		rewards, err := safemath.Add(out.TimeRewards, out.PerformanceRewards)
		if err != nil {
			return fmt.Errorf("reward_service: rewards: %w", err)
		}

		if pos.Status.IsOpen() && rewards == 0 {
			out.Kind = ClaimNothing
			out.Position = pos
			return nil
		}

		if rewards > 0 {
			if err := s.payRewards(ctx, tx, &rp, pos.Owner, rewards, now); err != nil {
				return err
			}
		}

		if pos.Status == domain.PositionStatusSettled {
			out.Kind = ClaimSettlement
			if out.BasePayout, err = safemath.MulDiv(pos.Collateral, pos.Settlement.PayoutPercentage, 100); err != nil {
				return fmt.Errorf("reward_service: base payout: %w", err)
			}
			if out.BasePayout > 0 {
				if err := payFromVault(ctx, tx, domain.TradingPoolVault, domain.UserVault(pos.Owner), out.BasePayout, domain.ErrInsufficientPoolBalance); err != nil {
					return fmt.Errorf("reward_service: pay base payout: %w", err)
				}
				if tp.TotalActiveAmount, err = safemath.Sub(tp.TotalActiveAmount, pos.Size); err != nil {
					return fmt.Errorf("reward_service: total active: %w", err)
				}
				if tp.TotalPoolAmount, err = safemath.Sub(tp.TotalPoolAmount, out.BasePayout); err != nil {
					return fmt.Errorf("reward_service: total pool: %w", err)
				}
				tp.UpdatedAt = now
				if err := tx.SaveTradingPool(ctx, tp); err != nil {
					return err
				}
			}
			pos.IsClaimed = true
		} else {
			pos.ClaimableRewards = 0
		}

		if out.Total, err = safemath.Add(out.BasePayout, rewards); err != nil {
			return fmt.Errorf("reward_service: total: %w", err)
		}
		if pos.TotalRewardsEarned, err = safemath.Add(pos.TotalRewardsEarned, rewards); err != nil {
			return fmt.Errorf("reward_service: rewards earned: %w", err)
		}
		pos.LastRewardClaim = now
		if err := tx.SavePosition(ctx, pos); err != nil {
			return fmt.Errorf("reward_service: save %s: %w", key, err)
		}
		out.Position = pos
		return nil
	})
	if err != nil {
		return ClaimOutcome{}, err
	}

	switch out.Kind {
	case ClaimNothing:
		return out, nil
	case ClaimSettlement:
		s.publishPools(&tp, &rp)
		s.emit(ctx, domain.PositionClaimed{
			Key:                key,
			BasePayout:         out.BasePayout,
			TimeRewards:        out.TimeRewards,
			PerformanceRewards: out.PerformanceRewards,
			Total:              out.Total,
			At:                 now,
		})
	default:
		s.publishPools(nil, &rp)
		s.emit(ctx, domain.RewardsClaimed{
			Key:                key,
			TimeRewards:        out.TimeRewards,
			PerformanceRewards: out.PerformanceRewards,
			Total:              out.Total,
			At:                 now,
		})
	}

	s.logger.InfoContext(ctx, "reward_service: claimed",
		slog.String("position", key.String()),
		slog.String("kind", string(out.Kind)),
		slog.Uint64("base_payout", out.BasePayout),
		slog.Uint64("time_rewards", out.TimeRewards),
		slog.Uint64("performance_rewards", out.PerformanceRewards),
	)
	return out, nil
}

// payRewards moves amount from the reward vault to owner and books the
// distribution on the reward pool.
func (s *RewardService) payRewards(ctx context.Context, tx domain.LedgerTx, rp *domain.RewardPool, owner string, amount uint64, now time.Time) error {
	if err := payFromVault(ctx, tx, domain.RewardPoolVault, domain.UserVault(owner), amount, domain.ErrInsufficientRewardReserves); err != nil {
		return fmt.Errorf("reward_service: pay rewards: %w", err)
	}
	distributed, err := safemath.Add(rp.TotalDistributed, amount)
	if err != nil {
		return fmt.Errorf("reward_service: total distributed: %w", err)
	}
	rp.TotalDistributed = distributed
	rp.LastDistributionTime = now
	if err := tx.SaveRewardPool(ctx, *rp); err != nil {
		return fmt.Errorf("reward_service: save reward pool: %w", err)
	}
	return nil
}
