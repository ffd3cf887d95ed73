package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// MinInitialDeposit is the smallest non-zero seed deposit accepted by
// InitPools.
const MinInitialDeposit uint64 = 1_000_000

// InitPoolsRequest configures the pool singletons.
type InitPoolsRequest struct {
	TradingDeposit        uint64 `json:"trading_deposit"`
	RewardDeposit         uint64 `json:"reward_deposit"`
	BaseRewardRate        uint64 `json:"base_reward_rate"`
	PerformancePoolAmount uint64 `json:"performance_pool_amount"`
}

// PoolStats is a snapshot of both pools and their vault balances.
type PoolStats struct {
	Trading             domain.TradingPool `json:"trading"`
	Reward              domain.RewardPool  `json:"reward"`
	TradingVaultBalance uint64             `json:"trading_vault_balance"`
	RewardVaultBalance  uint64             `json:"reward_vault_balance"`
}

// PoolService initializes and funds the pools and user vaults.
type PoolService struct {
	engine
}

// NewPoolService creates a PoolService. It never consults the oracle.
func NewPoolService(
	ledger domain.Ledger,
	bus domain.SignalBus,
	audit domain.AuditStore,
	params Params,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{engine: newEngine("pool_service", ledger, nil, bus, audit, params, logger)}
}

// InitPools creates both pool vaults under the program authority and the
// pool singletons. A trading deposit seeds both the active and pool totals.
func (s *PoolService) InitPools(ctx context.Context, req InitPoolsRequest) (stats PoolStats, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("init_pools", start, err) }()

	if req.TradingDeposit > 0 && req.TradingDeposit < MinInitialDeposit {
		return PoolStats{}, fmt.Errorf("pool_service: trading deposit %d below %d: %w", req.TradingDeposit, MinInitialDeposit, domain.ErrAmountTooSmall)
	}
	if req.BaseRewardRate == 0 {
		req.BaseRewardRate = s.params.BaseRewardRateBps
	}

	now := s.now()
	err = s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.TradingPool(ctx); err == nil {
			return fmt.Errorf("pool_service: trading pool: %w", domain.ErrAlreadyExists)
		}
		for _, id := range []domain.AccountID{domain.TradingPoolVault, domain.RewardPoolVault} {
			if err := tx.CreateVault(ctx, id, domain.ProgramAuthority); err != nil {
				return fmt.Errorf("pool_service: create vault %s: %w", id, err)
			}
		}
		if req.TradingDeposit > 0 {
			if err := tx.Credit(ctx, domain.TradingPoolVault, req.TradingDeposit); err != nil {
				return err
			}
		}
		if req.RewardDeposit > 0 {
			if err := tx.Credit(ctx, domain.RewardPoolVault, req.RewardDeposit); err != nil {
				return err
			}
		}

		stats.Trading = domain.TradingPool{
			TotalActiveAmount: req.TradingDeposit,
			TotalPoolAmount:   req.TradingDeposit,
			IsActive:          true,
			UpdatedAt:         now,
		}
		stats.Reward = domain.RewardPool{
			BaseRewardRate:        req.BaseRewardRate,
			PerformancePoolAmount: req.PerformancePoolAmount,
			TotalRewardAmount:     req.RewardDeposit,
			LastDistributionTime:  now,
		}
		stats.TradingVaultBalance = req.TradingDeposit
		stats.RewardVaultBalance = req.RewardDeposit
		if err := tx.SaveTradingPool(ctx, stats.Trading); err != nil {
			return err
		}
		return tx.SaveRewardPool(ctx, stats.Reward)
	})
	if err != nil {
		return PoolStats{}, err
	}

	s.publishPools(&stats.Trading, &stats.Reward)
	s.auditLog(ctx, "pools_initialized", map[string]any{
		"trading_deposit":         req.TradingDeposit,
		"reward_deposit":          req.RewardDeposit,
		"base_reward_rate":        req.BaseRewardRate,
		"performance_pool_amount": req.PerformancePoolAmount,
	})
	s.logger.InfoContext(ctx, "pool_service: pools initialized",
		slog.Uint64("trading_deposit", req.TradingDeposit),
		slog.Uint64("reward_deposit", req.RewardDeposit),
	)
	return stats, nil
}

// SetTradingActive pauses or resumes position opening.
func (s *PoolService) SetTradingActive(ctx context.Context, active bool) (domain.TradingPool, error) {
	var pool domain.TradingPool
	err := s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		var err error
		if pool, err = tx.TradingPool(ctx); err != nil {
			return fmt.Errorf("pool_service: trading pool: %w", err)
		}
		pool.IsActive = active
		pool.UpdatedAt = s.now()
		return tx.SaveTradingPool(ctx, pool)
	})
	if err != nil {
		return domain.TradingPool{}, err
	}
	s.auditLog(ctx, "pool_status_updated", map[string]any{"is_active": active})
	return pool, nil
}

// FundVault credits owner's vault, opening it on first use.
func (s *PoolService) FundVault(ctx context.Context, owner string, amount uint64) (domain.Vault, error) {
	if owner == "" {
		return domain.Vault{}, fmt.Errorf("pool_service: owner is required: %w", domain.ErrUnauthorizedAccess)
	}
	if amount == 0 {
		return domain.Vault{}, fmt.Errorf("pool_service: fund %s: %w", owner, domain.ErrAmountTooSmall)
	}

	id := domain.UserVault(owner)
	var v domain.Vault
	err := s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.Vault(ctx, id); err != nil {
			if err := tx.CreateVault(ctx, id, domain.UserAuthority(owner)); err != nil {
				return fmt.Errorf("pool_service: create vault %s: %w", id, err)
			}
		}
		if err := tx.Credit(ctx, id, amount); err != nil {
			return fmt.Errorf("pool_service: credit %s: %w", id, err)
		}
		var err error
		v, err = tx.Vault(ctx, id)
		return err
	})
	if err != nil {
		return domain.Vault{}, err
	}
	s.auditLog(ctx, "vault_funded", map[string]any{"owner": owner, "amount": amount, "balance": v.Balance})
	return v, nil
}

// FundRewards tops up the reward vault.
func (s *PoolService) FundRewards(ctx context.Context, amount uint64) (domain.RewardPool, error) {
	if amount == 0 {
		return domain.RewardPool{}, fmt.Errorf("pool_service: fund rewards: %w", domain.ErrAmountTooSmall)
	}
	var rp domain.RewardPool
	err := s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		var err error
		if rp, err = tx.RewardPool(ctx); err != nil {
			return fmt.Errorf("pool_service: reward pool: %w", err)
		}
		if err := tx.Credit(ctx, domain.RewardPoolVault, amount); err != nil {
			return fmt.Errorf("pool_service: credit reward vault: %w", err)
		}
		if rp.TotalRewardAmount, err = safemath.Add(rp.TotalRewardAmount, amount); err != nil {
			return fmt.Errorf("pool_service: total reward amount: %w", err)
		}
		return tx.SaveRewardPool(ctx, rp)
	})
	if err != nil {
		return domain.RewardPool{}, err
	}
	s.publishPools(nil, &rp)
	s.auditLog(ctx, "rewards_funded", map[string]any{"amount": amount})
	return rp, nil
}

// Vault returns the committed vault of owner.
func (s *PoolService) Vault(ctx context.Context, owner string) (domain.Vault, error) {
	v, err := s.ledger.Vault(ctx, domain.UserVault(owner))
	if err != nil {
		return domain.Vault{}, fmt.Errorf("pool_service: vault %s: %w", owner, err)
	}
	return v, nil
}

// Stats returns both pools and their vault balances.
func (s *PoolService) Stats(ctx context.Context) (PoolStats, error) {
	var (
		stats PoolStats
		err   error
	)
	if stats.Trading, err = s.ledger.TradingPool(ctx); err != nil {
		return PoolStats{}, fmt.Errorf("pool_service: trading pool: %w", err)
	}
	if stats.Reward, err = s.ledger.RewardPool(ctx); err != nil {
		return PoolStats{}, fmt.Errorf("pool_service: reward pool: %w", err)
	}
	tv, err := s.ledger.Vault(ctx, domain.TradingPoolVault)
	if err != nil {
		return PoolStats{}, fmt.Errorf("pool_service: trading vault: %w", err)
	}
	rv, err := s.ledger.Vault(ctx, domain.RewardPoolVault)
	if err != nil {
		return PoolStats{}, fmt.Errorf("pool_service: reward vault: %w", err)
	}
	stats.TradingVaultBalance = tv.Balance
	stats.RewardVaultBalance = rv.Balance
	return stats, nil
}
