package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/oracle"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// OpenRequest carries the caller-supplied fields of a new position.
type OpenRequest struct {
	Owner      string      `json:"owner"`
	OrderID    uint64      `json:"order_id"`
	Side       domain.Side `json:"side"`
	Size       uint64      `json:"size"`
	Leverage   uint64      `json:"leverage"`
	Collateral uint64      `json:"collateral"`
	ExpiresAt  time.Time   `json:"expires_at"`
	// FeedID may be left empty. When set it must name the engine feed.
	FeedID string `json:"feed_id,omitempty"`
}

// PositionService opens positions and serves position reads.
type PositionService struct {
	engine
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	bus domain.SignalBus,
	audit domain.AuditStore,
	params Params,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{engine: newEngine("position_service", ledger, oracle, bus, audit, params, logger)}
}

func (s *PositionService) validate(req OpenRequest, now time.Time) error {
	switch {
	case req.Owner == "":
		return fmt.Errorf("position_service: owner is required: %w", domain.ErrUnauthorizedAccess)
	case !req.Side.Valid():
		return fmt.Errorf("position_service: side %q: %w", req.Side, domain.ErrInvalidSide)
	case req.Leverage < s.params.MinLeverage || req.Leverage > s.params.MaxLeverage:
		return fmt.Errorf("position_service: leverage %d outside [%d,%d]: %w",
			req.Leverage, s.params.MinLeverage, s.params.MaxLeverage, domain.ErrInvalidLeverage)
	case req.Size < s.params.MinPositionSize:
		return fmt.Errorf("position_service: size %d below %d: %w", req.Size, s.params.MinPositionSize, domain.ErrPositionTooSmall)
	case req.FeedID != "" && !s.engineFeed(req.FeedID):
		return fmt.Errorf("position_service: feed %s is not the engine feed %s: %w", req.FeedID, s.params.FeedID, domain.ErrInvalidPriceFeed)
	case req.Collateral == 0:
		return fmt.Errorf("position_service: collateral must be positive: %w", domain.ErrInvalidCollateralAmount)
	case !req.ExpiresAt.After(now):
		return fmt.Errorf("position_service: expires_at %s not after %s: %w",
			req.ExpiresAt.Format(time.RFC3339), now.Format(time.RFC3339), domain.ErrInvalidExpirationTime)
	}
	return nil
}

// engineFeed reports whether id normalizes to the configured reference feed.
func (s *PositionService) engineFeed(id string) bool {
	got, err := oracle.NormalizeFeedID(id)
	if err != nil {
		return false
	}
	want, err := oracle.NormalizeFeedID(s.params.FeedID)
	return err == nil && got == want
}

// Open creates a leveraged position at the current oracle price and escrows
// its collateral in the trading pool vault.
func (s *PositionService) Open(ctx context.Context, req OpenRequest) (pos domain.Position, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("open", start, err) }()

	now := s.now()
	if err := s.validate(req, now); err != nil {
		return domain.Position{}, err
	}

	price, err := s.currentPrice(ctx, s.params.FeedID)
	if err != nil {
		return domain.Position{}, err
	}

	var pool domain.TradingPool
	err = s.ledger.Atomic(ctx, func(tx domain.LedgerTx) error {
		required, maintenance, err := MarginRequirements(req.Size, price, req.Leverage)
		if err != nil {
			return fmt.Errorf("position_service: margin requirements: %w", err)
		}
		liqPrice, err := LiquidationPrice(req.Side, price, maintenance, req.Size)
		if err != nil {
			return fmt.Errorf("position_service: liquidation price: %w", err)
		}
		if req.Collateral < required {
			return fmt.Errorf("position_service: collateral %d below required margin %d: %w",
				req.Collateral, required, domain.ErrInsufficientFunds)
		}
		score, err := HealthScore(req.Collateral, required)
		if err != nil {
			return fmt.Errorf("position_service: health score: %w", err)
		}

		pool, err = tx.TradingPool(ctx)
		if err != nil {
			return fmt.Errorf("position_service: trading pool: %w", err)
		}
		if !pool.IsActive {
			return fmt.Errorf("position_service: trading pool inactive: %w", domain.ErrProgramPaused)
		}

		pos = domain.Position{
			Owner:             req.Owner,
			OrderID:           req.OrderID,
			FeedID:            s.params.FeedID,
			Side:              req.Side,
			Size:              req.Size,
			EntryPrice:        price,
			Collateral:        req.Collateral,
			Leverage:          req.Leverage,
			RequiredMargin:    required,
			MaintenanceMargin: maintenance,
			LiquidationPrice:  liqPrice,
			Status:            domain.PositionStatusActive,
			HealthScore:       score,
			CreatedAt:         now,
			ExpiresAt:         req.ExpiresAt.UTC(),
			LastHealthCheck:   now,
			LastRewardClaim:   now,
		}
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return fmt.Errorf("position_service: insert position %s: %w", pos.Key(), err)
		}

		if err := tx.Transfer(ctx, domain.Transfer{
			From:      domain.UserVault(req.Owner),
			To:        domain.TradingPoolVault,
			Amount:    req.Collateral,
			Authority: domain.UserAuthority(req.Owner),
		}); err != nil {
			return fmt.Errorf("position_service: escrow collateral: %w", err)
		}

		if pool.TotalActiveAmount, err = safemath.Add(pool.TotalActiveAmount, req.Size); err != nil {
			return fmt.Errorf("position_service: total active: %w", err)
		}
		if pool.TotalPoolAmount, err = safemath.Add(pool.TotalPoolAmount, req.Collateral); err != nil {
			return fmt.Errorf("position_service: total pool: %w", err)
		}
		pool.UpdatedAt = now
		return tx.SaveTradingPool(ctx, pool)
	})
	if err != nil {
		return domain.Position{}, err
	}

	s.publishPools(&pool, nil)
	s.emit(ctx, domain.PositionCreated{
		Key:               pos.Key(),
		Side:              pos.Side,
		Size:              pos.Size,
		EntryPrice:        pos.EntryPrice,
		Collateral:        pos.Collateral,
		Leverage:          pos.Leverage,
		RequiredMargin:    pos.RequiredMargin,
		MaintenanceMargin: pos.MaintenanceMargin,
		LiquidationPrice:  pos.LiquidationPrice,
		ExpiresAt:         pos.ExpiresAt,
		At:                now,
	})

	s.logger.InfoContext(ctx, "position_service: position opened",
		slog.String("position", pos.Key().String()),
		slog.String("side", string(pos.Side)),
		slog.Uint64("size", pos.Size),
		slog.Uint64("entry_price", pos.EntryPrice),
		slog.Uint64("leverage", pos.Leverage),
		slog.Uint64("liquidation_price", pos.LiquidationPrice),
	)
	return pos, nil
}

// Get returns a single position.
func (s *PositionService) Get(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	pos, err := s.ledger.GetPosition(ctx, key)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %s: %w", key, err)
	}
	return pos, nil
}

// List returns positions matching filter.
func (s *PositionService) List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	positions, err := s.ledger.ListPositions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("position_service: list: %w", err)
	}
	return positions, nil
}

// OpenPositions returns every open position, oldest first.
func (s *PositionService) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	return s.List(ctx, domain.PositionFilter{Statuses: domain.OpenStatuses})
}
