package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// MatchingLockKey is held for the duration of a match cycle so only one
// replica fills orders at a time.
const MatchingLockKey = "matching:cycle"

// MatchingConfig tunes the order matcher.
type MatchingConfig struct {
	Interval time.Duration
	// MinTradeSize is the smallest fill worth opening.
	MinTradeSize uint64
	// PositionTTL sets the expiry of positions opened from fills.
	PositionTTL time.Duration
	LockTTL     time.Duration
}

// PlaceOrderRequest carries the caller-supplied fields of a new order.
type PlaceOrderRequest struct {
	Owner      string      `json:"owner"`
	Side       domain.Side `json:"side"`
	Leverage   uint64      `json:"leverage"`
	Amount     uint64      `json:"amount"`
	Collateral uint64      `json:"collateral"`
}

// MatchResult summarizes one match cycle.
type MatchResult struct {
	Trades    []domain.Trade `json:"trades"`
	Cancelled []uint64       `json:"cancelled"`
	Skipped   int            `json:"skipped"`
}

// MatchingService keeps the order book and pairs open long and short orders
// of the same leverage tier, oldest first, opening one position per side for
// every fill.
type MatchingService struct {
	engine
	orders    domain.OrderStore
	trades    domain.TradeStore
	positions *PositionService
	locks     domain.LockManager
	cfg       MatchingConfig

	cycle sync.Mutex
}

// NewMatchingService creates a MatchingService. locks may be nil for
// single-replica deployments.
func NewMatchingService(
	ledger domain.Ledger,
	oracle domain.PriceOracle,
	bus domain.SignalBus,
	audit domain.AuditStore,
	orders domain.OrderStore,
	trades domain.TradeStore,
	positions *PositionService,
	locks domain.LockManager,
	params Params,
	cfg MatchingConfig,
	logger *slog.Logger,
) *MatchingService {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Second
	}
	if cfg.MinTradeSize < params.MinPositionSize {
		cfg.MinTradeSize = params.MinPositionSize
	}
	if cfg.PositionTTL <= 0 {
		cfg.PositionTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * cfg.Interval
	}
	return &MatchingService{
		engine:    newEngine("matching_service", ledger, oracle, bus, audit, params, logger),
		orders:    orders,
		trades:    trades,
		positions: positions,
		locks:     locks,
		cfg:       cfg,
	}
}

// PlaceOrder validates req and adds it to the book.
func (s *MatchingService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (order domain.Order, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("place_order", start, err) }()

	switch {
	case req.Owner == "":
		return domain.Order{}, fmt.Errorf("matching_service: owner is required: %w", domain.ErrUnauthorizedAccess)
	case !req.Side.Valid():
		return domain.Order{}, fmt.Errorf("matching_service: side %q: %w", req.Side, domain.ErrInvalidSide)
	case req.Leverage < s.params.MinLeverage || req.Leverage > s.params.MaxLeverage:
		return domain.Order{}, fmt.Errorf("matching_service: leverage %d outside [%d,%d]: %w",
			req.Leverage, s.params.MinLeverage, s.params.MaxLeverage, domain.ErrInvalidLeverage)
	case req.Amount < s.cfg.MinTradeSize:
		return domain.Order{}, fmt.Errorf("matching_service: amount %d below %d: %w", req.Amount, s.cfg.MinTradeSize, domain.ErrPositionTooSmall)
	case req.Collateral == 0:
		return domain.Order{}, fmt.Errorf("matching_service: collateral must be positive: %w", domain.ErrInvalidCollateralAmount)
	}

	now := s.now()
	order, err = s.orders.Create(ctx, domain.Order{
		Owner:      req.Owner,
		Side:       req.Side,
		Leverage:   req.Leverage,
		Amount:     req.Amount,
		Collateral: req.Collateral,
		Status:     domain.OrderStatusOpen,
		CreatedAt:  now,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("matching_service: create order: %w", err)
	}

	s.emit(ctx, domain.OrderPlaced{Order: order, At: now})
	s.logger.InfoContext(ctx, "matching_service: order placed",
		slog.Uint64("order", order.ID),
		slog.String("owner", order.Owner),
		slog.String("side", string(order.Side)),
		slog.Uint64("leverage", order.Leverage),
		slog.Uint64("amount", order.Amount),
	)
	return order, nil
}

// CancelOrder withdraws an open order. owner must match the order's owner.
func (s *MatchingService) CancelOrder(ctx context.Context, owner string, id uint64) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("matching_service: get order %d: %w", id, err)
	}
	if order.Owner != owner {
		return domain.Order{}, fmt.Errorf("matching_service: order %d belongs to another owner: %w", id, domain.ErrUnauthorizedAccess)
	}
	order, err = s.orders.Cancel(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("matching_service: cancel order %d: %w", id, err)
	}
	s.emit(ctx, domain.OrderCancelled{
		OrderID:   order.ID,
		Owner:     order.Owner,
		Remaining: order.Remaining(),
		Reason:    "cancelled by owner",
		At:        s.now(),
	})
	return order, nil
}

// GetOrder returns a single order.
func (s *MatchingService) GetOrder(ctx context.Context, id uint64) (domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("matching_service: get order %d: %w", id, err)
	}
	return order, nil
}

// ListOrders returns orders matching filter in placement order.
func (s *MatchingService) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("matching_service: list orders: %w", err)
	}
	return orders, nil
}

// ListTrades returns executed matches, newest first.
func (s *MatchingService) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("matching_service: list trades: %w", err)
	}
	return trades, nil
}

// Run matches immediately and then on every interval until ctx is done.
func (s *MatchingService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "order matcher started", slog.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if res, err := s.Match(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "match cycle failed", slog.String("error", err.Error()))
		} else if len(res.Trades) > 0 {
			s.logger.InfoContext(ctx, "match cycle complete",
				slog.Int("trades", len(res.Trades)),
				slog.Int("cancelled", len(res.Cancelled)),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// book holds one leverage tier's open orders, oldest first.
type book struct {
	longs, shorts []domain.Order
}

// Match runs one cycle over the open orders. Trades matched before a failure
// stay recorded.
func (s *MatchingService) Match(ctx context.Context) (res MatchResult, err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveOperation("match", start, err) }()

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, MatchingLockKey, s.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.DebugContext(ctx, "match cycle skipped, lock held elsewhere")
				return MatchResult{}, nil
			}
			return MatchResult{}, fmt.Errorf("matching_service: acquire lock: %w", err)
		}
		defer unlock()
	}
	s.cycle.Lock()
	defer s.cycle.Unlock()

	open, err := s.orders.List(ctx, domain.OrderFilter{Statuses: domain.OpenOrderStatuses})
	if err != nil {
		return MatchResult{}, fmt.Errorf("matching_service: list open orders: %w", err)
	}
	books := make(map[uint64]*book)
	for _, o := range open {
		b := books[o.Leverage]
		if b == nil {
			b = &book{}
			books[o.Leverage] = b
		}
		if o.Side.IsLong() {
			b.longs = append(b.longs, o)
		} else {
			b.shorts = append(b.shorts, o)
		}
	}
	tiers := make([]uint64, 0, len(books))
	for lev, b := range books {
		if len(b.longs) > 0 && len(b.shorts) > 0 {
			tiers = append(tiers, lev)
		}
	}
	if len(tiers) == 0 {
		return MatchResult{}, nil
	}
	slices.Sort(tiers)

	price, err := s.currentPrice(ctx, s.params.FeedID)
	if err != nil {
		return MatchResult{}, err
	}

	defer func() {
		if len(res.Trades) == 0 {
			return
		}
		if insErr := s.trades.InsertBatch(ctx, res.Trades); insErr != nil {
			err = errors.Join(err, fmt.Errorf("matching_service: record trades: %w", insErr))
			return
		}
		for _, t := range res.Trades {
			s.metrics.RecordTrade(t)
			s.emit(ctx, domain.TradeExecuted{Trade: t})
		}
	}()

	for _, lev := range tiers {
		b := books[lev]
		slices.SortFunc(b.longs, byID)
		slices.SortFunc(b.shorts, byID)
		if err := s.matchTier(ctx, lev, b, price, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func byID(a, b domain.Order) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// matchTier walks the longs and shorts of one tier in ID order. A fill takes
// the smaller remainder of the pair; pairs below the minimum trade size or
// with the same owner are passed over.
func (s *MatchingService) matchTier(ctx context.Context, leverage uint64, b *book, price uint64, res *MatchResult) error {
	li, si := 0, 0
	for li < len(b.longs) && si < len(b.shorts) {
		long, short := &b.longs[li], &b.shorts[si]
		if matchable(*long) == 0 {
			li++
			continue
		}
		if matchable(*short) == 0 {
			si++
			continue
		}

		fill := min(matchable(*long), matchable(*short))
		if fill < s.cfg.MinTradeSize || long.Owner == short.Owner {
			res.Skipped++
			switch {
			case si < len(b.shorts)-1:
				si++
			case li < len(b.longs)-1:
				li++
				si = 0
			default:
				return nil
			}
			continue
		}

		now := s.now()
		longReq, err := s.legRequest(ctx, *long, fill, price, now)
		if err != nil {
			if cerr := s.rejectLeg(ctx, long, err, res); cerr != nil {
				return cerr
			}
			li++
			continue
		}
		shortReq, err := s.legRequest(ctx, *short, fill, price, now)
		if err != nil {
			if cerr := s.rejectLeg(ctx, short, err, res); cerr != nil {
				return cerr
			}
			si++
			continue
		}

		tradeID, err := s.reserveTradeID(ctx, long.Owner, short.Owner)
		if err != nil {
			return err
		}
		longReq.OrderID, shortReq.OrderID = tradeID, tradeID

		if _, err := s.positions.Open(ctx, longReq); err != nil {
			if cerr := s.rejectLeg(ctx, long, err, res); cerr != nil {
				return cerr
			}
			li++
			continue
		}
		if err := s.recordFill(ctx, long, fill); err != nil {
			return err
		}
		if _, err := s.positions.Open(ctx, shortReq); err != nil {
			s.logger.ErrorContext(ctx, "matching_service: short leg failed after long leg opened",
				slog.Uint64("trade", tradeID),
				slog.Uint64("long_order", long.ID),
				slog.Uint64("short_order", short.ID),
				slog.String("error", err.Error()),
			)
			if cerr := s.rejectLeg(ctx, short, err, res); cerr != nil {
				return cerr
			}
			si++
			continue
		}
		if err := s.recordFill(ctx, short, fill); err != nil {
			return err
		}

		res.Trades = append(res.Trades, domain.Trade{
			ID:             tradeID,
			LongOrderID:    long.ID,
			ShortOrderID:   short.ID,
			LongOwner:      long.Owner,
			ShortOwner:     short.Owner,
			Leverage:       leverage,
			Amount:         fill,
			ExecutionPrice: price,
			ExecutedAt:     now,
		})
		s.logger.InfoContext(ctx, "matching_service: orders matched",
			slog.Uint64("trade", tradeID),
			slog.Uint64("long_order", long.ID),
			slog.Uint64("short_order", short.ID),
			slog.Uint64("amount", fill),
			slog.Uint64("price", price),
		)

		if matchable(*long) == 0 {
			li++
		}
		if matchable(*short) == 0 {
			si++
		}
	}
	return nil
}

// maxTradeIDAttempts bounds the search for a trade id that neither owner
// already uses as a position order id.
const maxTradeIDAttempts = 16

// reserveTradeID takes the next trade id not already keying a position of
// either owner. Positions opened directly through the API share that key
// space.
func (s *MatchingService) reserveTradeID(ctx context.Context, owners ...string) (uint64, error) {
	for range maxTradeIDAttempts {
		id, err := s.trades.NextID(ctx)
		if err != nil {
			return 0, fmt.Errorf("matching_service: reserve trade id: %w", err)
		}
		free := true
		for _, owner := range owners {
			_, err := s.ledger.GetPosition(ctx, domain.PositionKey{Owner: owner, OrderID: id})
			switch {
			case err == nil:
				free = false
			case !errors.Is(err, domain.ErrNotFound):
				return 0, fmt.Errorf("matching_service: look up position %s/%d: %w", owner, id, err)
			}
		}
		if free {
			return id, nil
		}
	}
	return 0, fmt.Errorf("matching_service: no free trade id after %d attempts: %w", maxTradeIDAttempts, domain.ErrAlreadyExists)
}

// matchable is what is left to fill of an order still in the book.
func matchable(o domain.Order) uint64 {
	if !o.Status.IsOpen() {
		return 0
	}
	return o.Remaining()
}

// legRequest sizes the position one side of a fill opens: the fill amount
// with the order's collateral drawn pro rata. It fails early when that
// collateral cannot cover the margin at price or the owner's vault cannot
// fund it.
func (s *MatchingService) legRequest(ctx context.Context, o domain.Order, fill, price uint64, now time.Time) (OpenRequest, error) {
	collateral, err := safemath.MulDiv(o.Collateral, fill, o.Amount)
	if err != nil {
		return OpenRequest{}, fmt.Errorf("matching_service: order %d collateral share: %w", o.ID, err)
	}
	required, _, err := MarginRequirements(fill, price, o.Leverage)
	if err != nil {
		return OpenRequest{}, fmt.Errorf("matching_service: order %d margin: %w", o.ID, err)
	}
	if collateral < required {
		return OpenRequest{}, fmt.Errorf("matching_service: order %d collateral %d below required margin %d: %w",
			o.ID, collateral, required, domain.ErrInsufficientFunds)
	}
	vault, err := s.ledger.Vault(ctx, domain.UserVault(o.Owner))
	if err != nil {
		return OpenRequest{}, fmt.Errorf("matching_service: order %d vault: %w", o.ID, err)
	}
	if vault.Balance < collateral {
		return OpenRequest{}, fmt.Errorf("matching_service: order %d needs %d, vault holds %d: %w",
			o.ID, collateral, vault.Balance, domain.ErrInsufficientVaultBalance)
	}
	return OpenRequest{
		Owner:      o.Owner,
		Side:       o.Side,
		Size:       fill,
		Leverage:   o.Leverage,
		Collateral: collateral,
		ExpiresAt:  now.Add(s.cfg.PositionTTL),
	}, nil
}

// rejectLeg cancels an order whose position can never open. Errors that may
// clear on their own, such as a stale price or a paused pool, end the cycle
// instead.
func (s *MatchingService) rejectLeg(ctx context.Context, o *domain.Order, cause error, res *MatchResult) error {
	switch domain.KindOf(cause) {
	case domain.KindValidation, domain.KindInsufficientFunds, domain.KindUnauthorized, domain.KindNotFound, domain.KindArithmetic:
	default:
		return cause
	}

	cancelled, err := s.orders.Cancel(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("matching_service: cancel order %d: %w", o.ID, err)
	}
	*o = cancelled
	res.Cancelled = append(res.Cancelled, o.ID)
	s.logger.WarnContext(ctx, "matching_service: order cancelled",
		slog.Uint64("order", o.ID),
		slog.String("owner", o.Owner),
		slog.String("reason", cause.Error()),
	)
	s.emit(ctx, domain.OrderCancelled{
		OrderID:   o.ID,
		Owner:     o.Owner,
		Remaining: o.Remaining(),
		Reason:    cause.Error(),
		At:        s.now(),
	})
	return nil
}

func (s *MatchingService) recordFill(ctx context.Context, o *domain.Order, fill uint64) error {
	filled, err := safemath.Add(o.FilledAmount, fill)
	if err != nil {
		return fmt.Errorf("matching_service: order %d fill: %w", o.ID, err)
	}
	status := domain.OrderStatusPartiallyFilled
	if filled >= o.Amount {
		status = domain.OrderStatusFilled
	}
	if err := s.orders.UpdateFill(ctx, o.ID, filled, status); err != nil {
		return fmt.Errorf("matching_service: record fill of order %d: %w", o.ID, err)
	}
	o.FilledAmount = filled
	o.Status = status
	return nil
}
