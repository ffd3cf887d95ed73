package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/store/memory"
)

type matchingHarness struct {
	*harness
	orders   *memory.OrderStore
	trades   *memory.TradeStore
	matching *MatchingService
}

func newMatchingHarness(t *testing.T, locks domain.LockManager, cfg MatchingConfig) *matchingHarness {
	t.Helper()
	h := newHarness(t)
	for _, owner := range []string{"bob", "carol"} {
		_, err := h.pools.FundVault(h.ctx, owner, 100_000_000)
		require.NoError(t, err)
	}
	mh := &matchingHarness{
		harness: h,
		orders:  memory.NewOrderStore(),
		trades:  memory.NewTradeStore(),
	}
	mh.matching = NewMatchingService(h.ledger, h.oracle, h.bus, h.audit, mh.orders, mh.trades, h.positions, locks,
		h.params, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mh.matching.SetClock(h.clock.Now)
	return mh
}

// place adds an order whose collateral is 6000 per size unit, 20% above the
// required margin at 10x and the harness price.
func (mh *matchingHarness) place(t *testing.T, owner string, side domain.Side, leverage, amount uint64) domain.Order {
	t.Helper()
	o, err := mh.matching.PlaceOrder(mh.ctx, PlaceOrderRequest{
		Owner: owner, Side: side, Leverage: leverage, Amount: amount, Collateral: amount * 6000,
	})
	require.NoError(t, err)
	return o
}

func (mh *matchingHarness) order(t *testing.T, id uint64) domain.Order {
	t.Helper()
	o, err := mh.orders.GetByID(mh.ctx, id)
	require.NoError(t, err)
	return o
}

func TestMatchingService_PartialFillsInPlacementOrder(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{MinTradeSize: 1000})
	long := mh.place(t, "alice", domain.SideLong, 10, 5000)
	first := mh.place(t, "bob", domain.SideShort, 10, 2000)
	second := mh.place(t, "carol", domain.SideShort, 10, 4000)

	res, err := mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Empty(t, res.Cancelled)

	assert.Equal(t, domain.Trade{
		ID: 1, LongOrderID: long.ID, ShortOrderID: first.ID, LongOwner: "alice", ShortOwner: "bob",
		Leverage: 10, Amount: 2000, ExecutionPrice: 50_000, ExecutedAt: mh.clock.Now(),
	}, res.Trades[0])
	assert.Equal(t, uint64(3000), res.Trades[1].Amount)
	assert.Equal(t, second.ID, res.Trades[1].ShortOrderID)

	assert.Equal(t, domain.OrderStatusFilled, mh.order(t, long.ID).Status)
	assert.Equal(t, domain.OrderStatusFilled, mh.order(t, first.ID).Status)
	rest := mh.order(t, second.ID)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, rest.Status)
	assert.Equal(t, uint64(1000), rest.Remaining())

	// Each fill opened one position per side, keyed by the trade id, with
	// the order's collateral drawn pro rata.
	pos, err := mh.positions.Get(mh.ctx, domain.PositionKey{Owner: "alice", OrderID: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.Equal(t, uint64(3000), pos.Size)
	assert.Equal(t, uint64(18_000_000), pos.Collateral)
	assert.Equal(t, uint64(120), pos.HealthScore)
	pos, err = mh.positions.Get(mh.ctx, domain.PositionKey{Owner: "carol", OrderID: 2})
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.Equal(t, mh.clock.Now().Add(24*time.Hour), pos.ExpiresAt)

	stored, err := mh.matching.ListTrades(mh.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, uint64(2), stored[0].ID)

	again, err := mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Trades, "nothing left on the long side")
}

func TestMatchingService_SkipsFillsBelowMinimum(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{MinTradeSize: 2000})
	long := mh.place(t, "alice", domain.SideLong, 10, 3000)
	mh.place(t, "bob", domain.SideShort, 10, 2000)
	late := mh.place(t, "carol", domain.SideShort, 10, 2000)

	res, err := mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, 1, res.Skipped)

	assert.Equal(t, uint64(1000), mh.order(t, long.ID).Remaining())
	assert.Equal(t, domain.OrderStatusOpen, mh.order(t, late.ID).Status)
}

func TestMatchingService_TiersAndSelfMatches(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{})
	mh.place(t, "alice", domain.SideLong, 10, 2000)
	mh.place(t, "alice", domain.SideShort, 10, 2000)
	mh.place(t, "bob", domain.SideShort, 5, 2000)

	res, err := mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 1, res.Skipped)

	open, err := mh.matching.ListOrders(mh.ctx, domain.OrderFilter{Statuses: domain.OpenOrderStatuses})
	require.NoError(t, err)
	assert.Len(t, open, 3)
}

func TestMatchingService_CancelsUnfundableOrders(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{})
	under, err := mh.matching.PlaceOrder(mh.ctx, PlaceOrderRequest{
		Owner: "alice", Side: domain.SideLong, Leverage: 10, Amount: 2000, Collateral: 5_000_000,
	})
	require.NoError(t, err)
	unfunded := mh.place(t, "dave", domain.SideLong, 10, 2000)
	good := mh.place(t, "carol", domain.SideLong, 10, 2000)
	short := mh.place(t, "bob", domain.SideShort, 10, 2000)

	res, err := mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{under.ID, unfunded.ID}, res.Cancelled)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, good.ID, res.Trades[0].LongOrderID)
	assert.Equal(t, short.ID, res.Trades[0].ShortOrderID)

	assert.Equal(t, domain.OrderStatusCancelled, mh.order(t, under.ID).Status)
	assert.Equal(t, uint64(500_000_000), mh.vaultBalance(t, domain.UserVault("alice")))
}

func TestMatchingService_StalePriceLeavesBookUntouched(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{})
	long := mh.place(t, "alice", domain.SideLong, 10, 2000)
	mh.place(t, "bob", domain.SideShort, 10, 2000)

	mh.clock.Advance(2 * time.Minute)
	_, err := mh.matching.Match(mh.ctx)
	assert.ErrorIs(t, err, domain.ErrStalePriceFeed)
	assert.Equal(t, domain.OrderStatusOpen, mh.order(t, long.ID).Status)
	assert.Equal(t, poolDeposit, mh.tradingPool(t).TotalActiveAmount)
}

func TestMatchingService_PausedPoolEndsCycle(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{})
	long := mh.place(t, "alice", domain.SideLong, 10, 2000)
	mh.place(t, "bob", domain.SideShort, 10, 2000)
	_, err := mh.pools.SetTradingActive(mh.ctx, false)
	require.NoError(t, err)

	res, err := mh.matching.Match(mh.ctx)
	assert.ErrorIs(t, err, domain.ErrProgramPaused)
	assert.Empty(t, res.Cancelled, "a paused pool is not the order's fault")
	assert.Equal(t, domain.OrderStatusOpen, mh.order(t, long.ID).Status)
}

func TestMatchingService_TradeIDSkipsTakenPositionKeys(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{})
	mh.open(t, 1, domain.SideLong, 10, 80_000_000)
	mh.place(t, "alice", domain.SideLong, 10, 2000)
	mh.place(t, "bob", domain.SideShort, 10, 2000)

	res, err := mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, uint64(2), res.Trades[0].ID)

	pos, err := mh.positions.Get(mh.ctx, domain.PositionKey{Owner: "bob", OrderID: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), pos.Size)
	manual, err := mh.positions.Get(mh.ctx, domain.PositionKey{Owner: "alice", OrderID: 1})
	require.NoError(t, err)
	assert.Equal(t, testSize, manual.Size)
}

func TestMatchingService_PlaceAndCancel(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{})

	tests := []struct {
		name string
		req  PlaceOrderRequest
		want error
	}{
		{"no owner", PlaceOrderRequest{Side: domain.SideLong, Leverage: 10, Amount: 2000, Collateral: 1}, domain.ErrUnauthorizedAccess},
		{"bad side", PlaceOrderRequest{Owner: "alice", Side: "up", Leverage: 10, Amount: 2000, Collateral: 1}, domain.ErrInvalidSide},
		{"leverage", PlaceOrderRequest{Owner: "alice", Side: domain.SideLong, Leverage: 101, Amount: 2000, Collateral: 1}, domain.ErrInvalidLeverage},
		{"small", PlaceOrderRequest{Owner: "alice", Side: domain.SideLong, Leverage: 10, Amount: 999, Collateral: 1}, domain.ErrPositionTooSmall},
		{"no collateral", PlaceOrderRequest{Owner: "alice", Side: domain.SideLong, Leverage: 10, Amount: 2000}, domain.ErrInvalidCollateralAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mh.matching.PlaceOrder(mh.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	o := mh.place(t, "alice", domain.SideLong, 10, 2000)
	_, err := mh.matching.CancelOrder(mh.ctx, "bob", o.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorizedAccess)

	cancelled, err := mh.matching.CancelOrder(mh.ctx, "alice", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	_, err = mh.matching.CancelOrder(mh.ctx, "alice", o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotOpen)

	entries, err := mh.audit.List(mh.ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.RecordOrderCancelled, entries[0].Event)
}

func TestMatchingService_LockHeldSkipsCycle(t *testing.T) {
	mh := newMatchingHarness(t, &fakeLocks{err: domain.ErrLockHeld}, MatchingConfig{})
	mh.place(t, "alice", domain.SideLong, 10, 2000)
	mh.place(t, "bob", domain.SideShort, 10, 2000)

	res, err := mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)

	locks := &fakeLocks{}
	mh.matching.locks = locks
	res, err = mh.matching.Match(mh.ctx)
	require.NoError(t, err)
	assert.Len(t, res.Trades, 1)
	assert.Equal(t, []string{MatchingLockKey}, locks.acquired)
	assert.Equal(t, 1, locks.released)
}

func TestMatchingService_RunStopsOnCancel(t *testing.T) {
	mh := newMatchingHarness(t, nil, MatchingConfig{Interval: time.Millisecond})
	mh.place(t, "alice", domain.SideLong, 10, 2000)
	mh.place(t, "bob", domain.SideShort, 10, 2000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mh.matching.Run(ctx) }()

	require.Eventually(t, func() bool {
		trades, err := mh.trades.List(context.Background(), domain.ListOpts{})
		return err == nil && len(trades) == 1
	}, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("matcher did not stop")
	}
}
