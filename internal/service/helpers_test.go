package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/oracle"
	"github.com/alanyoungcy/vaultbot/internal/store/memory"
)

const (
	testSize     = uint64(10_000)
	testPrice    = int64(50_000)
	poolDeposit  = uint64(1_000_000_000)
	rewardSupply = uint64(1_000_000)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingBus struct {
	mu        sync.Mutex
	published []string
	streamed  int
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, string(payload))
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) StreamAppend(context.Context, string, []byte) error {
	b.mu.Lock()
	b.streamed++
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type harness struct {
	ctx        context.Context
	clock      *testClock
	ledger     *memory.Ledger
	oracle     *oracle.Static
	audit      *memory.AuditStore
	bus        *recordingBus
	params     Params
	positions  *PositionService
	health     *HealthService
	settlement *SettlementService
	rewards    *RewardService
	pools      *PoolService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithPools(t, InitPoolsRequest{
		TradingDeposit: poolDeposit,
		RewardDeposit:  rewardSupply,
		BaseRewardRate: 10,
	})
}

func newHarnessWithPools(t *testing.T, pools InitPoolsRequest) *harness {
	t.Helper()
	h := &harness{
		ctx:    context.Background(),
		clock:  &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		ledger: memory.NewLedger(),
		oracle: oracle.NewStatic(),
		audit:  memory.NewAuditStore(),
		bus:    &recordingBus{},
		params: DefaultParams(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.oracle.SetClock(h.clock.Now)
	h.oracle.SetPrice(h.params.FeedID, testPrice)

	h.positions = NewPositionService(h.ledger, h.oracle, h.bus, h.audit, h.params, logger)
	h.health = NewHealthService(h.ledger, h.oracle, h.bus, h.audit, h.params, logger)
	h.settlement = NewSettlementService(h.ledger, h.oracle, h.bus, h.audit, h.params, logger)
	h.rewards = NewRewardService(h.ledger, h.oracle, h.bus, h.audit, h.params, logger)
	h.pools = NewPoolService(h.ledger, h.bus, h.audit, h.params, logger)
	for _, e := range []*engine{&h.positions.engine, &h.health.engine, &h.settlement.engine, &h.rewards.engine, &h.pools.engine} {
		e.SetClock(h.clock.Now)
	}

	_, err := h.pools.InitPools(h.ctx, pools)
	require.NoError(t, err)
	_, err = h.pools.FundVault(h.ctx, "alice", 500_000_000)
	require.NoError(t, err)
	return h
}

// setPrice publishes a fresh, verified price at the current test time.
func (h *harness) setPrice(price int64) {
	h.oracle.SetPrice(h.params.FeedID, price)
}

func (h *harness) open(t *testing.T, orderID uint64, side domain.Side, leverage, collateral uint64) domain.Position {
	t.Helper()
	pos, err := h.positions.Open(h.ctx, OpenRequest{
		Owner:      "alice",
		OrderID:    orderID,
		Side:       side,
		Size:       testSize,
		Leverage:   leverage,
		Collateral: collateral,
		ExpiresAt:  h.clock.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return pos
}

func (h *harness) vaultBalance(t *testing.T, id domain.AccountID) uint64 {
	t.Helper()
	v, err := h.ledger.Vault(h.ctx, id)
	require.NoError(t, err)
	return v.Balance
}

func (h *harness) tradingPool(t *testing.T) domain.TradingPool {
	t.Helper()
	tp, err := h.ledger.TradingPool(h.ctx)
	require.NoError(t, err)
	return tp
}
