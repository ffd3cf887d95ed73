package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

func TestSettlementService_CloseAtEntryPriceCostsFees(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 10, 80_000_000)

	out, err := h.settlement.Close(h.ctx, pos.Key())
	require.NoError(t, err)

	assert.Equal(t, Fees{Trading: 500_000, Closing: 5, Total: 500_005}, out.Fees)
	assert.Zero(t, out.RawPnL)
	assert.Equal(t, -int64(out.Fees.Total), out.FinalPnL)
	assert.Equal(t, uint64(79_499_995), out.SettlementAmount)
	assert.Equal(t, uint64(99), out.PayoutPercentage)
	assert.False(t, out.Profitable)

	got := out.Position
	assert.Equal(t, domain.PositionStatusSettled, got.Status)
	require.NotNil(t, got.Settlement)
	assert.Equal(t, h.clock.Now(), got.Settlement.SettledAt)
	assert.Equal(t, uint64(50_000), got.Settlement.FinalPrice)
	assert.Equal(t, uint64(99), got.Settlement.PayoutPercentage)

	assert.Equal(t, uint64(420_000_000+79_499_995), h.vaultBalance(t, domain.UserVault("alice")))
	tp := h.tradingPool(t)
	assert.Equal(t, poolDeposit, tp.TotalActiveAmount)
	assert.Equal(t, poolDeposit+80_000_000-79_499_995, tp.TotalPoolAmount)
	assert.Equal(t, uint64(500_005), tp.TotalFeesCollected)
}

func TestSettlementService_CloseProfit(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 10, 80_000_000)

	h.setPrice(51_000)
	out, err := h.settlement.Close(h.ctx, pos.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), out.RawPnL)
	assert.Equal(t, int64(9_489_995), out.FinalPnL)
	assert.Equal(t, uint64(89_489_995), out.SettlementAmount)
	assert.Equal(t, uint64(111), out.PayoutPercentage)
	assert.True(t, out.Profitable)
}

func TestSettlementService_CloseShortGain(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideShort, 10, 80_000_000)

	h.setPrice(49_000)
	out, err := h.settlement.Close(h.ctx, pos.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), out.RawPnL)
	// trading fee on 10_000 * 49_000
	assert.Equal(t, uint64(490_005), out.Fees.Total)
	assert.Equal(t, int64(9_509_995), out.FinalPnL)
}

func TestSettlementService_TotalLoss(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 10, 50_000_000)
	userBefore := h.vaultBalance(t, domain.UserVault("alice"))
	vaultBefore := h.vaultBalance(t, domain.TradingPoolVault)

	h.setPrice(40_000)
	out, err := h.settlement.Close(h.ctx, pos.Key())
	require.NoError(t, err)
	assert.Zero(t, out.SettlementAmount)
	assert.Zero(t, out.PayoutPercentage)
	assert.Equal(t, uint64(0), out.Position.Settlement.PayoutPercentage)

	assert.Equal(t, userBefore, h.vaultBalance(t, domain.UserVault("alice")))
	assert.Equal(t, vaultBefore, h.vaultBalance(t, domain.TradingPoolVault))
}

func TestSettlementService_CloseTerminal(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 10, 60_000_000)
	_, err := h.settlement.Close(h.ctx, pos.Key())
	require.NoError(t, err)

	_, err = h.settlement.Close(h.ctx, pos.Key())
	assert.ErrorIs(t, err, domain.ErrPositionAlreadySettled)
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestSettlementService_CloseStaleLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 10, 60_000_000)
	before := h.tradingPool(t)

	h.clock.Advance(2 * time.Minute)
	_, err := h.settlement.Close(h.ctx, pos.Key())
	assert.ErrorIs(t, err, domain.ErrStalePriceFeed)

	stored, err := h.positions.Get(h.ctx, pos.Key())
	require.NoError(t, err)
	assert.Equal(t, pos, stored)
	assert.Equal(t, before, h.tradingPool(t))
}

func TestSettlementService_CloseShortOfPoolFunds(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 1, 500_000_000)

	// A 5x rally pays far more than the pool vault holds.
	h.setPrice(250_000)
	_, err := h.settlement.Close(h.ctx, pos.Key())
	assert.ErrorIs(t, err, domain.ErrInsufficientPoolBalance)

	stored, err := h.positions.Get(h.ctx, pos.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, stored.Status)
}

func TestSettlementService_Liquidate(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 10, 60_000_000)

	_, err := h.settlement.Liquidate(h.ctx, pos.Key())
	assert.ErrorIs(t, err, domain.ErrInvalidPositionStatus, "active positions cannot be liquidated")

	h.setPrice(60_000)
	_, err = h.health.Check(h.ctx, pos.Key())
	require.NoError(t, err)

	got, err := h.settlement.Liquidate(h.ctx, pos.Key())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusLiquidated, got.Status)
	require.NotNil(t, got.Settlement)
	assert.Zero(t, got.Settlement.PayoutPercentage)
	assert.Equal(t, uint64(60_000), got.Settlement.FinalPrice)
	assert.Equal(t, poolDeposit, h.tradingPool(t).TotalActiveAmount)

	_, err = h.settlement.Close(h.ctx, pos.Key())
	assert.ErrorIs(t, err, domain.ErrPositionLiquidated)
}

func TestSettlementService_LiquidateRecovered(t *testing.T) {
	h := newHarness(t)
	pos := h.open(t, 1, domain.SideLong, 10, 60_000_000)
	h.setPrice(60_000)
	_, err := h.health.Check(h.ctx, pos.Key())
	require.NoError(t, err)

	h.setPrice(45_000)
	_, err = h.settlement.Liquidate(h.ctx, pos.Key())
	assert.ErrorIs(t, err, domain.ErrInvalidPositionStatus)
}
