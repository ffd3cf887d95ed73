package service

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

func TestMarginRequirements(t *testing.T) {
	tests := []struct {
		leverage    uint64
		required    uint64
		maintenance uint64
	}{
		{1, 500_000_000, 250_000_000},
		{10, 50_000_000, 25_000_000},
		{100, 5_000_000, 2_500_000},
	}
	for _, tt := range tests {
		required, maintenance, err := MarginRequirements(10_000, 50_000, tt.leverage)
		require.NoError(t, err)
		assert.Equal(t, tt.required, required, "leverage %d", tt.leverage)
		assert.Equal(t, tt.maintenance, maintenance, "leverage %d", tt.leverage)
	}

	_, _, err := MarginRequirements(math.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, domain.ErrMathOverflow)

	_, _, err = MarginRequirements(1, 1, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestLiquidationPrice(t *testing.T) {
	long, err := LiquidationPrice(domain.SideLong, 50_000, 25_000_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(47_500), long)

	short, err := LiquidationPrice(domain.SideShort, 50_000, 25_000_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(52_500), short)

	// Integer division truncates the offset.
	truncated, err := LiquidationPrice(domain.SideLong, 100, 999, 1_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), truncated)

	_, err = LiquidationPrice(domain.SideLong, 1, 10_000, 1)
	assert.ErrorIs(t, err, domain.ErrMathOverflow)
}

func TestStatusForScore(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		score uint64
		want  domain.PositionStatus
	}{
		{500, domain.PositionStatusHealthy},
		{151, domain.PositionStatusHealthy},
		// 150 is not strictly above the healthy threshold.
		{150, domain.PositionStatusWarning},
		{149, domain.PositionStatusWarning},
		{120, domain.PositionStatusWarning},
		{119, domain.PositionStatusLiquidationRisk},
		{0, domain.PositionStatusLiquidationRisk},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForScore(tt.score, p), "score %d", tt.score)
	}
}

func TestHealthScore(t *testing.T) {
	score, err := HealthScore(60_000_000, 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), score)

	_, err = HealthScore(1, 0)
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)
}

func TestUnrealizedPnL(t *testing.T) {
	pnl, err := UnrealizedPnL(domain.SideLong, 50_000, 51_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), pnl)

	pnl, err = UnrealizedPnL(domain.SideShort, 50_000, 51_000, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(-10_000_000), pnl)

	_, err = UnrealizedPnL(domain.SideLong, 0, math.MaxInt64, 2)
	assert.ErrorIs(t, err, domain.ErrMathOverflow)
}

func TestClosingFees(t *testing.T) {
	fees, err := ClosingFees(10_000, 50_000, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, Fees{Trading: 500_000, Closing: 5, Total: 500_005}, fees)
}

func TestDetermineSettlement(t *testing.T) {
	tests := []struct {
		name       string
		collateral uint64
		pnl        int64
		amount     uint64
		payout     uint64
	}{
		{"profit", 80_000_000, 9_489_995, 89_489_995, 111},
		{"break even", 1_000, 0, 1_000, 100},
		{"double", 1_000, 1_000, 2_000, 200},
		{"partial loss", 80_000_000, -500_005, 79_499_995, 99},
		{"loss equal to collateral", 1_000, -1_000, 0, 0},
		{"total loss", 1_000, -5_000, 0, 0},
		{"min int loss", 1_000, math.MinInt64, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, payout, err := DetermineSettlement(tt.collateral, tt.pnl)
			require.NoError(t, err)
			assert.Equal(t, tt.amount, amount)
			assert.Equal(t, tt.payout, payout)
		})
	}

	_, _, err := DetermineSettlement(math.MaxUint64, 1)
	assert.ErrorIs(t, err, domain.ErrMathOverflow)
}

func TestTimeReward(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		elapsed time.Duration
		want    uint64
	}{
		{-time.Hour, 0},
		{0, 0},
		{3599 * time.Second, 0},
		{3600 * time.Second, 10},
		{2*time.Hour + 59*time.Minute, 20},
		{24 * time.Hour, 240},
	}
	for _, tt := range tests {
		got, err := TimeReward(10_000, 10, start, start.Add(tt.elapsed))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "elapsed %s", tt.elapsed)
	}
}

func TestPerformanceReward(t *testing.T) {
	settled := func(payout uint64) domain.Position {
		return domain.Position{
			Size:       1_000,
			Status:     domain.PositionStatusSettled,
			Settlement: &domain.SettlementData{PayoutPercentage: payout},
		}
	}
	tests := []struct {
		name string
		pos  domain.Position
		want uint64
	}{
		{"healthy", domain.Position{Size: 1_000, Status: domain.PositionStatusHealthy}, 3_750},
		{"warning", domain.Position{Size: 1_000, Status: domain.PositionStatusWarning}, 2_500},
		{"liquidation risk", domain.Position{Size: 1_000, Status: domain.PositionStatusLiquidationRisk}, 1_250},
		{"active", domain.Position{Size: 1_000, Status: domain.PositionStatusActive}, 2_500},
		{"settled winner", settled(150), 5_000},
		{"settled at par", settled(100), 0},
		{"settled loser", settled(40), 0},
		{"settled without data", domain.Position{Size: 1_000, Status: domain.PositionStatusSettled}, 2_500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PerformanceReward(tt.pos, 4_000, 10_000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := PerformanceReward(domain.Position{Size: 1_000, Status: domain.PositionStatusHealthy}, 0, 10_000)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.MinLeverage = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.WarningThreshold = 200
	assert.Error(t, p.Validate())
}
