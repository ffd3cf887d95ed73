package service

import (
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// TimeReward accrues rate bps of size per full hour between last and now.
// Partial hours are not prorated.
func TimeReward(size, rateBps uint64, last, now time.Time) (uint64, error) {
	hours := int64(now.Sub(last) / time.Hour)
	if hours <= 0 {
		return 0, nil
	}
	perHour, err := safemath.Mul(rateBps, uint64(hours))
	if err != nil {
		return 0, err
	}
	return safemath.MulDiv(size, perHour, BasisPoints)
}

// PerformanceMultiplier returns the status multiplier in percent.
func PerformanceMultiplier(pos domain.Position) uint64 {
	switch pos.Status {
	case domain.PositionStatusHealthy:
		return 150
	case domain.PositionStatusWarning:
		return 100
	case domain.PositionStatusLiquidationRisk:
		return 50
	case domain.PositionStatusSettled:
		if pos.Settlement == nil {
			return 100
		}
		if pos.Settlement.PayoutPercentage > 100 {
			return 200
		}
		return 0
	default:
		return 100
	}
}

// PerformanceReward pays the position's share of the performance pool,
// scaled by its status multiplier.
func PerformanceReward(pos domain.Position, totalActive, performancePool uint64) (uint64, error) {
	var shareBps uint64
	if totalActive > 0 {
		var err error
		shareBps, err = safemath.MulDiv(pos.Size, BasisPoints, totalActive)
		if err != nil {
			return 0, err
		}
	}
	scaled, err := safemath.Mul(performancePool, shareBps)
	if err != nil {
		return 0, err
	}
	base := scaled / BasisPoints
	scaled, err = safemath.Mul(base, PerformanceMultiplier(pos))
	if err != nil {
		return 0, err
	}
	return scaled / 100, nil
}
