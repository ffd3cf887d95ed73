package service

import (
	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// MarginRequirements returns the required and maintenance margin of a
// position of size at price with the given leverage.
func MarginRequirements(size, price, leverage uint64) (required, maintenance uint64, err error) {
	value, err := safemath.Mul(size, price)
	if err != nil {
		return 0, 0, err
	}
	required, err = safemath.Div(value, leverage)
	if err != nil {
		return 0, 0, err
	}
	return required, required / 2, nil
}

// LiquidationPrice derives the price at which maintenance margin is used up.
func LiquidationPrice(side domain.Side, entry, maintenance, size uint64) (uint64, error) {
	offset, err := safemath.Div(maintenance, size)
	if err != nil {
		return 0, err
	}
	if side.IsLong() {
		return safemath.Sub(entry, offset)
	}
	return safemath.Add(entry, offset)
}

// HealthScore is collateral as a percentage of required margin.
func HealthScore(collateral, required uint64) (uint64, error) {
	scaled, err := safemath.Mul(collateral, 100)
	if err != nil {
		return 0, err
	}
	return safemath.Div(scaled, required)
}

// StatusForScore maps a health score to an open status.
func StatusForScore(score uint64, p Params) domain.PositionStatus {
	switch {
	case score > p.HealthyThreshold:
		return domain.PositionStatusHealthy
	case score >= p.WarningThreshold:
		return domain.PositionStatusWarning
	default:
		return domain.PositionStatusLiquidationRisk
	}
}

// PriceDiff is the directional price move: current-entry for longs and
// entry-current for shorts.
func PriceDiff(side domain.Side, entry, current uint64) (int64, error) {
	e, err := safemath.ToInt64(entry)
	if err != nil {
		return 0, err
	}
	c, err := safemath.ToInt64(current)
	if err != nil {
		return 0, err
	}
	if side.IsLong() {
		return safemath.SubInt(c, e)
	}
	return safemath.SubInt(e, c)
}

// UnrealizedPnL is PriceDiff scaled by size.
func UnrealizedPnL(side domain.Side, entry, current, size uint64) (int64, error) {
	diff, err := PriceDiff(side, entry, current)
	if err != nil {
		return 0, err
	}
	s, err := safemath.ToInt64(size)
	if err != nil {
		return 0, err
	}
	return safemath.MulInt(diff, s)
}

// Fees holds the fees charged on close.
type Fees struct {
	Trading uint64
	Closing uint64
	Total   uint64
}

// ClosingFees computes the trading fee on position value and the closing fee
// on size.
func ClosingFees(size, price uint64, p Params) (Fees, error) {
	value, err := safemath.Mul(size, price)
	if err != nil {
		return Fees{}, err
	}
	scaled, err := safemath.Mul(value, p.TradingFeeBps)
	if err != nil {
		return Fees{}, err
	}
	trading := scaled / BasisPoints

	scaled, err = safemath.Mul(size, p.ClosingFeeBps)
	if err != nil {
		return Fees{}, err
	}
	closing := scaled / BasisPoints

	total, err := safemath.Add(trading, closing)
	if err != nil {
		return Fees{}, err
	}
	return Fees{Trading: trading, Closing: closing, Total: total}, nil
}

// DetermineSettlement converts final P&L into the amount paid back and the
// payout as a percentage of collateral. A loss at least as large as the
// collateral is a total loss.
func DetermineSettlement(collateral uint64, finalPnL int64) (amount, payoutPct uint64, err error) {
	if finalPnL >= 0 {
		amount, err = safemath.Add(collateral, uint64(finalPnL))
		if err != nil {
			return 0, 0, err
		}
	} else {
		loss := safemath.Abs(finalPnL)
		if loss >= collateral {
			return 0, 0, nil
		}
		amount = collateral - loss
	}
	payoutPct, err = safemath.MulDiv(amount, 100, collateral)
	if err != nil {
		return 0, 0, err
	}
	return amount, payoutPct, nil
}
