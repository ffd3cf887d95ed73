package service

import (
	"fmt"
	"time"
)

// BasisPoints is the denominator for every bps-denominated constant.
const BasisPoints uint64 = 10_000

// DefaultFeedID is the Pyth BTC/USD price feed.
const DefaultFeedID = "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"

// Params holds the engine constants. Changing them changes payouts, so the
// defaults match the deployed program exactly.
type Params struct {
	FeedID               string
	MaxPriceAge          time.Duration
	TradingFeeBps        uint64
	ClosingFeeBps        uint64
	MinPositionSize      uint64
	MinLeverage          uint64
	MaxLeverage          uint64
	HealthyThreshold     uint64
	WarningThreshold     uint64
	LiquidationThreshold uint64 // informational; the status branch uses WarningThreshold
	BaseRewardRateBps    uint64
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		FeedID:               DefaultFeedID,
		MaxPriceAge:          60 * time.Second,
		TradingFeeBps:        10,
		ClosingFeeBps:        5,
		MinPositionSize:      1000,
		MinLeverage:          1,
		MaxLeverage:          100,
		HealthyThreshold:     150,
		WarningThreshold:     120,
		LiquidationThreshold: 110,
		BaseRewardRateBps:    10,
	}
}

// Validate rejects parameter sets the engine cannot run with.
func (p Params) Validate() error {
	switch {
	case p.MaxPriceAge <= 0:
		return fmt.Errorf("service: max price age must be positive")
	case p.TradingFeeBps > BasisPoints || p.ClosingFeeBps > BasisPoints:
		return fmt.Errorf("service: fees must not exceed %d bps", BasisPoints)
	case p.MinLeverage == 0 || p.MinLeverage > p.MaxLeverage:
		return fmt.Errorf("service: leverage range [%d,%d] is invalid", p.MinLeverage, p.MaxLeverage)
	case p.WarningThreshold > p.HealthyThreshold:
		return fmt.Errorf("service: warning threshold %d above healthy threshold %d", p.WarningThreshold, p.HealthyThreshold)
	case p.MinPositionSize == 0:
		return fmt.Errorf("service: min position size must be positive")
	}
	return nil
}
