package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusActive          PositionStatus = "active"
	PositionStatusHealthy         PositionStatus = "healthy"
	PositionStatusWarning         PositionStatus = "warning"
	PositionStatusLiquidationRisk PositionStatus = "liquidation_risk"
	PositionStatusSettled         PositionStatus = "settled"
	PositionStatusLiquidated      PositionStatus = "liquidated"
)

// IsOpen reports whether the status belongs to the open cycle
// (Active, Healthy, Warning, LiquidationRisk).
func (s PositionStatus) IsOpen() bool {
	switch s {
	case PositionStatusActive, PositionStatusHealthy, PositionStatusWarning, PositionStatusLiquidationRisk:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status can no longer change.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionStatusSettled || s == PositionStatusLiquidated
}

// Valid reports whether s is one of the known statuses.
func (s PositionStatus) Valid() bool {
	return s.IsOpen() || s.IsTerminal()
}

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// IsLong reports whether the side is long.
func (s Side) IsLong() bool { return s == SideLong }

// Valid reports whether s is long or short.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// PositionKey identifies a position: one per (owner, order id).
type PositionKey struct {
	Owner   string `json:"owner"`
	OrderID uint64 `json:"order_id"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%d", k.Owner, k.OrderID)
}

// SettlementData is attached to a position when it is settled or liquidated.
// A nil *SettlementData means the position was never settled.
type SettlementData struct {
	SettledAt        time.Time `json:"settled_at"`
	FinalPrice       uint64    `json:"final_price"`
	PayoutPercentage uint64    `json:"payout_percentage"`
	FinalPnL         int64     `json:"final_pnl"`
	SettlementAmount uint64    `json:"settlement_amount"`
	TotalFees        uint64    `json:"total_fees"`
}

// Position is a single leveraged directional exposure. All amounts are in
// the smallest unit of the collateral asset; prices are raw oracle mantissas.
type Position struct {
	Owner   string `json:"owner"`
	OrderID uint64 `json:"order_id"`
	FeedID  string `json:"feed_id"`
	Side    Side   `json:"side"`

	Size              uint64 `json:"size"`
	EntryPrice        uint64 `json:"entry_price"`
	Collateral        uint64 `json:"collateral"`
	Leverage          uint64 `json:"leverage"`
	RequiredMargin    uint64 `json:"required_margin"`
	MaintenanceMargin uint64 `json:"maintenance_margin"`
	LiquidationPrice  uint64 `json:"liquidation_price"`

	Status        PositionStatus `json:"status"`
	HealthScore   uint64         `json:"health_score"`
	UnrealizedPnL int64          `json:"unrealized_pnl"`

	ClaimableRewards   uint64 `json:"claimable_rewards"`
	TotalRewardsEarned uint64 `json:"total_rewards_earned"`
	IsClaimed          bool   `json:"is_claimed"`

	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	LastRewardClaim time.Time `json:"last_reward_claim"`

	Settlement *SettlementData `json:"settlement,omitempty"`
}

// Key returns the composite key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Owner: p.Owner, OrderID: p.OrderID}
}

// IsExpired reports whether the position has reached its expiry.
func (p Position) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PositionFilter narrows ListPositions queries. Zero values match everything.
type PositionFilter struct {
	Owner    string
	Statuses []PositionStatus
	Before   *time.Time // created_at strictly before
	Limit    int
	Offset   int
}

// Matches reports whether p satisfies the filter (Limit/Offset excluded).
func (f PositionFilter) Matches(p Position) bool {
	if f.Owner != "" && p.Owner != f.Owner {
		return false
	}
	if f.Before != nil && !p.CreatedAt.Before(*f.Before) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if p.Status == s {
			return true
		}
	}
	return false
}

// OpenStatuses lists every status of the open cycle.
var OpenStatuses = []PositionStatus{
	PositionStatusActive,
	PositionStatusHealthy,
	PositionStatusWarning,
	PositionStatusLiquidationRisk,
}
