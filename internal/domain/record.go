package domain

import "time"

// Record names emitted by the engines.
const (
	RecordPositionCreated    = "position_created"
	RecordHealthUpdated      = "health_updated"
	RecordLiquidationRisk    = "liquidation_risk"
	RecordPositionMetrics    = "position_metrics"
	RecordPositionClosed     = "position_closed"
	RecordPositionLiquidated = "position_liquidated"
	RecordPositionClaimed    = "position_claimed"
	RecordRewardsClaimed     = "rewards_claimed"
	RecordOrderPlaced        = "order_placed"
	RecordOrderCancelled     = "order_cancelled"
	RecordTradeExecuted      = "trade_executed"
)

// Record is an engine event describing a committed state change.
type Record interface {
	RecordName() string
}

// PositionCreated is emitted when a position opens.
type PositionCreated struct {
	Key               PositionKey `json:"key"`
	Side              Side        `json:"side"`
	Size              uint64      `json:"size"`
	EntryPrice        uint64      `json:"entry_price"`
	Collateral        uint64      `json:"collateral"`
	Leverage          uint64      `json:"leverage"`
	RequiredMargin    uint64      `json:"required_margin"`
	MaintenanceMargin uint64      `json:"maintenance_margin"`
	LiquidationPrice  uint64      `json:"liquidation_price"`
	ExpiresAt         time.Time   `json:"expires_at"`
	At                time.Time   `json:"at"`
}

func (PositionCreated) RecordName() string { return RecordPositionCreated }

// HealthUpdated is emitted when a health check changes the status.
type HealthUpdated struct {
	Key         PositionKey    `json:"key"`
	OldStatus   PositionStatus `json:"old_status"`
	NewStatus   PositionStatus `json:"new_status"`
	HealthScore uint64         `json:"health_score"`
	At          time.Time      `json:"at"`
}

func (HealthUpdated) RecordName() string { return RecordHealthUpdated }

// LiquidationRisk is emitted when a health check lands in LiquidationRisk.
type LiquidationRisk struct {
	Key            PositionKey `json:"key"`
	HealthScore    uint64      `json:"health_score"`
	CurrentPrice   uint64      `json:"current_price"`
	Collateral     uint64      `json:"collateral"`
	RequiredMargin uint64      `json:"required_margin"`
	At             time.Time   `json:"at"`
}

func (LiquidationRisk) RecordName() string { return RecordLiquidationRisk }

// PositionMetrics is emitted by every health check.
type PositionMetrics struct {
	Key           PositionKey    `json:"key"`
	HealthScore   uint64         `json:"health_score"`
	UnrealizedPnL int64          `json:"unrealized_pnl"`
	CurrentPrice  uint64         `json:"current_price"`
	Status        PositionStatus `json:"status"`
	At            time.Time      `json:"at"`
}

func (PositionMetrics) RecordName() string { return RecordPositionMetrics }

// PositionClosed is emitted when the settlement engine closes a position.
type PositionClosed struct {
	Key              PositionKey `json:"key"`
	EntryPrice       uint64      `json:"entry_price"`
	ExitPrice        uint64      `json:"exit_price"`
	FinalPnL         int64       `json:"final_pnl"`
	SettlementAmount uint64      `json:"settlement_amount"`
	PayoutPercentage uint64      `json:"payout_percentage"`
	TradingFee       uint64      `json:"trading_fee"`
	ClosingFee       uint64      `json:"closing_fee"`
	TotalFees        uint64      `json:"total_fees"`
	Profitable       bool        `json:"profitable"`
	At               time.Time   `json:"at"`
}

func (PositionClosed) RecordName() string { return RecordPositionClosed }

// PositionLiquidated is emitted when a position is force-closed.
type PositionLiquidated struct {
	Key         PositionKey `json:"key"`
	Price       uint64      `json:"price"`
	HealthScore uint64      `json:"health_score"`
	Collateral  uint64      `json:"collateral"`
	At          time.Time   `json:"at"`
}

func (PositionLiquidated) RecordName() string { return RecordPositionLiquidated }

// PositionClaimed is emitted when a settled position's payout is claimed.
type PositionClaimed struct {
	Key                PositionKey `json:"key"`
	BasePayout         uint64      `json:"base_payout"`
	TimeRewards        uint64      `json:"time_rewards"`
	PerformanceRewards uint64      `json:"performance_rewards"`
	Total              uint64      `json:"total"`
	At                 time.Time   `json:"at"`
}

func (PositionClaimed) RecordName() string { return RecordPositionClaimed }

// RewardsClaimed is emitted when an open position collects its rewards.
type RewardsClaimed struct {
	Key                PositionKey `json:"key"`
	TimeRewards        uint64      `json:"time_rewards"`
	PerformanceRewards uint64      `json:"performance_rewards"`
	Total              uint64      `json:"total"`
	At                 time.Time   `json:"at"`
}

func (RewardsClaimed) RecordName() string { return RecordRewardsClaimed }

// OrderPlaced is emitted when an order enters the book.
type OrderPlaced struct {
	Order Order     `json:"order"`
	At    time.Time `json:"at"`
}

func (OrderPlaced) RecordName() string { return RecordOrderPlaced }

// OrderCancelled is emitted when an order leaves the book unfilled, either on
// request or because the matcher could not open its position.
type OrderCancelled struct {
	OrderID   uint64    `json:"order_id"`
	Owner     string    `json:"owner"`
	Remaining uint64    `json:"remaining"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

func (OrderCancelled) RecordName() string { return RecordOrderCancelled }

// TradeExecuted is emitted when a long and a short order are matched and both
// positions are open.
type TradeExecuted struct {
	Trade Trade `json:"trade"`
}

func (TradeExecuted) RecordName() string { return RecordTradeExecuted }
