package domain

import "time"

// TradingPool is the singleton aggregate backing every open position.
type TradingPool struct {
	TotalActiveAmount  uint64    `json:"total_active_amount"`
	TotalPoolAmount    uint64    `json:"total_pool_amount"`
	TotalFeesCollected uint64    `json:"total_fees_collected"`
	IsActive           bool      `json:"is_active"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RewardPool is the singleton aggregate that funds time and performance
// rewards. BaseRewardRate is in basis points per hour.
type RewardPool struct {
	BaseRewardRate        uint64    `json:"base_reward_rate"`
	PerformancePoolAmount uint64    `json:"performance_pool_amount"`
	TotalRewardAmount     uint64    `json:"total_reward_amount"`
	TotalDistributed      uint64    `json:"total_distributed"`
	LastDistributionTime  time.Time `json:"last_distribution_time"`
}
