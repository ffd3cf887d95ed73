package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/service"
)

// StatusHandler serves the backend mode and engine constants.
type StatusHandler struct {
	Mode      string
	Storage   string
	Params    service.Params
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, storage string, params service.Params) *StatusHandler {
	return &StatusHandler{Mode: mode, Storage: storage, Params: params, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the current mode, uptime and engine parameters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"storage":        h.Storage,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"params": map[string]any{
			"feed_id":               h.Params.FeedID,
			"max_price_age_seconds": h.Params.MaxPriceAge.Seconds(),
			"trading_fee_bps":       h.Params.TradingFeeBps,
			"closing_fee_bps":       h.Params.ClosingFeeBps,
			"min_position_size":     h.Params.MinPositionSize,
			"min_leverage":          h.Params.MinLeverage,
			"max_leverage":          h.Params.MaxLeverage,
			"healthy_threshold":     h.Params.HealthyThreshold,
			"warning_threshold":     h.Params.WarningThreshold,
			"base_reward_rate_bps":  h.Params.BaseRewardRateBps,
		},
	})
}
