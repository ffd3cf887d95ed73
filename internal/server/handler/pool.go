package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/service"
)

// PoolService is the pool ledger surface the handler needs.
type PoolService interface {
	InitPools(ctx context.Context, req service.InitPoolsRequest) (service.PoolStats, error)
	Stats(ctx context.Context) (service.PoolStats, error)
	SetTradingActive(ctx context.Context, active bool) (domain.TradingPool, error)
	FundRewards(ctx context.Context, amount uint64) (domain.RewardPool, error)
	FundVault(ctx context.Context, owner string, amount uint64) (domain.Vault, error)
	Vault(ctx context.Context, owner string) (domain.Vault, error)
}

// PoolHandler serves pool and vault endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logger}
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

// GetPools returns both pools and their vault balances.
// GET /api/pools
func (h *PoolHandler) GetPools(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pools.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "pool stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// InitPools creates the trading and reward pools.
// POST /api/pools/init
func (h *PoolHandler) InitPools(w http.ResponseWriter, r *http.Request) {
	var req service.InitPoolsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.pools.InitPools(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "init pools", err)
		return
	}
	writeJSON(w, http.StatusCreated, stats)
}

// PauseTrading stops new positions from opening.
// POST /api/pools/pause
func (h *PoolHandler) PauseTrading(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// ResumeTrading re-enables position opening.
// POST /api/pools/resume
func (h *PoolHandler) ResumeTrading(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *PoolHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	pool, err := h.pools.SetTradingActive(r.Context(), active)
	if err != nil {
		writeServiceError(w, r, h.logger, "set trading status", err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// FundRewards tops up the reward vault.
// POST /api/pools/rewards/fund {"amount": n}
func (h *PoolHandler) FundRewards(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rp, err := h.pools.FundRewards(r.Context(), req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "fund rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

// FundVault credits a user vault.
// POST /api/vaults/{owner}/fund {"amount": n}
func (h *PoolHandler) FundVault(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.pools.FundVault(r.Context(), r.PathValue("owner"), req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "fund vault", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetVault returns a user vault.
// GET /api/vaults/{owner}
func (h *PoolHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	v, err := h.pools.Vault(r.Context(), r.PathValue("owner"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get vault", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
