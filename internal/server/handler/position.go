package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/service"
)

// PositionService is the position factory surface the handler needs.
type PositionService interface {
	Open(ctx context.Context, req service.OpenRequest) (domain.Position, error)
	Get(ctx context.Context, key domain.PositionKey) (domain.Position, error)
	List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error)
}

// HealthChecker runs a single health check.
type HealthChecker interface {
	Check(ctx context.Context, key domain.PositionKey) (service.HealthReport, error)
}

// Settler closes and liquidates positions.
type Settler interface {
	Close(ctx context.Context, key domain.PositionKey) (service.SettlementOutcome, error)
	Liquidate(ctx context.Context, key domain.PositionKey) (domain.Position, error)
}

// Claimer pays out settlements and rewards.
type Claimer interface {
	Claim(ctx context.Context, key domain.PositionKey) (service.ClaimOutcome, error)
}

// PositionHandler serves the position lifecycle endpoints.
type PositionHandler struct {
	positions PositionService
	health    HealthChecker
	settle    Settler
	rewards   Claimer
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(
	positions PositionService,
	health HealthChecker,
	settle Settler,
	rewards Claimer,
	logger *slog.Logger,
) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		health:    health,
		settle:    settle,
		rewards:   rewards,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// OpenPosition creates a position from the JSON body.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req service.OpenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.positions.Open(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// ListPositions lists positions, optionally for one owner and a comma
// separated set of statuses. status=open expands to every open status.
// GET /api/positions?owner=&status=&limit=&offset=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)
	filter := domain.PositionFilter{
		Owner:  q.Get("owner"),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := domain.PositionStatus(strings.TrimSpace(s))
			switch {
			case st == "open":
				filter.Statuses = append(filter.Statuses, domain.OpenStatuses...)
			case st.Valid():
				filter.Statuses = append(filter.Statuses, st)
			default:
				writeError(w, http.StatusBadRequest, "unknown status "+string(st))
				return
			}
		}
	}

	positions, err := h.positions.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position.
// GET /api/positions/{owner}/{order_id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	pos, err := h.positions.Get(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CheckPosition runs a health check at the current oracle price.
// POST /api/positions/{owner}/{order_id}/check
func (h *PositionHandler) CheckPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	report, err := h.health.Check(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "check position", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ClosePosition settles a position at the current oracle price.
// POST /api/positions/{owner}/{order_id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	out, err := h.settle.Close(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// LiquidatePosition force-closes a position at liquidation risk.
// POST /api/positions/{owner}/{order_id}/liquidate
func (h *PositionHandler) LiquidatePosition(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	pos, err := h.settle.Liquidate(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "liquidate position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ClaimPosition claims a settlement or accrued rewards.
// POST /api/positions/{owner}/{order_id}/claim
func (h *PositionHandler) ClaimPosition(w http.ResponseWriter, r *http.Request) {
	key, ok := h.key(w, r)
	if !ok {
		return
	}
	out, err := h.rewards.Claim(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim position", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *PositionHandler) key(w http.ResponseWriter, r *http.Request) (domain.PositionKey, bool) {
	key, err := positionKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.PositionKey{}, false
	}
	return key, true
}
