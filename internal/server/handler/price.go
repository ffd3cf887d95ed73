package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/oracle"
)

// PriceHandler exposes the oracle price the engines would use.
type PriceHandler struct {
	oracle domain.PriceOracle
	feedID string
	maxAge time.Duration
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler defaulting to feedID.
func NewPriceHandler(o domain.PriceOracle, feedID string, maxAge time.Duration, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{oracle: o, feedID: feedID, maxAge: maxAge, logger: logger}
}

type priceResponse struct {
	domain.PriceSample
	Display    string  `json:"display"`
	AgeSeconds float64 `json:"age_seconds"`
}

// GetPrice returns the latest verified sample.
// GET /api/price?feed=0x...
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	feed := h.feedID
	if q := r.URL.Query().Get("feed"); q != "" {
		id, err := oracle.NormalizeFeedID(q)
		if err != nil {
			writeServiceError(w, r, h.logger, "get price", err)
			return
		}
		feed = id
	}
	sample, err := h.oracle.GetPrice(r.Context(), feed, h.maxAge)
	if err != nil {
		writeServiceError(w, r, h.logger, "get price", err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{
		PriceSample: sample,
		Display:     sample.Decimal().String(),
		AgeSeconds:  sample.Age(time.Now()).Seconds(),
	})
}
