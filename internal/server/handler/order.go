package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/service"
)

// OrderBook is the matching engine surface the handler needs.
type OrderBook interface {
	PlaceOrder(ctx context.Context, req service.PlaceOrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, owner string, id uint64) (domain.Order, error)
	GetOrder(ctx context.Context, id uint64) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
	Match(ctx context.Context) (service.MatchResult, error)
}

// OrderHandler serves the order book endpoints.
type OrderHandler struct {
	book   OrderBook
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(book OrderBook, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{book: book, logger: logger}
}

// PlaceOrder adds an order to the book.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req service.PlaceOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := h.book.PlaceOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "place order", err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders lists orders in placement order. status=open expands to every
// status the matcher still fills.
// GET /api/orders?owner=&status=&limit=&offset=
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)
	filter := domain.OrderFilter{
		Owner:  q.Get("owner"),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := domain.OrderStatus(strings.TrimSpace(s))
			switch {
			case st == "open":
				filter.Statuses = append(filter.Statuses, domain.OpenOrderStatuses...)
			case st.Valid():
				filter.Statuses = append(filter.Statuses, st)
			default:
				writeError(w, http.StatusBadRequest, "unknown status "+string(st))
				return
			}
		}
	}

	orders, err := h.book.ListOrders(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// GetOrder returns one order.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.book.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder withdraws an open order on behalf of its owner.
// POST /api/orders/{id}/cancel?owner=
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.book.CancelOrder(r.Context(), r.URL.Query().Get("owner"), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// MatchOrders runs one match cycle now.
// POST /api/orders/match
func (h *OrderHandler) MatchOrders(w http.ResponseWriter, r *http.Request) {
	res, err := h.book.Match(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "match orders", err)
		return
	}
	if res.Trades == nil {
		res.Trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, res)
}

// ListTrades returns executed matches, newest first.
// GET /api/trades?since=RFC3339&until=RFC3339&limit=&offset=
func (h *OrderHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if err := parseWindow(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.book.ListTrades(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an unsigned integer")
		return 0, false
	}
	return id, true
}
