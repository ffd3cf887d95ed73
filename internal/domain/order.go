package domain

import (
	"context"
	"time"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

// IsOpen reports whether the order can still be matched.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	return s.IsOpen() || s == OrderStatusFilled || s == OrderStatusCancelled
}

// OpenOrderStatuses lists the statuses the matcher considers.
var OpenOrderStatuses = []OrderStatus{OrderStatusOpen, OrderStatusPartiallyFilled}

// Order is a request to open a position once a counterparty on the other
// side of the same leverage tier is found. Amount is in position size units;
// Collateral is the margin committed for the whole Amount and is drawn pro
// rata as the order fills.
type Order struct {
	ID           uint64      `json:"id"`
	Owner        string      `json:"owner"`
	Side         Side        `json:"side"`
	Leverage     uint64      `json:"leverage"`
	Amount       uint64      `json:"amount"`
	FilledAmount uint64      `json:"filled_amount"`
	Collateral   uint64      `json:"collateral"`
	Status       OrderStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Remaining returns the unfilled amount.
func (o Order) Remaining() uint64 {
	if o.FilledAmount >= o.Amount {
		return 0
	}
	return o.Amount - o.FilledAmount
}

// Trade records one match between a long and a short order. Both positions
// it opened are keyed by (owner, ID).
type Trade struct {
	ID             uint64    `json:"id"`
	LongOrderID    uint64    `json:"long_order_id"`
	ShortOrderID   uint64    `json:"short_order_id"`
	LongOwner      string    `json:"long_owner"`
	ShortOwner     string    `json:"short_owner"`
	Leverage       uint64    `json:"leverage"`
	Amount         uint64    `json:"amount"`
	ExecutionPrice uint64    `json:"execution_price"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// OrderFilter narrows order listings. Zero values match everything.
type OrderFilter struct {
	Owner    string
	Statuses []OrderStatus
	Limit    int
	Offset   int
}

// Matches reports whether o satisfies the filter (Limit/Offset excluded).
func (f OrderFilter) Matches(o Order) bool {
	if f.Owner != "" && o.Owner != f.Owner {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// OrderStore persists matching orders. Listings are ordered by ID ascending,
// which is placement order.
type OrderStore interface {
	// Create assigns the order an ID and stores it.
	Create(ctx context.Context, o Order) (Order, error)
	GetByID(ctx context.Context, id uint64) (Order, error)
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// UpdateFill records a new filled amount and status.
	UpdateFill(ctx context.Context, id, filled uint64, status OrderStatus) error
	// Cancel moves an open order to Cancelled, failing with ErrOrderNotOpen
	// when it already left the open states.
	Cancel(ctx context.Context, id uint64) (Order, error)
}

// TradeStore persists executed matches.
type TradeStore interface {
	// NextID reserves a trade id.
	NextID(ctx context.Context) (uint64, error)
	InsertBatch(ctx context.Context, trades []Trade) error
	// List returns trades newest first.
	List(ctx context.Context, opts ListOpts) ([]Trade, error)
}
