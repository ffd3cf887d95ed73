package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// OrderStore is an in-memory domain.OrderStore.
type OrderStore struct {
	mu     sync.Mutex
	orders []domain.Order // ID order; index i holds ID i+1
	now    func() time.Time
}

// NewOrderStore returns an empty order book.
func NewOrderStore() *OrderStore {
	return &OrderStore{now: func() time.Time { return time.Now().UTC() }}
}

// Create assigns the next ID and stores o.
func (s *OrderStore) Create(_ context.Context, o domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = uint64(len(s.orders) + 1)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	o.UpdatedAt = o.CreatedAt
	s.orders = append(s.orders, o)
	return o, nil
}

func (s *OrderStore) slot(id uint64) (*domain.Order, error) {
	if id == 0 || id > uint64(len(s.orders)) {
		return nil, fmt.Errorf("memory: order %d: %w", id, domain.ErrNotFound)
	}
	return &s.orders[id-1], nil
}

// GetByID returns the order with the given ID.
func (s *OrderStore) GetByID(_ context.Context, id uint64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.slot(id)
	if err != nil {
		return domain.Order{}, err
	}
	return *o, nil
}

// List returns orders matching filter in placement order.
func (s *OrderStore) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	return page(out, filter.Offset, filter.Limit), nil
}

// UpdateFill records a fill.
func (s *OrderStore) UpdateFill(_ context.Context, id, filled uint64, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.slot(id)
	if err != nil {
		return err
	}
	o.FilledAmount = filled
	o.Status = status
	o.UpdatedAt = s.now()
	return nil
}

// Cancel moves an open order to Cancelled.
func (s *OrderStore) Cancel(_ context.Context, id uint64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.slot(id)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.Status.IsOpen() {
		return domain.Order{}, fmt.Errorf("memory: cancel order %d in status %s: %w", id, o.Status, domain.ErrOrderNotOpen)
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = s.now()
	return *o, nil
}

// TradeStore is an in-memory domain.TradeStore.
type TradeStore struct {
	mu     sync.Mutex
	nextID uint64
	trades []domain.Trade
}

// NewTradeStore returns an empty trade log.
func NewTradeStore() *TradeStore {
	return &TradeStore{}
}

// NextID reserves a trade id.
func (s *TradeStore) NextID(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

// InsertBatch appends trades. A trade whose ID is already stored is skipped.
func (s *TradeStore) InsertBatch(_ context.Context, trades []domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uint64]bool, len(s.trades))
	for _, t := range s.trades {
		seen[t.ID] = true
	}
	for _, t := range trades {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		s.trades = append(s.trades, t)
	}
	return nil
}

// List returns trades newest first within the time window.
func (s *TradeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Trade, 0, len(s.trades))
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		if opts.Since != nil && t.ExecutedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !t.ExecutedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
