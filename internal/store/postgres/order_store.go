package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, owner, side, leverage, amount, filled_amount, collateral, status, created_at, updated_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o            domain.Order
		side, status string
	)
	if err := row.Scan(&o.ID, &o.Owner, &side, &o.Leverage, &o.Amount, &o.FilledAmount,
		&o.Collateral, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

// Create inserts o and returns it with its assigned ID.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (owner, side, leverage, amount, filled_amount, collateral, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+orderSelectCols,
		o.Owner, string(o.Side), o.Leverage, o.Amount, o.FilledAmount, o.Collateral, string(o.Status), o.CreatedAt,
	)
	created, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: create order for %s: %w", o.Owner, err)
	}
	return created, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id uint64) (domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: order %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}

// buildOrderQuery renders filter as a SELECT in placement order.
func buildOrderQuery(f domain.OrderFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Owner != "" {
		where = append(where, "owner = "+next(f.Owner))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status = ANY("+next(statuses)+")")
	}

	query := `SELECT ` + orderSelectCols + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT " + next(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + next(f.Offset)
	}
	return query, args
}

// List returns orders matching filter.
func (s *OrderStore) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	query, args := buildOrderQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders: %w", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// UpdateFill records a fill.
func (s *OrderStore) UpdateFill(ctx context.Context, id, filled uint64, status domain.OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET filled_amount = $1, status = $2, updated_at = NOW() WHERE id = $3`,
		filled, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update order fill %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: order %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Cancel moves an open order to Cancelled in a single conditional update.
func (s *OrderStore) Cancel(ctx context.Context, id uint64) (domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('open', 'partially_filled')
		RETURNING `+orderSelectCols, id))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("postgres: cancel order %d: %w", id, err)
	}
	current, getErr := s.GetByID(ctx, id)
	if getErr != nil {
		return domain.Order{}, getErr
	}
	return domain.Order{}, fmt.Errorf("postgres: cancel order %d in status %s: %w", id, current.Status, domain.ErrOrderNotOpen)
}

var _ domain.OrderStore = (*OrderStore)(nil)
