package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// NextID reserves a trade id from the trade_ids sequence.
func (s *TradeStore) NextID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('trade_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next trade id: %w", err)
	}
	return id, nil
}

// InsertBatch inserts trades in one round trip. Trades already stored under
// the same ID are skipped.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	const query = `
		INSERT INTO trades (
			id, long_order_id, short_order_id, long_owner, short_owner,
			leverage, amount, execution_price, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(query,
			t.ID, t.LongOrderID, t.ShortOrderID, t.LongOwner, t.ShortOwner,
			t.Leverage, t.Amount, t.ExecutionPrice, t.ExecutedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, t := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade %d: %w", t.ID, err)
		}
	}
	return nil
}

// List returns trades newest first within the optional [Since, Until) window.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	clause, args := listWindow("executed_at", opts)
	rows, err := s.pool.Query(ctx, `SELECT id, long_order_id, short_order_id, long_owner, short_owner,
		leverage, amount, execution_price, executed_at FROM trades`+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Trade, error) {
		var (
			t  domain.Trade
			at time.Time
		)
		err := row.Scan(&t.ID, &t.LongOrderID, &t.ShortOrderID, &t.LongOwner, &t.ShortOwner,
			&t.Leverage, &t.Amount, &t.ExecutionPrice, &at)
		t.ExecutedAt = at.UTC()
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
