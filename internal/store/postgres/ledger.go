package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// Ledger implements domain.Ledger. Each unit of work is one database
// transaction; rows read through it are locked with SELECT ... FOR UPDATE.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Atomic runs fn in a transaction, committing only when fn returns nil.
func (l *Ledger) Atomic(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	return pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

func (l *Ledger) GetPosition(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	return getPosition(ctx, l.pool, key, false)
}

func (l *Ledger) ListPositions(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	return listPositions(ctx, l.pool, filter)
}

func (l *Ledger) TradingPool(ctx context.Context) (domain.TradingPool, error) {
	return getTradingPool(ctx, l.pool, false)
}

func (l *Ledger) RewardPool(ctx context.Context) (domain.RewardPool, error) {
	return getRewardPool(ctx, l.pool, false)
}

func (l *Ledger) Vault(ctx context.Context, id domain.AccountID) (domain.Vault, error) {
	return getVault(ctx, l.pool, id, false)
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) Position(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	return getPosition(ctx, t.tx, key, true)
}

func (t *ledgerTx) InsertPosition(ctx context.Context, p domain.Position) error {
	return insertPosition(ctx, t.tx, p)
}

func (t *ledgerTx) SavePosition(ctx context.Context, p domain.Position) error {
	return updatePosition(ctx, t.tx, p)
}

func (t *ledgerTx) TradingPool(ctx context.Context) (domain.TradingPool, error) {
	return getTradingPool(ctx, t.tx, true)
}

func (t *ledgerTx) SaveTradingPool(ctx context.Context, p domain.TradingPool) error {
	const query = `
		INSERT INTO trading_pool (id, total_active_amount, total_pool_amount, total_fees_collected, is_active, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			total_active_amount  = EXCLUDED.total_active_amount,
			total_pool_amount    = EXCLUDED.total_pool_amount,
			total_fees_collected = EXCLUDED.total_fees_collected,
			is_active            = EXCLUDED.is_active,
			updated_at           = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, query, p.TotalActiveAmount, p.TotalPoolAmount, p.TotalFeesCollected, p.IsActive, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save trading pool: %w", err)
	}
	return nil
}

func (t *ledgerTx) RewardPool(ctx context.Context) (domain.RewardPool, error) {
	return getRewardPool(ctx, t.tx, true)
}

func (t *ledgerTx) SaveRewardPool(ctx context.Context, p domain.RewardPool) error {
	const query = `
		INSERT INTO reward_pool (id, base_reward_rate, performance_pool_amount, total_reward_amount, total_distributed, last_distribution_time)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			base_reward_rate        = EXCLUDED.base_reward_rate,
			performance_pool_amount = EXCLUDED.performance_pool_amount,
			total_reward_amount     = EXCLUDED.total_reward_amount,
			total_distributed       = EXCLUDED.total_distributed,
			last_distribution_time  = EXCLUDED.last_distribution_time`
	_, err := t.tx.Exec(ctx, query, p.BaseRewardRate, p.PerformancePoolAmount, p.TotalRewardAmount, p.TotalDistributed, p.LastDistributionTime)
	if err != nil {
		return fmt.Errorf("postgres: save reward pool: %w", err)
	}
	return nil
}

func (t *ledgerTx) Vault(ctx context.Context, id domain.AccountID) (domain.Vault, error) {
	return getVault(ctx, t.tx, id, true)
}

func (t *ledgerTx) CreateVault(ctx context.Context, id domain.AccountID, authority domain.Authority) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO vaults (id, authority, balance) VALUES ($1, $2, 0)`, string(id), string(authority))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: vault %s: %w", id, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create vault %s: %w", id, err)
	}
	return nil
}

func (t *ledgerTx) Credit(ctx context.Context, id domain.AccountID, amount uint64) error {
	v, err := getVault(ctx, t.tx, id, true)
	if err != nil {
		return err
	}
	bal, err := safemath.Add(v.Balance, amount)
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", id, err)
	}
	return t.setBalance(ctx, id, bal)
}

func (t *ledgerTx) Transfer(ctx context.Context, tr domain.Transfer) error {
	// Lock both rows in id order so concurrent transfers cannot deadlock.
	first, second := tr.From, tr.To
	if second < first {
		first, second = second, first
	}
	locked := make(map[domain.AccountID]domain.Vault, 2)
	for _, id := range []domain.AccountID{first, second} {
		if _, ok := locked[id]; ok {
			continue
		}
		v, err := getVault(ctx, t.tx, id, true)
		if err != nil {
			return err
		}
		locked[id] = v
	}

	from, to := locked[tr.From], locked[tr.To]
	if from.Authority != tr.Authority {
		return fmt.Errorf("postgres: transfer from %s: %w", tr.From, domain.ErrUnauthorizedAccess)
	}
	if from.Balance < tr.Amount {
		return fmt.Errorf("postgres: transfer %d from %s (balance %d): %w",
			tr.Amount, tr.From, from.Balance, domain.ErrInsufficientVaultBalance)
	}
	if tr.From == tr.To {
		return nil
	}
	credited, err := safemath.Add(to.Balance, tr.Amount)
	if err != nil {
		return fmt.Errorf("postgres: transfer to %s: %w", tr.To, err)
	}
	if err := t.setBalance(ctx, tr.From, from.Balance-tr.Amount); err != nil {
		return err
	}
	return t.setBalance(ctx, tr.To, credited)
}

func (t *ledgerTx) setBalance(ctx context.Context, id domain.AccountID, balance uint64) error {
	if _, err := safemath.ToInt64(balance); err != nil {
		return fmt.Errorf("postgres: vault %s: %w", id, err)
	}
	_, err := t.tx.Exec(ctx, `UPDATE vaults SET balance = $2, updated_at = NOW() WHERE id = $1`, string(id), balance)
	if err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", id, err)
	}
	return nil
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func getTradingPool(ctx context.Context, q querier, forUpdate bool) (domain.TradingPool, error) {
	var p domain.TradingPool
	err := q.QueryRow(ctx, `
		SELECT total_active_amount, total_pool_amount, total_fees_collected, is_active, updated_at
		FROM trading_pool WHERE id = 1`+lockClause(forUpdate)).
		Scan(&p.TotalActiveAmount, &p.TotalPoolAmount, &p.TotalFeesCollected, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingPool{}, fmt.Errorf("postgres: trading pool: %w", domain.ErrNotFound)
		}
		return domain.TradingPool{}, fmt.Errorf("postgres: get trading pool: %w", err)
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func getRewardPool(ctx context.Context, q querier, forUpdate bool) (domain.RewardPool, error) {
	var p domain.RewardPool
	err := q.QueryRow(ctx, `
		SELECT base_reward_rate, performance_pool_amount, total_reward_amount, total_distributed, last_distribution_time
		FROM reward_pool WHERE id = 1`+lockClause(forUpdate)).
		Scan(&p.BaseRewardRate, &p.PerformancePoolAmount, &p.TotalRewardAmount, &p.TotalDistributed, &p.LastDistributionTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RewardPool{}, fmt.Errorf("postgres: reward pool: %w", domain.ErrNotFound)
		}
		return domain.RewardPool{}, fmt.Errorf("postgres: get reward pool: %w", err)
	}
	p.LastDistributionTime = p.LastDistributionTime.UTC()
	return p, nil
}

func getVault(ctx context.Context, q querier, id domain.AccountID, forUpdate bool) (domain.Vault, error) {
	var (
		v         domain.Vault
		authority string
	)
	err := q.QueryRow(ctx, `SELECT balance, authority FROM vaults WHERE id = $1`+lockClause(forUpdate), string(id)).
		Scan(&v.Balance, &authority)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Vault{}, fmt.Errorf("postgres: vault %s: %w", id, domain.ErrNotFound)
		}
		return domain.Vault{}, fmt.Errorf("postgres: get vault %s: %w", id, err)
	}
	v.ID = id
	v.Authority = domain.Authority(authority)
	return v, nil
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.LedgerTx = (*ledgerTx)(nil)
)
