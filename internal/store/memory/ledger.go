// Package memory provides in-process implementations of the ledger and audit
// stores. They back the engine in tests and in single-node deployments that
// run without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/vaultbot/internal/domain"
	"github.com/alanyoungcy/vaultbot/internal/safemath"
)

// Ledger is an in-memory domain.Ledger. Units of work are serialized by a
// single mutex and buffer their writes until commit.
type Ledger struct {
	mu        sync.Mutex
	positions map[domain.PositionKey]domain.Position
	trading   *domain.TradingPool
	reward    *domain.RewardPool
	vaults    map[domain.AccountID]domain.Vault
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[domain.PositionKey]domain.Position),
		vaults:    make(map[domain.AccountID]domain.Vault),
	}
}

// Atomic runs fn against a buffered view and applies its writes only when fn
// returns nil.
func (l *Ledger) Atomic(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &ledgerTx{
		base:      l,
		positions: make(map[domain.PositionKey]domain.Position),
		vaults:    make(map[domain.AccountID]domain.Vault),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// GetPosition returns the committed position stored under key.
func (l *Ledger) GetPosition(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[key]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", key, domain.ErrNotFound)
	}
	return clonePosition(p), nil
}

// ListPositions returns committed positions matching filter, oldest first.
func (l *Ledger) ListPositions(_ context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	l.mu.Lock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		if filter.Matches(p) {
			out = append(out, clonePosition(p))
		}
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].OrderID < out[j].OrderID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []domain.Position{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// TradingPool returns the committed trading pool.
func (l *Ledger) TradingPool(_ context.Context) (domain.TradingPool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.trading == nil {
		return domain.TradingPool{}, fmt.Errorf("memory: trading pool: %w", domain.ErrNotFound)
	}
	return *l.trading, nil
}

// RewardPool returns the committed reward pool.
func (l *Ledger) RewardPool(_ context.Context) (domain.RewardPool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reward == nil {
		return domain.RewardPool{}, fmt.Errorf("memory: reward pool: %w", domain.ErrNotFound)
	}
	return *l.reward, nil
}

// Vault returns the committed vault id.
func (l *Ledger) Vault(_ context.Context, id domain.AccountID) (domain.Vault, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.vaults[id]
	if !ok {
		return domain.Vault{}, fmt.Errorf("memory: vault %s: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

func clonePosition(p domain.Position) domain.Position {
	if p.Settlement != nil {
		s := *p.Settlement
		p.Settlement = &s
	}
	return p
}

// ledgerTx buffers writes on top of the committed ledger. The ledger mutex is
// held for its whole lifetime.
type ledgerTx struct {
	base      *Ledger
	positions map[domain.PositionKey]domain.Position
	trading   *domain.TradingPool
	reward    *domain.RewardPool
	vaults    map[domain.AccountID]domain.Vault
}

func (tx *ledgerTx) commit() {
	for k, p := range tx.positions {
		tx.base.positions[k] = p
	}
	for id, v := range tx.vaults {
		tx.base.vaults[id] = v
	}
	if tx.trading != nil {
		tp := *tx.trading
		tx.base.trading = &tp
	}
	if tx.reward != nil {
		rp := *tx.reward
		tx.base.reward = &rp
	}
}

func (tx *ledgerTx) Position(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	if p, ok := tx.positions[key]; ok {
		return clonePosition(p), nil
	}
	p, ok := tx.base.positions[key]
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s: %w", key, domain.ErrNotFound)
	}
	return clonePosition(p), nil
}

func (tx *ledgerTx) InsertPosition(ctx context.Context, p domain.Position) error {
	if _, err := tx.Position(ctx, p.Key()); err == nil {
		return fmt.Errorf("memory: position %s: %w", p.Key(), domain.ErrAlreadyExists)
	}
	tx.positions[p.Key()] = clonePosition(p)
	return nil
}

func (tx *ledgerTx) SavePosition(ctx context.Context, p domain.Position) error {
	if _, err := tx.Position(ctx, p.Key()); err != nil {
		return err
	}
	tx.positions[p.Key()] = clonePosition(p)
	return nil
}

func (tx *ledgerTx) TradingPool(_ context.Context) (domain.TradingPool, error) {
	switch {
	case tx.trading != nil:
		return *tx.trading, nil
	case tx.base.trading != nil:
		return *tx.base.trading, nil
	}
	return domain.TradingPool{}, fmt.Errorf("memory: trading pool: %w", domain.ErrNotFound)
}

func (tx *ledgerTx) SaveTradingPool(_ context.Context, p domain.TradingPool) error {
	tx.trading = &p
	return nil
}

func (tx *ledgerTx) RewardPool(_ context.Context) (domain.RewardPool, error) {
	switch {
	case tx.reward != nil:
		return *tx.reward, nil
	case tx.base.reward != nil:
		return *tx.base.reward, nil
	}
	return domain.RewardPool{}, fmt.Errorf("memory: reward pool: %w", domain.ErrNotFound)
}

func (tx *ledgerTx) SaveRewardPool(_ context.Context, p domain.RewardPool) error {
	tx.reward = &p
	return nil
}

func (tx *ledgerTx) Vault(_ context.Context, id domain.AccountID) (domain.Vault, error) {
	if v, ok := tx.vaults[id]; ok {
		return v, nil
	}
	v, ok := tx.base.vaults[id]
	if !ok {
		return domain.Vault{}, fmt.Errorf("memory: vault %s: %w", id, domain.ErrNotFound)
	}
	return v, nil
}

func (tx *ledgerTx) CreateVault(ctx context.Context, id domain.AccountID, authority domain.Authority) error {
	if _, err := tx.Vault(ctx, id); err == nil {
		return fmt.Errorf("memory: vault %s: %w", id, domain.ErrAlreadyExists)
	}
	tx.vaults[id] = domain.Vault{ID: id, Authority: authority}
	return nil
}

func (tx *ledgerTx) Credit(ctx context.Context, id domain.AccountID, amount uint64) error {
	v, err := tx.Vault(ctx, id)
	if err != nil {
		return err
	}
	bal, err := safemath.Add(v.Balance, amount)
	if err != nil {
		return fmt.Errorf("memory: credit %s: %w", id, err)
	}
	v.Balance = bal
	tx.vaults[id] = v
	return nil
}

func (tx *ledgerTx) Transfer(ctx context.Context, t domain.Transfer) error {
	from, err := tx.Vault(ctx, t.From)
	if err != nil {
		return err
	}
	to, err := tx.Vault(ctx, t.To)
	if err != nil {
		return err
	}
	if from.Authority != t.Authority {
		return fmt.Errorf("memory: transfer from %s: %w", t.From, domain.ErrUnauthorizedAccess)
	}
	if from.Balance < t.Amount {
		return fmt.Errorf("memory: transfer %d from %s (balance %d): %w",
			t.Amount, t.From, from.Balance, domain.ErrInsufficientVaultBalance)
	}
	if t.From == t.To {
		return nil
	}
	credited, err := safemath.Add(to.Balance, t.Amount)
	if err != nil {
		return fmt.Errorf("memory: transfer to %s: %w", t.To, err)
	}
	from.Balance -= t.Amount
	to.Balance = credited
	tx.vaults[t.From] = from
	tx.vaults[t.To] = to
	return nil
}
