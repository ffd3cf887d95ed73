package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Ledger is the keyed record store for positions, the pool singletons and
// vault balances. Reads outside Atomic observe only committed state.
type Ledger interface {
	// Atomic runs fn as one unit of work. Writes made through tx become
	// visible only if fn returns nil; otherwise every record is left as it was.
	Atomic(ctx context.Context, fn func(tx LedgerTx) error) error

	GetPosition(ctx context.Context, key PositionKey) (Position, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]Position, error)
	TradingPool(ctx context.Context) (TradingPool, error)
	RewardPool(ctx context.Context) (RewardPool, error)
	Vault(ctx context.Context, id AccountID) (Vault, error)
}

// LedgerTx is the view of the ledger inside a unit of work. Every record read
// through it is held exclusively until the unit ends.
type LedgerTx interface {
	Position(ctx context.Context, key PositionKey) (Position, error)
	InsertPosition(ctx context.Context, p Position) error
	SavePosition(ctx context.Context, p Position) error

	TradingPool(ctx context.Context) (TradingPool, error)
	SaveTradingPool(ctx context.Context, p TradingPool) error
	RewardPool(ctx context.Context) (RewardPool, error)
	SaveRewardPool(ctx context.Context, p RewardPool) error

	Vault(ctx context.Context, id AccountID) (Vault, error)
	// CreateVault opens an empty vault issued by authority.
	CreateVault(ctx context.Context, id AccountID, authority Authority) error
	// Credit adds externally deposited funds to a vault.
	Credit(ctx context.Context, id AccountID, amount uint64) error
	// Transfer debits From and credits To. It fails with ErrUnauthorizedAccess
	// unless t.Authority issued From, and with ErrInsufficientVaultBalance when
	// From cannot cover Amount.
	Transfer(ctx context.Context, t Transfer) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
