package domain

import "strings"

// AccountID names a vault on the ledger.
type AccountID string

const (
	// TradingPoolVault holds collateral escrowed by open positions and pays
	// settlements.
	TradingPoolVault AccountID = "pool:trading"
	// RewardPoolVault pays time and performance rewards.
	RewardPoolVault AccountID = "pool:reward"
)

// UserVault returns the vault account of owner.
func UserVault(owner string) AccountID {
	return AccountID("user:" + owner)
}

// Owner returns the owner of a user vault, or "" for pool vaults.
func (a AccountID) Owner() string {
	owner, ok := strings.CutPrefix(string(a), "user:")
	if !ok {
		return ""
	}
	return owner
}

// Authority is the capability that allows funds to leave a vault. Each vault
// is created under one issuing authority and only transfers presenting that
// authority may debit it.
type Authority string

// ProgramAuthority is held by the engine and issues the pool vaults.
const ProgramAuthority Authority = "program"

// UserAuthority returns the authority that issues owner's vault.
func UserAuthority(owner string) Authority {
	return Authority("user:" + owner)
}

// Vault is a ledger account.
type Vault struct {
	ID        AccountID `json:"id"`
	Authority Authority `json:"-"`
	Balance   uint64    `json:"balance"`
}

// Transfer moves Amount from one vault to another under Authority.
type Transfer struct {
	From      AccountID
	To        AccountID
	Amount    uint64
	Authority Authority
}
