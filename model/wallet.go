package model

import (
	"fmt"
	"math/big"
	"time"
)

// Wallet tracks the three balances of a (tenant, owner) account. Balance only
// moves through ledger entries; PendingBalance is the sum of active holds and
// AvailableBalance is always Balance - PendingBalance.
type Wallet struct {
	ID               int64                  `json:"-"`
	WalletID         string                 `json:"wallet_id"`
	TenantID         string                 `json:"tenant_id"`
	OwnerID          string                 `json:"owner_id"`
	Currency         string                 `json:"currency"`
	Balance          *big.Int               `json:"balance"`
	PendingBalance   *big.Int               `json:"pending_balance"`
	AvailableBalance *big.Int               `json:"available_balance"`
	Version          int64                  `json:"version"`
	CreatedAt        time.Time              `json:"created_at"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
}

// InitializeBalanceFields initializes all balance fields that might be nil so
// that big.Int arithmetic is always safe.
func (wallet *Wallet) InitializeBalanceFields() {
	if wallet.Balance == nil {
		wallet.Balance = big.NewInt(0)
	}
	if wallet.PendingBalance == nil {
		wallet.PendingBalance = big.NewInt(0)
	}
	if wallet.AvailableBalance == nil {
		wallet.AvailableBalance = big.NewInt(0)
	}
}

// computeAvailable recomputes the derived available balance.
func (wallet *Wallet) computeAvailable() {
	wallet.AvailableBalance.Sub(wallet.Balance, wallet.PendingBalance)
}

// CanDebit reports whether the wallet's available balance covers the amount.
func (wallet *Wallet) CanDebit(amount *big.Int) bool {
	wallet.InitializeBalanceFields()
	return compare(wallet.AvailableBalance, ">=", amount)
}

// ApplyEntry mutates the wallet balances for one ledger entry type and
// returns an error when the mutation would break the availability invariant.
// The persisted conditional update carries these exact values, so the entry's
// balance-after columns always match the wallet row.
func (wallet *Wallet) ApplyEntry(entryType EntryType, amount *big.Int) error {
	wallet.InitializeBalanceFields()
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("entry amount must be positive")
	}

	switch entryType {
	case EntryCredit:
		wallet.Balance.Add(wallet.Balance, amount)
	case EntryDebit:
		if !wallet.CanDebit(amount) {
			return fmt.Errorf("insufficient available balance for debit of %s", amount.String())
		}
		wallet.Balance.Sub(wallet.Balance, amount)
	case EntryHold:
		if !wallet.CanDebit(amount) {
			return fmt.Errorf("insufficient available balance for hold of %s", amount.String())
		}
		wallet.PendingBalance.Add(wallet.PendingBalance, amount)
	case EntryRelease:
		if compare(wallet.PendingBalance, "<", amount) {
			return fmt.Errorf("pending balance %s cannot release %s", wallet.PendingBalance.String(), amount.String())
		}
		wallet.PendingBalance.Sub(wallet.PendingBalance, amount)
	case EntryCapture:
		if compare(wallet.PendingBalance, "<", amount) {
			return fmt.Errorf("pending balance %s cannot capture %s", wallet.PendingBalance.String(), amount.String())
		}
		wallet.PendingBalance.Sub(wallet.PendingBalance, amount)
		wallet.Balance.Sub(wallet.Balance, amount)
	default:
		return fmt.Errorf("unknown entry type %s", entryType)
	}

	wallet.computeAvailable()
	if wallet.AvailableBalance.Sign() < 0 {
		return fmt.Errorf("wallet %s available balance went negative", wallet.WalletID)
	}
	return nil
}

// Replay runs the wallet's ledger entries in creation order against zeroed
// balances and returns the resulting wallet. Used by integrity checks: the
// result must equal the stored row exactly.
func (wallet *Wallet) Replay(entries []*LedgerEntry) (*Wallet, error) {
	replayed := &Wallet{
		WalletID: wallet.WalletID,
		TenantID: wallet.TenantID,
		Currency: wallet.Currency,
	}
	replayed.InitializeBalanceFields()
	for _, entry := range entries {
		if entry.Status == EntryStatusReversed {
			continue
		}
		if err := replayed.ApplyEntry(entry.EntryType, entry.Amount); err != nil {
			return nil, fmt.Errorf("replay failed at entry %s: %w", entry.EntryID, err)
		}
	}
	return replayed, nil
}

// MatchesReplay compares the wallet's stored balances against a replayed one.
func (wallet *Wallet) MatchesReplay(replayed *Wallet) bool {
	wallet.InitializeBalanceFields()
	replayed.InitializeBalanceFields()
	return wallet.Balance.Cmp(replayed.Balance) == 0 &&
		wallet.PendingBalance.Cmp(replayed.PendingBalance) == 0 &&
		wallet.AvailableBalance.Cmp(replayed.AvailableBalance) == 0
}
