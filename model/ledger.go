package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// EntryType classifies a balance-affecting event.
type EntryType string

const (
	EntryDebit   EntryType = "DEBIT"
	EntryCredit  EntryType = "CREDIT"
	EntryHold    EntryType = "HOLD"
	EntryRelease EntryType = "RELEASE"
	EntryCapture EntryType = "CAPTURE"
)

const (
	EntryStatusPosted   = "POSTED"
	EntryStatusReversed = "REVERSED"
)

// LedgerEntry is the immutable record of one balance-affecting event.
// Entries are never updated or deleted; corrections are new offsetting
// entries. The balance-after columns snapshot the wallet row as it stood
// immediately after this entry was applied.
type LedgerEntry struct {
	ID                    int64     `json:"-"`
	EntryID               string    `json:"entry_id"`
	WalletID              string    `json:"wallet_id"`
	TenantID              string    `json:"tenant_id"`
	EntryType             EntryType `json:"entry_type"`
	Status                string    `json:"status"`
	Amount                *big.Int  `json:"amount"`
	Currency              string    `json:"currency"`
	BalanceAfter          *big.Int  `json:"balance_after"`
	PendingBalanceAfter   *big.Int  `json:"pending_balance_after"`
	AvailableBalanceAfter *big.Int  `json:"available_balance_after"`
	ReferenceType         string    `json:"reference_type"`
	ReferenceID           string    `json:"reference_id"`
	CounterpartyWalletID  string    `json:"counterparty_wallet_id,omitempty"`
	HoldID                string    `json:"hold_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	CreatedBy             string    `json:"created_by"`
	Hash                  string    `json:"hash"`
}

// SnapshotWallet copies the wallet's post-mutation balances onto the entry.
func (entry *LedgerEntry) SnapshotWallet(wallet *Wallet) {
	wallet.InitializeBalanceFields()
	entry.BalanceAfter = new(big.Int).Set(wallet.Balance)
	entry.PendingBalanceAfter = new(big.Int).Set(wallet.PendingBalance)
	entry.AvailableBalanceAfter = new(big.Int).Set(wallet.AvailableBalance)
}

// HashEntry generates a SHA-256 hash of the entry's relevant fields.
// This ensures integrity of the entry by fingerprinting its details.
func (entry *LedgerEntry) HashEntry() string {
	data := fmt.Sprintf("%s%s%s%s%s%s", entry.WalletID, entry.EntryType, entry.Amount.String(), entry.Currency, entry.ReferenceType, entry.ReferenceID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	EntryType     string    `json:"entry_type"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Limit         int       `json:"limit"`
	Offset        int       `json:"offset"`
}
