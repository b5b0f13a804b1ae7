package model

import (
	"fmt"
	"math/big"
	"time"
)

// HoldStatus is the lifecycle state of a hold. ACTIVE is the only non-terminal
// state; CAPTURED and RELEASED are mutually exclusive terminals.
type HoldStatus string

const (
	HoldActive   HoldStatus = "ACTIVE"
	HoldCaptured HoldStatus = "CAPTURED"
	HoldReleased HoldStatus = "RELEASED"
)

// Hold reserves part of a wallet's available balance ahead of a debit that is
// not yet guaranteed to succeed.
type Hold struct {
	ID            int64      `json:"-"`
	HoldID        string     `json:"hold_id"`
	WalletID      string     `json:"wallet_id"`
	TenantID      string     `json:"tenant_id"`
	Amount        *big.Int   `json:"amount"`
	Currency      string     `json:"currency"`
	Status        HoldStatus `json:"status"`
	Reason        string     `json:"reason"`
	ReferenceType string     `json:"reference_type"`
	ReferenceID   string     `json:"reference_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CanTransition reports whether moving the hold to the target status is legal.
// A hold cannot be captured after release, nor released after capture.
func (hold *Hold) CanTransition(target HoldStatus) error {
	if hold.Status != HoldActive {
		return fmt.Errorf("hold %s is %s, cannot transition to %s", hold.HoldID, hold.Status, target)
	}
	if target != HoldCaptured && target != HoldReleased {
		return fmt.Errorf("hold %s cannot transition to %s", hold.HoldID, target)
	}
	return nil
}

// EntryTypeFor maps a terminal hold status to the ledger entry that records it.
func (hold *Hold) EntryTypeFor(target HoldStatus) EntryType {
	if target == HoldCaptured {
		return EntryCapture
	}
	return EntryRelease
}
