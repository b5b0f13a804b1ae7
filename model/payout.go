package model

import (
	"fmt"
	"math/big"
	"time"
)

// BatchStatus is the payout batch state machine.
// PENDING → APPROVED → PROCESSING → {COMPLETED, PARTIALLY_COMPLETED, FAILED};
// PENDING|APPROVED → CANCELLED. All right-hand states are terminal.
type BatchStatus string

const (
	BatchPending            BatchStatus = "PENDING"
	BatchApproved           BatchStatus = "APPROVED"
	BatchProcessing         BatchStatus = "PROCESSING"
	BatchCompleted          BatchStatus = "COMPLETED"
	BatchPartiallyCompleted BatchStatus = "PARTIALLY_COMPLETED"
	BatchFailed             BatchStatus = "FAILED"
	BatchCancelled          BatchStatus = "CANCELLED"
)

// PayoutStatus is the per-record state within a batch.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "PENDING"
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutCompleted  PayoutStatus = "COMPLETED"
	PayoutFailed     PayoutStatus = "FAILED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:    {BatchApproved, BatchCancelled},
	BatchApproved:   {BatchProcessing, BatchCancelled},
	BatchProcessing: {BatchCompleted, BatchPartiallyCompleted, BatchFailed},
}

// PayoutBatch groups N payee transfers executed and tracked together.
// Batches are never deleted; cancellation and failure are terminal states.
type PayoutBatch struct {
	ID          int64       `json:"-"`
	BatchID     string      `json:"batch_id"`
	BatchNumber string      `json:"batch_number"`
	TenantID    string      `json:"tenant_id"`
	Status      BatchStatus `json:"status"`
	Currency    string      `json:"currency"`
	VendorCount int         `json:"vendor_count"`
	PayoutCount int         `json:"payout_count"`
	TotalNet    *big.Int    `json:"total_net"`
	IsDemo      bool        `json:"is_demo"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// CanTransition reports whether the batch may move to the target status.
func (batch *PayoutBatch) CanTransition(target BatchStatus) error {
	for _, allowed := range batchTransitions[batch.Status] {
		if allowed == target {
			return nil
		}
	}
	return fmt.Errorf("batch %s is %s, cannot transition to %s", batch.BatchID, batch.Status, target)
}

// IsTerminal reports whether the batch has reached a final state.
func (batch *PayoutBatch) IsTerminal() bool {
	switch batch.Status {
	case BatchCompleted, BatchPartiallyCompleted, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// PayoutRecord is one payee's slice of a batch. HoldID links the record to
// the hold reserved for it, so cancellation releases exactly the right holds.
type PayoutRecord struct {
	ID             int64        `json:"-"`
	PayoutID       string       `json:"payout_id"`
	PayoutNumber   string       `json:"payout_number"`
	BatchID        string       `json:"batch_id"`
	TenantID       string       `json:"tenant_id"`
	VendorName     string       `json:"vendor_name"`
	WalletID       string       `json:"wallet_id"`
	Status         PayoutStatus `json:"status"`
	NetAmount      *big.Int     `json:"net_amount"`
	Currency       string       `json:"currency"`
	HoldID         string       `json:"hold_id,omitempty"`
	PaymentRef     string       `json:"payment_ref,omitempty"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the payout has reached a final state.
func (payout *PayoutRecord) IsTerminal() bool {
	return payout.Status == PayoutCompleted || payout.Status == PayoutFailed
}

// FinalBatchStatus derives the terminal batch status from its payout records.
// All completed ⇒ COMPLETED, all failed ⇒ FAILED, anything else ⇒ mixed.
func FinalBatchStatus(payouts []*PayoutRecord) (BatchStatus, bool) {
	completed, failed := 0, 0
	for _, payout := range payouts {
		switch payout.Status {
		case PayoutCompleted:
			completed++
		case PayoutFailed:
			failed++
		default:
			return "", false
		}
	}
	switch {
	case failed == 0:
		return BatchCompleted, true
	case completed == 0:
		return BatchFailed, true
	default:
		return BatchPartiallyCompleted, true
	}
}

// ExecutionLogEntry is the immutable trail of one batch transition. The log,
// read in order, replays the batch's entire life.
type ExecutionLogEntry struct {
	ID          int64     `json:"-"`
	LogID       string    `json:"log_id"`
	BatchID     string    `json:"batch_id"`
	Action      string    `json:"action"`
	FromStatus  string    `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	Details     string    `json:"details,omitempty"`
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
}
