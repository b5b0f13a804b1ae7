package model

import (
	"encoding/json"
	"math/big"
	"time"
)

const (
	TransferCompleted = "COMPLETED"
	TransferFailed    = "FAILED"
)

// Idempotency operations. Keys are scoped to (tenant, operation) so the same
// caller-supplied string can safely guard different operation kinds.
const (
	OpTransfer      = "transfer"
	OpPayoutInitiate = "payout_initiate"
)

// Transfer describes one atomic two-wallet movement request.
type Transfer struct {
	TransferID     string   `json:"transfer_id"`
	TenantID       string   `json:"tenant_id"`
	FromWalletID   string   `json:"from_wallet_id"`
	ToWalletID     string   `json:"to_wallet_id"`
	Amount         *big.Int `json:"amount"`
	Currency       string   `json:"currency"`
	IdempotencyKey string   `json:"idempotency_key"`
	Description    string   `json:"description,omitempty"`
	ReferenceType  string   `json:"reference_type"`
	ReferenceID    string   `json:"reference_id"`
	CreatedBy      string   `json:"created_by"`
}

// TransferResult is what a transfer call returns, and also what gets stored
// against the idempotency key so replays return the original outcome.
type TransferResult struct {
	TransferID    string    `json:"transfer_id"`
	Status        string    `json:"status"`
	FromWalletID  string    `json:"from_wallet_id"`
	ToWalletID    string    `json:"to_wallet_id"`
	Amount        *big.Int  `json:"amount"`
	Currency      string    `json:"currency"`
	DebitEntryID  string    `json:"debit_entry_id,omitempty"`
	CreditEntryID string    `json:"credit_entry_id,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	IsDuplicate   bool      `json:"is_duplicate"`
	CreatedAt     time.Time `json:"created_at"`
}

// ToJSON serializes the result for idempotency storage.
func (r *TransferResult) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// TransferResultFromJSON restores a stored result. The duplicate flag is set
// by the caller, not stored.
func TransferResultFromJSON(data []byte) (*TransferResult, error) {
	var result TransferResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IdempotencyRecord is the durable reservation for one keyed operation.
// A row with a null result marks an operation still in flight.
type IdempotencyRecord struct {
	ID        int64           `json:"-"`
	TenantID  string          `json:"tenant_id"`
	Operation string          `json:"operation"`
	Key       string          `json:"key"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
