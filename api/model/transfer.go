package model

import (
	"github.com/payvault/payvault/model"
)

type CreateTransfer struct {
	FromWalletID   string  `json:"from_wallet_id"`
	ToWalletID     string  `json:"to_wallet_id"`
	Amount         float64 `json:"amount"`
	Precision      float64 `json:"precision"`
	Currency       string  `json:"currency"`
	IdempotencyKey string  `json:"idempotency_key"`
	Description    string  `json:"description"`
	ReferenceType  string  `json:"reference_type"`
	ReferenceID    string  `json:"reference_id"`
}

func (t *CreateTransfer) ToTransfer(tenantID, createdBy string) *model.Transfer {
	return &model.Transfer{
		TenantID:       tenantID,
		FromWalletID:   t.FromWalletID,
		ToWalletID:     t.ToWalletID,
		Amount:         model.ApplyPrecision(t.Amount, t.Precision),
		Currency:       t.Currency,
		IdempotencyKey: t.IdempotencyKey,
		Description:    t.Description,
		ReferenceType:  t.ReferenceType,
		ReferenceID:    t.ReferenceID,
		CreatedBy:      createdBy,
	}
}
