package model

import (
	"github.com/payvault/payvault"
	"github.com/payvault/payvault/model"
)

type BatchPayee struct {
	VendorName string  `json:"vendor_name"`
	WalletID   string  `json:"wallet_id"`
	NetAmount  float64 `json:"net_amount"`
}

type CreatePayoutBatch struct {
	Currency  string       `json:"currency"`
	Precision float64      `json:"precision"`
	IsDemo    bool         `json:"is_demo"`
	Payees    []BatchPayee `json:"payees"`
}

// ToPayees converts the float payee amounts into minor units using the
// batch-wide precision.
func (b *CreatePayoutBatch) ToPayees() []payvault.BatchPayee {
	payees := make([]payvault.BatchPayee, 0, len(b.Payees))
	for _, payee := range b.Payees {
		payees = append(payees, payvault.BatchPayee{
			VendorName: payee.VendorName,
			WalletID:   payee.WalletID,
			NetAmount:  model.ApplyPrecision(payee.NetAmount, b.Precision),
		})
	}
	return payees
}

type CancelPayoutBatch struct {
	Reason string `json:"reason"`
}
