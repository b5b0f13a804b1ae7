package model

import (
	"github.com/payvault/payvault/model"
)

type CreateWallet struct {
	OwnerID  string                 `json:"owner_id"`
	Currency string                 `json:"currency"`
	MetaData map[string]interface{} `json:"meta_data"`
}

func (w *CreateWallet) ToWallet(tenantID string) model.Wallet {
	return model.Wallet{
		TenantID: tenantID,
		OwnerID:  w.OwnerID,
		Currency: w.Currency,
		MetaData: w.MetaData,
	}
}
