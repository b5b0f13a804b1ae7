/*
Copyright 2025 Payvault Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func (w *CreateWallet) ValidateCreateWallet() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.OwnerID, validation.Required),
		validation.Field(&w.Currency, validation.Required, validation.Length(3, 3)),
	)
}

func (t *CreateTransfer) ValidateCreateTransfer() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.FromWalletID, validation.Required),
		validation.Field(&t.ToWalletID, validation.Required),
		validation.Field(&t.Amount, validation.Required, validation.Min(float64(0)).Exclusive()),
		validation.Field(&t.Currency, validation.Required),
		validation.Field(&t.IdempotencyKey, validation.Required),
	)
}

func payeesValidation(b *CreatePayoutBatch) validation.RuleFunc {
	return func(value interface{}) error {
		for i, payee := range b.Payees {
			if payee.VendorName == "" {
				return fmt.Errorf("payee %d: vendor_name is required", i)
			}
			if payee.WalletID == "" {
				return fmt.Errorf("payee %d: wallet_id is required", i)
			}
			if payee.NetAmount <= 0 {
				return fmt.Errorf("payee %d: net_amount must be positive", i)
			}
		}
		return nil
	}
}

func (b *CreatePayoutBatch) ValidateCreatePayoutBatch() error {
	if len(b.Payees) == 0 {
		return errors.New("at least one payee is required")
	}
	return validation.ValidateStruct(b,
		validation.Field(&b.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&b.Payees, validation.By(payeesValidation(b))),
	)
}
