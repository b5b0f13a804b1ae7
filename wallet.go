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

package payvault

import (
	"context"
	"fmt"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/internal/notification"
	"github.com/payvault/payvault/model"
)

// CreateWallet provisions a wallet for a (tenant, owner) pair with zeroed
// balances.
func (p *Payvault) CreateWallet(ctx context.Context, wallet model.Wallet) (model.Wallet, error) {
	if wallet.TenantID == "" {
		return model.Wallet{}, apierror.NewAPIError(apierror.ErrInvalidInput, "tenant_id is required", nil)
	}
	if wallet.Currency == "" {
		return model.Wallet{}, apierror.NewAPIError(apierror.ErrInvalidInput, "currency is required", nil)
	}
	return p.datasource.CreateWallet(ctx, wallet)
}

// GetWallet returns a tenant's wallet with its three balances.
func (p *Payvault) GetWallet(ctx context.Context, tenantID, walletID string) (*model.Wallet, error) {
	return p.datasource.GetWallet(ctx, tenantID, walletID)
}

// GetAllWallets lists a tenant's wallets.
func (p *Payvault) GetAllWallets(ctx context.Context, tenantID string, limit, offset int) ([]model.Wallet, error) {
	return p.datasource.GetAllWallets(ctx, tenantID, limit, offset)
}

// GetWalletLedger returns a page of a wallet's ledger entries together with
// the wallet's current balances.
func (p *Payvault) GetWalletLedger(ctx context.Context, tenantID, walletID string, filter model.LedgerFilter) (*model.Wallet, []*model.LedgerEntry, error) {
	wallet, err := p.datasource.GetWallet(ctx, tenantID, walletID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := p.datasource.GetLedgerEntries(ctx, walletID, filter)
	if err != nil {
		return nil, nil, err
	}
	return wallet, entries, nil
}

// VerifyWalletReplay replays the wallet's full ledger from zero and compares
// the result with the stored balances. A divergence is an integrity
// violation: it is alerted to operators and never auto-corrected.
func (p *Payvault) VerifyWalletReplay(ctx context.Context, tenantID, walletID string) (bool, error) {
	wallet, err := p.datasource.GetWallet(ctx, tenantID, walletID)
	if err != nil {
		return false, err
	}
	entries, err := p.datasource.GetLedgerEntries(ctx, walletID, model.LedgerFilter{Limit: -1})
	if err != nil {
		return false, err
	}
	replayed, err := wallet.Replay(entries)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Ledger replay failed", err)
	}
	if !wallet.MatchesReplay(replayed) {
		integrityErr := fmt.Errorf("wallet %s balances diverge from ledger replay: stored balance=%s replayed balance=%s",
			walletID, wallet.Balance.String(), replayed.Balance.String())
		notification.NotifyError(integrityErr)
		return false, nil
	}
	return true, nil
}
