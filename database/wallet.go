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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

const walletCacheTTL = 5 * time.Minute

func walletCacheKey(walletID string) string {
	return fmt.Sprintf("wallet:%s", walletID)
}

func (d Datasource) CreateWallet(ctx context.Context, wallet model.Wallet) (model.Wallet, error) {
	wallet.WalletID = model.GenerateUUIDWithSuffix("wlt")
	wallet.CreatedAt = time.Now()
	wallet.InitializeBalanceFields()

	metaDataJSON, err := json.Marshal(wallet.MetaData)
	if err != nil {
		return model.Wallet{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO payvault.wallets (wallet_id, tenant_id, owner_id, currency, balance, pending_balance, available_balance, version, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)
	`, wallet.WalletID, wallet.TenantID, wallet.OwnerID, wallet.Currency,
		wallet.Balance.String(), wallet.PendingBalance.String(), wallet.AvailableBalance.String(),
		wallet.CreatedAt, metaDataJSON)
	if err != nil {
		return model.Wallet{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create wallet", err)
	}
	return wallet, nil
}

func (d Datasource) GetWallet(ctx context.Context, tenantID, walletID string) (*model.Wallet, error) {
	wallet, err := d.GetWalletByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.TenantID != tenantID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Wallet with ID '%s' not found", walletID), sql.ErrNoRows)
	}
	return wallet, nil
}

func (d Datasource) GetWalletByID(ctx context.Context, walletID string) (*model.Wallet, error) {
	if d.Cache != nil {
		cached := &model.Wallet{}
		if err := d.Cache.Get(ctx, walletCacheKey(walletID), cached); err == nil && cached.WalletID != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, wallet_id, tenant_id, COALESCE(owner_id, ''), currency, balance, pending_balance, available_balance, version, created_at, meta_data
		FROM payvault.wallets
		WHERE wallet_id = $1
	`, walletID)

	wallet, err := scanWalletRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Wallet with ID '%s' not found", walletID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, walletCacheKey(walletID), wallet, walletCacheTTL)
	}
	return wallet, nil
}

func (d Datasource) GetAllWallets(ctx context.Context, tenantID string, limit, offset int) ([]model.Wallet, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, wallet_id, tenant_id, COALESCE(owner_id, ''), currency, balance, pending_balance, available_balance, version, created_at, meta_data
		FROM payvault.wallets
		WHERE tenant_id = $1
		ORDER BY id
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallets", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var wallets []model.Wallet
	for rows.Next() {
		wallet, err := scanWalletRows(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan wallet", err)
		}
		wallets = append(wallets, *wallet)
	}
	return wallets, nil
}

// updateWalletTx applies the wallet's in-memory balances as a single-row
// conditional update inside tx. Zero rows affected means another writer won
// the version race; the caller gets CONFLICT and retries with a fresh read.
func updateWalletTx(ctx context.Context, tx *sql.Tx, wallet *model.Wallet) error {
	wallet.InitializeBalanceFields()
	result, err := tx.ExecContext(ctx, `
		UPDATE payvault.wallets
		SET balance = $2, pending_balance = $3, available_balance = $4, version = version + 1
		WHERE wallet_id = $1 AND version = $5
	`, wallet.WalletID, wallet.Balance.String(), wallet.PendingBalance.String(),
		wallet.AvailableBalance.String(), wallet.Version)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update wallet", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check update result", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Wallet '%s' was modified concurrently, expected version %d", wallet.WalletID, wallet.Version),
			nil)
	}
	wallet.Version++
	return nil
}

// invalidateWallet drops the cached copy after any balance mutation.
func (d Datasource) invalidateWallet(ctx context.Context, walletID string) {
	if d.Cache != nil {
		_ = d.Cache.Delete(ctx, walletCacheKey(walletID))
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWalletRow(row *sql.Row) (*model.Wallet, error) {
	return scanWallet(row)
}

func scanWalletRows(rows *sql.Rows) (*model.Wallet, error) {
	return scanWallet(rows)
}

func scanWallet(row rowScanner) (*model.Wallet, error) {
	wallet := &model.Wallet{}
	var balanceStr, pendingStr, availableStr string
	var metaDataJSON []byte

	err := row.Scan(&wallet.ID, &wallet.WalletID, &wallet.TenantID, &wallet.OwnerID, &wallet.Currency,
		&balanceStr, &pendingStr, &availableStr, &wallet.Version, &wallet.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	wallet.Balance, _ = new(big.Int).SetString(balanceStr, 10)
	wallet.PendingBalance, _ = new(big.Int).SetString(pendingStr, 10)
	wallet.AvailableBalance, _ = new(big.Int).SetString(availableStr, 10)
	wallet.InitializeBalanceFields()

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &wallet.MetaData); err != nil {
			return nil, err
		}
	}
	return wallet, nil
}
