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
	"fmt"
	"math/big"
	"time"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

// CreateHold inserts the hold row, applies the wallet's pending-balance
// delta and appends the HOLD entry in one transaction.
func (d Datasource) CreateHold(ctx context.Context, wallet *model.Wallet, newHold *model.Hold, entry *model.LedgerEntry) (*model.Hold, error) {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	newHold.HoldID = model.GenerateUUIDWithSuffix("hld")
	newHold.Status = model.HoldActive
	newHold.CreatedAt = time.Now()
	newHold.UpdatedAt = newHold.CreatedAt
	newHold.WalletID = wallet.WalletID
	newHold.TenantID = wallet.TenantID
	newHold.Currency = wallet.Currency

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payvault.holds (hold_id, wallet_id, tenant_id, amount, currency, status, reason, reference_type, reference_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, newHold.HoldID, newHold.WalletID, newHold.TenantID, newHold.Amount.String(), newHold.Currency,
		newHold.Status, newHold.Reason, newHold.ReferenceType, newHold.ReferenceID,
		newHold.CreatedAt, newHold.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create hold", err)
	}

	entry.HoldID = newHold.HoldID
	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		d.invalidateWallet(ctx, wallet.WalletID)
		return nil, err
	}
	if err := insertEntryTx(ctx, tx, wallet, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	d.invalidateWallet(ctx, wallet.WalletID)
	return newHold, nil
}

func (d Datasource) GetHold(ctx context.Context, holdID string) (*model.Hold, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, hold_id, wallet_id, tenant_id, amount, currency, status, COALESCE(reason, ''), COALESCE(reference_type, ''), COALESCE(reference_id, ''), created_at, updated_at
		FROM payvault.holds
		WHERE hold_id = $1
	`, holdID)

	transitioning := &model.Hold{}
	var amountStr string
	err := row.Scan(&transitioning.ID, &transitioning.HoldID, &transitioning.WalletID, &transitioning.TenantID,
		&amountStr, &transitioning.Currency, &transitioning.Status, &transitioning.Reason,
		&transitioning.ReferenceType, &transitioning.ReferenceID, &transitioning.CreatedAt, &transitioning.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Hold with ID '%s' not found", holdID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve hold", err)
	}
	transitioning.Amount, _ = new(big.Int).SetString(amountStr, 10)
	return transitioning, nil
}

// TransitionHold moves an ACTIVE hold to CAPTURED or RELEASED together with
// its wallet delta and ledger entry, all in one transaction. The hold update
// is guarded on status = 'ACTIVE'; zero rows affected means the hold already
// reached a terminal state and the whole transition fails with
// INVALID_HOLD_STATE. This guard is what makes capture and release mutually
// exclusive under concurrency.
func (d Datasource) TransitionHold(ctx context.Context, wallet *model.Wallet, transitioning *model.Hold, target model.HoldStatus, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	result, err := tx.ExecContext(ctx, `
		UPDATE payvault.holds
		SET status = $2, updated_at = NOW()
		WHERE hold_id = $1 AND status = 'ACTIVE'
	`, transitioning.HoldID, target)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to transition hold", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check hold transition", err)
	}
	if affected == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidHoldState,
			fmt.Sprintf("Hold '%s' is not ACTIVE, cannot transition to %s", transitioning.HoldID, target),
			map[string]string{"hold_id": transitioning.HoldID, "attempted": string(target)})
	}

	entry.HoldID = transitioning.HoldID
	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		d.invalidateWallet(ctx, wallet.WalletID)
		return nil, err
	}
	if err := insertEntryTx(ctx, tx, wallet, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	transitioning.Status = target
	d.invalidateWallet(ctx, wallet.WalletID)
	return entry, nil
}

func (d Datasource) GetActiveHoldsByReference(ctx context.Context, referenceType, referenceID string) ([]*model.Hold, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, hold_id, wallet_id, tenant_id, amount, currency, status, COALESCE(reason, ''), COALESCE(reference_type, ''), COALESCE(reference_id, ''), created_at, updated_at
		FROM payvault.holds
		WHERE reference_type = $1 AND reference_id = $2 AND status = 'ACTIVE'
		ORDER BY id
	`, referenceType, referenceID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve holds by reference", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var holds []*model.Hold
	for rows.Next() {
		active := &model.Hold{}
		var amountStr string
		err := rows.Scan(&active.ID, &active.HoldID, &active.WalletID, &active.TenantID,
			&amountStr, &active.Currency, &active.Status, &active.Reason,
			&active.ReferenceType, &active.ReferenceID, &active.CreatedAt, &active.UpdatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan hold", err)
		}
		active.Amount, _ = new(big.Int).SetString(amountStr, 10)
		holds = append(holds, active)
	}
	return holds, nil
}
