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
	"strings"
	"time"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

// RecordEntry persists the ledger row and the wallet's conditional update in
// one transaction. The caller has already run wallet.ApplyEntry, so the
// entry's balance-after columns are the wallet's post-mutation state; either
// both rows land or neither does.
func (d Datasource) RecordEntry(ctx context.Context, wallet *model.Wallet, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := updateWalletTx(ctx, tx, wallet); err != nil {
		// Drop the cached copy so a conflict retry re-reads the winner's row.
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
	return entry, nil
}

func insertEntryTx(ctx context.Context, tx *sql.Tx, wallet *model.Wallet, entry *model.LedgerEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("lde")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Status == "" {
		entry.Status = model.EntryStatusPosted
	}
	entry.WalletID = wallet.WalletID
	entry.TenantID = wallet.TenantID
	entry.Currency = wallet.Currency
	entry.SnapshotWallet(wallet)
	entry.Hash = entry.HashEntry()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO payvault.ledger_entries (entry_id, wallet_id, tenant_id, entry_type, status, amount, currency, balance_after, pending_balance_after, available_balance_after, reference_type, reference_id, counterparty_wallet_id, hold_id, created_at, created_by, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, entry.EntryID, entry.WalletID, entry.TenantID, entry.EntryType, entry.Status,
		entry.Amount.String(), entry.Currency,
		entry.BalanceAfter.String(), entry.PendingBalanceAfter.String(), entry.AvailableBalanceAfter.String(),
		entry.ReferenceType, entry.ReferenceID, entry.CounterpartyWalletID, entry.HoldID,
		entry.CreatedAt, entry.CreatedBy, entry.Hash)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}
	return nil
}

const ledgerEntryColumns = `entry_id, wallet_id, tenant_id, entry_type, status, amount, currency, balance_after, pending_balance_after, available_balance_after, COALESCE(reference_type, ''), COALESCE(reference_id, ''), COALESCE(counterparty_wallet_id, ''), COALESCE(hold_id, ''), created_at, COALESCE(created_by, ''), COALESCE(hash, '')`

// GetLedgerEntries lists a wallet's entries in creation order, optionally
// narrowed by type, reference and date range.
func (d Datasource) GetLedgerEntries(ctx context.Context, walletID string, filter model.LedgerFilter) ([]*model.LedgerEntry, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(fmt.Sprintf("SELECT %s FROM payvault.ledger_entries WHERE wallet_id = $1", ledgerEntryColumns))

	args := []interface{}{walletID}
	if filter.EntryType != "" {
		args = append(args, filter.EntryType)
		queryBuilder.WriteString(fmt.Sprintf(" AND entry_type = $%d", len(args)))
	}
	if filter.ReferenceType != "" {
		args = append(args, filter.ReferenceType)
		queryBuilder.WriteString(fmt.Sprintf(" AND reference_type = $%d", len(args)))
	}
	if filter.ReferenceID != "" {
		args = append(args, filter.ReferenceID)
		queryBuilder.WriteString(fmt.Sprintf(" AND reference_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		queryBuilder.WriteString(fmt.Sprintf(" AND created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		queryBuilder.WriteString(fmt.Sprintf(" AND created_at <= $%d", len(args)))
	}

	queryBuilder.WriteString(" ORDER BY id")
	limit := filter.Limit
	if limit == 0 {
		limit = 20
	}
	// A negative limit returns the full ledger, as replay verification needs.
	if limit > 0 {
		args = append(args, limit)
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
		args = append(args, filter.Offset)
		queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", len(args)))
	}

	rows, err := d.Conn.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanEntries(rows)
}

// GetEntriesByReference returns all entries linked to a business event. The
// transfer recovery path uses this to find a debit's missing credit pair.
func (d Datasource) GetEntriesByReference(ctx context.Context, referenceType, referenceID string) ([]*model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payvault.ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY id
	`, ledgerEntryColumns), referenceType, referenceID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve entries by reference", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	for rows.Next() {
		entry := &model.LedgerEntry{}
		var amountStr, balanceAfterStr, pendingAfterStr, availableAfterStr string
		err := rows.Scan(&entry.EntryID, &entry.WalletID, &entry.TenantID, &entry.EntryType, &entry.Status,
			&amountStr, &entry.Currency, &balanceAfterStr, &pendingAfterStr, &availableAfterStr,
			&entry.ReferenceType, &entry.ReferenceID, &entry.CounterpartyWalletID, &entry.HoldID,
			&entry.CreatedAt, &entry.CreatedBy, &entry.Hash)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entry.Amount, _ = new(big.Int).SetString(amountStr, 10)
		entry.BalanceAfter, _ = new(big.Int).SetString(balanceAfterStr, 10)
		entry.PendingBalanceAfter, _ = new(big.Int).SetString(pendingAfterStr, 10)
		entry.AvailableBalanceAfter, _ = new(big.Int).SetString(availableAfterStr, 10)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to iterate ledger entries", err)
	}
	return entries, nil
}
