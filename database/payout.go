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

// CreatePayoutBatch inserts the batch and all its payout records in one
// transaction so a batch can never exist half-populated.
func (d Datasource) CreatePayoutBatch(ctx context.Context, batch *model.PayoutBatch, records []*model.PayoutRecord) (*model.PayoutBatch, error) {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payvault.payout_batches (batch_id, batch_number, tenant_id, status, currency, vendor_count, payout_count, total_net, is_demo, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, batch.BatchID, batch.BatchNumber, batch.TenantID, batch.Status, batch.Currency,
		batch.VendorCount, batch.PayoutCount, batch.TotalNet.String(), batch.IsDemo,
		batch.CreatedBy, batch.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payout batch", err)
	}

	for _, record := range records {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payvault.payout_records (payout_id, payout_number, batch_id, tenant_id, vendor_name, wallet_id, status, net_amount, currency, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		`, record.PayoutID, record.PayoutNumber, record.BatchID, record.TenantID,
			record.VendorName, record.WalletID, record.Status, record.NetAmount.String(),
			record.Currency, record.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create payout record", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return batch, nil
}

func (d Datasource) GetPayoutBatch(ctx context.Context, batchID string) (*model.PayoutBatch, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, batch_id, batch_number, tenant_id, status, currency, vendor_count, payout_count, total_net, is_demo, COALESCE(created_by, ''), created_at, processed_at, completed_at
		FROM payvault.payout_batches
		WHERE batch_id = $1
	`, batchID)

	batch := &model.PayoutBatch{}
	var totalNetStr string
	var processedAt, completedAt sql.NullTime
	err := row.Scan(&batch.ID, &batch.BatchID, &batch.BatchNumber, &batch.TenantID, &batch.Status,
		&batch.Currency, &batch.VendorCount, &batch.PayoutCount, &totalNetStr, &batch.IsDemo,
		&batch.CreatedBy, &batch.CreatedAt, &processedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout batch with ID '%s' not found", batchID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout batch", err)
	}
	batch.TotalNet, _ = new(big.Int).SetString(totalNetStr, 10)
	if processedAt.Valid {
		batch.ProcessedAt = &processedAt.Time
	}
	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}
	return batch, nil
}

// UpdateBatchStatus moves a batch between states with the source state in the
// WHERE clause. Zero rows affected means the batch is not in the expected
// state, which surfaces as INVALID_BATCH_TRANSITION with the attempted move.
func (d Datasource) UpdateBatchStatus(ctx context.Context, batchID string, from, to model.BatchStatus) error {
	query := `
		UPDATE payvault.payout_batches
		SET status = $3
	`
	switch to {
	case model.BatchProcessing:
		query += `, processed_at = NOW()`
	case model.BatchCompleted, model.BatchPartiallyCompleted, model.BatchFailed, model.BatchCancelled:
		query += `, completed_at = NOW()`
	}
	query += ` WHERE batch_id = $1 AND status = $2`

	result, err := d.Conn.ExecContext(ctx, query, batchID, from, to)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update batch status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check batch update", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			fmt.Sprintf("Batch '%s' is not %s, cannot transition to %s", batchID, from, to),
			map[string]string{"batch_id": batchID, "expected": string(from), "attempted": string(to)})
	}
	return nil
}

const payoutRecordColumns = `id, payout_id, payout_number, batch_id, tenant_id, COALESCE(vendor_name, ''), wallet_id, status, net_amount, currency, COALESCE(hold_id, ''), COALESCE(payment_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at`

func scanPayoutRecord(row rowScanner) (*model.PayoutRecord, error) {
	record := &model.PayoutRecord{}
	var netAmountStr string
	err := row.Scan(&record.ID, &record.PayoutID, &record.PayoutNumber, &record.BatchID, &record.TenantID,
		&record.VendorName, &record.WalletID, &record.Status, &netAmountStr, &record.Currency,
		&record.HoldID, &record.PaymentRef, &record.FailureReason, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	record.NetAmount, _ = new(big.Int).SetString(netAmountStr, 10)
	return record, nil
}

func (d Datasource) GetPayoutRecords(ctx context.Context, batchID string) ([]*model.PayoutRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payvault.payout_records WHERE batch_id = $1 ORDER BY id
	`, payoutRecordColumns), batchID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout records", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*model.PayoutRecord
	for rows.Next() {
		record, err := scanPayoutRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout record", err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (d Datasource) GetPayoutRecord(ctx context.Context, payoutID string) (*model.PayoutRecord, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payvault.payout_records WHERE payout_id = $1
	`, payoutRecordColumns), payoutID)
	record, err := scanPayoutRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout record with ID '%s' not found", payoutID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout record", err)
	}
	return record, nil
}

// GetPayoutByPaymentRef resolves a provider webhook's reference back to the
// payout record it settles.
func (d Datasource) GetPayoutByPaymentRef(ctx context.Context, paymentRef string) (*model.PayoutRecord, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payvault.payout_records WHERE payment_ref = $1
	`, payoutRecordColumns), paymentRef)
	record, err := scanPayoutRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with payment ref '%s' not found", paymentRef), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout by payment ref", err)
	}
	return record, nil
}

// UpdatePayoutStatus moves a payout between states guarded on its current
// state, mirroring the batch guard. Replayed webhook deliveries lose the
// guard and change nothing.
func (d Datasource) UpdatePayoutStatus(ctx context.Context, payoutID string, from, to model.PayoutStatus, paymentRef, failureReason string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payvault.payout_records
		SET status = $3,
			payment_ref = COALESCE(NULLIF($4, ''), payment_ref),
			failure_reason = COALESCE(NULLIF($5, ''), failure_reason),
			updated_at = NOW()
		WHERE payout_id = $1 AND status = $2
	`, payoutID, from, to, paymentRef, failureReason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payout status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check payout update", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidTransition,
			fmt.Sprintf("Payout '%s' is not %s, cannot transition to %s", payoutID, from, to),
			map[string]string{"payout_id": payoutID, "expected": string(from), "attempted": string(to)})
	}
	return nil
}

// SetPayoutHold records the explicit hold linkage on the payout record.
func (d Datasource) SetPayoutHold(ctx context.Context, payoutID, holdID string) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE payvault.payout_records SET hold_id = $2, updated_at = NOW() WHERE payout_id = $1
	`, payoutID, holdID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to link hold to payout", err)
	}
	return nil
}

func (d Datasource) RecordExecutionLog(ctx context.Context, logEntry *model.ExecutionLogEntry) error {
	if logEntry.LogID == "" {
		logEntry.LogID = model.GenerateUUIDWithSuffix("exl")
	}
	if logEntry.PerformedAt.IsZero() {
		logEntry.PerformedAt = time.Now()
	}
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payvault.payout_execution_logs (log_id, batch_id, action, from_status, to_status, details, performed_by, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, logEntry.LogID, logEntry.BatchID, logEntry.Action, logEntry.FromStatus, logEntry.ToStatus,
		logEntry.Details, logEntry.PerformedBy, logEntry.PerformedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record execution log", err)
	}
	return nil
}

func (d Datasource) GetExecutionLogs(ctx context.Context, batchID string) ([]model.ExecutionLogEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, log_id, batch_id, action, COALESCE(from_status, ''), COALESCE(to_status, ''), COALESCE(details, ''), COALESCE(performed_by, ''), performed_at
		FROM payvault.payout_execution_logs
		WHERE batch_id = $1
		ORDER BY id
	`, batchID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve execution logs", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var logs []model.ExecutionLogEntry
	for rows.Next() {
		var logEntry model.ExecutionLogEntry
		err := rows.Scan(&logEntry.ID, &logEntry.LogID, &logEntry.BatchID, &logEntry.Action,
			&logEntry.FromStatus, &logEntry.ToStatus, &logEntry.Details, &logEntry.PerformedBy, &logEntry.PerformedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan execution log", err)
		}
		logs = append(logs, logEntry)
	}
	return logs, nil
}

// GetStuckPayouts lists payouts sitting in PROCESSING past the reconciliation
// deadline, for the sweep to chase with the provider.
func (d Datasource) GetStuckPayouts(ctx context.Context, olderThan time.Time) ([]*model.PayoutRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM payvault.payout_records
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY id
	`, payoutRecordColumns), olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stuck payouts", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*model.PayoutRecord
	for rows.Next() {
		record, err := scanPayoutRecord(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout record", err)
		}
		records = append(records, record)
	}
	return records, nil
}
