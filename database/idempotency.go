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
	"time"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

const idempotencyCacheTTL = time.Hour

func idempotencyCacheKey(tenantID, operation, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", tenantID, operation, key)
}

// ReserveIdempotencyKey atomically claims (tenant, operation, key). The
// insert itself is the check-and-reserve: when the unique index rejects it,
// the existing record is returned so the caller can replay the stored
// result. There is never a separate pre-check that two concurrent retries
// could both pass.
func (d Datasource) ReserveIdempotencyKey(ctx context.Context, tenantID, operation, key string) (bool, *model.IdempotencyRecord, error) {
	// Only finalized results are ever cached, so a hit is always a replay.
	if d.Cache != nil {
		cached := &model.IdempotencyRecord{}
		if err := d.Cache.Get(ctx, idempotencyCacheKey(tenantID, operation, key), cached); err == nil && len(cached.Result) > 0 {
			return false, cached, nil
		}
	}

	now := time.Now()
	var id int64
	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO payvault.idempotency_keys (tenant_id, operation, key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (tenant_id, operation, key) DO NOTHING
		RETURNING id
	`, tenantID, operation, key, now).Scan(&id)
	if err == nil {
		return true, nil, nil
	}
	if err != sql.ErrNoRows {
		return false, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve idempotency key", err)
	}

	existing, err := d.GetIdempotencyRecord(ctx, tenantID, operation, key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// SaveIdempotencyResult stores the operation's final outcome against the key.
func (d Datasource) SaveIdempotencyResult(ctx context.Context, tenantID, operation, key string, result []byte) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE payvault.idempotency_keys
		SET result = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND operation = $2 AND key = $3
	`, tenantID, operation, key, result)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save idempotency result", err)
	}
	if d.Cache != nil {
		_ = d.Cache.Set(ctx, idempotencyCacheKey(tenantID, operation, key), &model.IdempotencyRecord{
			TenantID:  tenantID,
			Operation: operation,
			Key:       key,
			Result:    result,
			UpdatedAt: time.Now(),
		}, idempotencyCacheTTL)
	}
	return nil
}

func (d Datasource) GetIdempotencyRecord(ctx context.Context, tenantID, operation, key string) (*model.IdempotencyRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, operation, key, result, created_at, updated_at
		FROM payvault.idempotency_keys
		WHERE tenant_id = $1 AND operation = $2 AND key = $3
	`, tenantID, operation, key)

	record := &model.IdempotencyRecord{}
	var result sql.NullString
	err := row.Scan(&record.ID, &record.TenantID, &record.Operation, &record.Key, &result, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Idempotency key '%s' not found", key), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve idempotency record", err)
	}
	if result.Valid {
		record.Result = []byte(result.String)
	}
	return record, nil
}

// GetStalePendingKeys lists reservations that never received a result, which
// means the operation crashed mid-flight. The recovery sweep inspects each
// one's ledger trail and either completes or compensates it.
func (d Datasource) GetStalePendingKeys(ctx context.Context, operation string, olderThan time.Time) ([]model.IdempotencyRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, tenant_id, operation, key, created_at, updated_at
		FROM payvault.idempotency_keys
		WHERE operation = $1 AND result IS NULL AND created_at < $2
		ORDER BY id
	`, operation, olderThan)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale idempotency keys", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []model.IdempotencyRecord
	for rows.Next() {
		var record model.IdempotencyRecord
		if err := rows.Scan(&record.ID, &record.TenantID, &record.Operation, &record.Key, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan idempotency record", err)
		}
		records = append(records, record)
	}
	return records, nil
}
