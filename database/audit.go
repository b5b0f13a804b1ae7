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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

// RecordAudit appends one audit row. There is no corresponding update or
// delete anywhere in this package.
func (d Datasource) RecordAudit(ctx context.Context, auditLog *model.AuditLog) error {
	if auditLog.AuditID == "" {
		auditLog.AuditID = model.GenerateUUIDWithSuffix("aud")
	}
	if auditLog.CreatedAt.IsZero() {
		auditLog.CreatedAt = time.Now()
	}
	detailsJSON, err := json.Marshal(auditLog.Details)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal audit details", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO payvault.audit_logs (audit_id, tenant_id, entity_type, entity_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, auditLog.AuditID, auditLog.TenantID, auditLog.EntityType, auditLog.EntityID,
		auditLog.Action, auditLog.Actor, detailsJSON, auditLog.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record audit log", err)
	}
	return nil
}

func (d Datasource) GetAuditByEntity(ctx context.Context, tenantID string, filter model.AuditFilter) ([]model.AuditLog, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT id, audit_id, tenant_id, entity_type, entity_id, action, COALESCE(actor, ''), details, created_at
		FROM payvault.audit_logs
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`)
	args := []interface{}{tenantID, filter.EntityType, filter.EntityID}
	appendAuditRange(&queryBuilder, &args, filter)

	return d.queryAuditLogs(ctx, queryBuilder.String(), args...)
}

func (d Datasource) GetAuditByActor(ctx context.Context, tenantID string, filter model.AuditFilter) ([]model.AuditLog, error) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT id, audit_id, tenant_id, entity_type, entity_id, action, COALESCE(actor, ''), details, created_at
		FROM payvault.audit_logs
		WHERE tenant_id = $1 AND actor = $2`)
	args := []interface{}{tenantID, filter.Actor}
	appendAuditRange(&queryBuilder, &args, filter)

	return d.queryAuditLogs(ctx, queryBuilder.String(), args...)
}

func appendAuditRange(queryBuilder *strings.Builder, args *[]interface{}, filter model.AuditFilter) {
	if !filter.From.IsZero() {
		*args = append(*args, filter.From)
		queryBuilder.WriteString(fmt.Sprintf(" AND created_at >= $%d", len(*args)))
	}
	if !filter.To.IsZero() {
		*args = append(*args, filter.To)
		queryBuilder.WriteString(fmt.Sprintf(" AND created_at <= $%d", len(*args)))
	}
	limit := filter.Limit
	if limit == 0 {
		limit = 20
	}
	*args = append(*args, limit)
	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY id LIMIT $%d", len(*args)))
	*args = append(*args, filter.Offset)
	queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", len(*args)))
}

func (d Datasource) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]model.AuditLog, error) {
	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve audit logs", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var logs []model.AuditLog
	for rows.Next() {
		var auditLog model.AuditLog
		var detailsJSON []byte
		err := rows.Scan(&auditLog.ID, &auditLog.AuditID, &auditLog.TenantID, &auditLog.EntityType,
			&auditLog.EntityID, &auditLog.Action, &auditLog.Actor, &detailsJSON, &auditLog.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan audit log", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &auditLog.Details); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal audit details", err)
			}
		}
		logs = append(logs, auditLog)
	}
	return logs, nil
}
