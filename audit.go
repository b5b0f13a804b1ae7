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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

// RecordAudit appends one audit row. Audit writes never fail the operation
// they describe; a sink problem is logged and swallowed.
func (p *Payvault) RecordAudit(ctx context.Context, auditLog *model.AuditLog) {
	if auditLog.CreatedAt.IsZero() {
		auditLog.CreatedAt = time.Now()
	}
	if err := p.datasource.RecordAudit(ctx, auditLog); err != nil {
		logrus.Errorf("failed to record audit for %s %s: %v", auditLog.EntityType, auditLog.EntityID, err)
	}
}

// GetAuditTrail lists a tenant's audit rows for one entity in insertion order.
func (p *Payvault) GetAuditTrail(ctx context.Context, tenantID string, filter model.AuditFilter) ([]model.AuditLog, error) {
	if filter.EntityType == "" || filter.EntityID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "entity_type and entity_id are required", nil)
	}
	return p.datasource.GetAuditByEntity(ctx, tenantID, filter)
}

// GetAuditByActor lists a tenant's audit rows produced by one actor.
func (p *Payvault) GetAuditByActor(ctx context.Context, tenantID string, filter model.AuditFilter) ([]model.AuditLog, error) {
	if filter.Actor == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "actor is required", nil)
	}
	return p.datasource.GetAuditByActor(ctx, tenantID, filter)
}
