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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/payvault/payvault/api/model"
	"github.com/payvault/payvault/model"
)

// CreatePayoutBatch groups a payee list into a PENDING batch. No money moves
// until the batch is approved and executed.
func (a Api) CreatePayoutBatch(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var newBatch model2.CreatePayoutBatch
	if err := c.ShouldBindJSON(&newBatch); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newBatch.ValidateCreatePayoutBatch(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payvault.CreateBatch(c.Request.Context(), tenant, newBatch.Currency, actor(c), newBatch.IsDemo, newBatch.ToPayees())
	if err != nil {
		respondError(c, err)
		return
	}

	a.auditBatch(c, tenant, resp.BatchID, "create")
	c.JSON(http.StatusCreated, resp)
}

// ApprovePayoutBatch moves a PENDING batch to APPROVED.
func (a Api) ApprovePayoutBatch(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.payvault.ApproveBatch(c.Request.Context(), tenant, id, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	a.auditBatch(c, tenant, resp.BatchID, "approve")
	c.JSON(http.StatusOK, resp)
}

// ExecutePayoutBatch starts processing an APPROVED batch. Re-invoking a batch
// already PROCESSING or terminal returns its current state unchanged.
func (a Api) ExecutePayoutBatch(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.payvault.ExecuteBatch(c.Request.Context(), tenant, id, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	a.auditBatch(c, tenant, resp.BatchID, "execute")
	c.JSON(http.StatusOK, resp)
}

// CancelPayoutBatch cancels a batch that has not started processing.
//
// Responses:
// - 409 Conflict: If the batch already left the cancellable states; the
//   response details carry the current status.
// - 200 OK: The cancelled batch.
func (a Api) CancelPayoutBatch(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}
	var cancel model2.CancelPayoutBatch
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&cancel); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	resp, err := a.payvault.CancelBatch(c.Request.Context(), tenant, id, cancel.Reason, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}

	a.auditBatch(c, tenant, resp.BatchID, "cancel")
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPayoutBatch(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	batch, records, err := a.payvault.GetBatch(c.Request.Context(), tenant, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "payouts": records})
}

func (a Api) GetExecutionLog(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	entries, err := a.payvault.GetExecutionLog(c.Request.Context(), tenant, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a Api) auditBatch(c *gin.Context, tenant, batchID, action string) {
	a.payvault.RecordAudit(c.Request.Context(), &model.AuditLog{
		TenantID:   tenant,
		EntityType: "payout_batch",
		EntityID:   batchID,
		Action:     action,
		Actor:      actor(c),
	})
}
