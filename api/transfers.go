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

// CreateTransfer executes an atomic two-wallet movement. Replays of the same
// idempotency key return the stored first outcome with is_duplicate set.
//
// Responses:
// - 400 Bad Request: If the payload is malformed or fails validation.
// - 402 Payment Required: If the source wallet cannot cover the amount.
// - 409 Conflict: If the same key is still in flight on another request.
// - 201 Created: The transfer result, stored or fresh.
func (a Api) CreateTransfer(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var newTransfer model2.CreateTransfer
	if err := c.ShouldBindJSON(&newTransfer); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if err := newTransfer.ValidateCreateTransfer(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payvault.Transfer(c.Request.Context(), newTransfer.ToTransfer(tenant, actor(c)))
	if err != nil {
		respondError(c, err)
		return
	}

	if !resp.IsDuplicate {
		a.payvault.RecordAudit(c.Request.Context(), &model.AuditLog{
			TenantID:   tenant,
			EntityType: "transfer",
			EntityID:   resp.TransferID,
			Action:     "transfer",
			Actor:      actor(c),
			Details: map[string]interface{}{
				"from_wallet_id": resp.FromWalletID,
				"to_wallet_id":   resp.ToWalletID,
				"amount":         resp.Amount.String(),
				"status":         resp.Status,
			},
		})
	}
	c.JSON(http.StatusCreated, resp)
}
