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
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/payvault/payvault/api/model"
	"github.com/payvault/payvault/model"
)

// CreateWallet provisions a wallet for the calling tenant.
//
// Responses:
// - 400 Bad Request: If the payload is malformed or fails validation.
// - 201 Created: The new wallet with zeroed balances.
func (a Api) CreateWallet(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var newWallet model2.CreateWallet
	if err := c.ShouldBindJSON(&newWallet); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := newWallet.ValidateCreateWallet(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.payvault.CreateWallet(c.Request.Context(), newWallet.ToWallet(tenant))
	if err != nil {
		respondError(c, err)
		return
	}

	a.payvault.RecordAudit(c.Request.Context(), &model.AuditLog{
		TenantID:   tenant,
		EntityType: "wallet",
		EntityID:   resp.WalletID,
		Action:     "create",
		Actor:      actor(c),
	})
	c.JSON(http.StatusCreated, resp)
}

func (a Api) GetWallet(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.payvault.GetWallet(c.Request.Context(), tenant, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllWallets(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	resp, err := a.payvault.GetAllWallets(c.Request.Context(), tenant, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetWalletLedger returns a page of the wallet's ledger entries together
// with its current balances.
func (a Api) GetWalletLedger(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := model.LedgerFilter{
		EntryType:     c.Query("entry_type"),
		ReferenceType: c.Query("reference_type"),
		ReferenceID:   c.Query("reference_id"),
		Limit:         limit,
		Offset:        offset,
	}

	wallet, entries, err := a.payvault.GetWalletLedger(c.Request.Context(), tenant, id, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": wallet, "entries": entries})
}

// VerifyWalletLedger replays the wallet's full ledger and reports whether
// the stored balances match the replayed ones.
func (a Api) VerifyWalletLedger(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	consistent, err := a.payvault.VerifyWalletReplay(c.Request.Context(), tenant, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet_id": id, "consistent": consistent})
}
