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

	"github.com/payvault/payvault/model"
)

// GetAuditLogs lists audit rows for the tenant, filtered either by entity
// (entity_type plus entity_id) or by actor.
func (a Api) GetAuditLogs(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter := model.AuditFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Actor:      c.Query("actor"),
		Limit:      limit,
		Offset:     offset,
	}

	var (
		entries []model.AuditLog
		err     error
	)
	if filter.Actor != "" {
		entries, err = a.payvault.GetAuditByActor(c.Request.Context(), tenant, filter)
	} else {
		entries, err = a.payvault.GetAuditTrail(c.Request.Context(), tenant, filter)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}
