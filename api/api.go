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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payvault/payvault"
	"github.com/payvault/payvault/api/middleware"
	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/internal/apierror"
)

// Request headers carrying the caller's identity. Tenant and session
// resolution happens upstream; these routes trust the values the gateway
// forwards.
const (
	TenantHeader = "X-Tenant-Id"
	ActorHeader  = "X-Actor"
)

type Api struct {
	payvault *payvault.Payvault
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/wallets", a.CreateWallet)
	router.GET("/wallets", a.GetAllWallets)
	router.GET("/wallets/:id", a.GetWallet)
	router.GET("/wallets/:id/ledger", a.GetWalletLedger)
	router.GET("/wallets/:id/verify", a.VerifyWalletLedger)

	router.POST("/transfers", a.CreateTransfer)

	router.POST("/payout-batches", a.CreatePayoutBatch)
	router.GET("/payout-batches/:id", a.GetPayoutBatch)
	router.GET("/payout-batches/:id/execution-log", a.GetExecutionLog)
	router.POST("/payout-batches/:id/approve", a.ApprovePayoutBatch)
	router.POST("/payout-batches/:id/execute", a.ExecutePayoutBatch)
	router.POST("/payout-batches/:id/cancel", a.CancelPayoutBatch)

	router.GET("/audit-logs", a.GetAuditLogs)

	router.POST("/webhooks/provider", a.ProviderWebhook)
	return a.router
}

func NewAPI(p *payvault.Payvault) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{payvault: p, router: r}
}

// tenantID pulls the tenant from the request headers. Every business route
// is tenant scoped; a missing tenant aborts the request.
func tenantID(c *gin.Context) (string, bool) {
	tenant := c.GetHeader(TenantHeader)
	if tenant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Tenant-Id header is required"})
		return "", false
	}
	return tenant, true
}

func actor(c *gin.Context) string {
	if who := c.GetHeader(ActorHeader); who != "" {
		return who
	}
	return "api"
}

// respondError writes the engine's error taxonomy out as HTTP. API errors
// keep their code and details; anything else is an opaque 500.
func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(err), apiErr)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
