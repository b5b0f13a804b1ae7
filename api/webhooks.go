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
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/payvault/payvault"
	"github.com/payvault/payvault/config"
)

// SignatureHeader carries the provider's HMAC-SHA256 hex signature of the
// raw request body.
const SignatureHeader = "X-Provider-Signature"

// ProviderWebhook receives settlement notifications from the execution rail.
// The signature is verified against the tenant's signing secret before any
// state is touched; a bad signature is rejected without mutation. Redelivery
// of an event for an already-terminal payout is acknowledged and ignored.
//
// Responses:
// - 400 Bad Request: If the body is unreadable or not a settlement event.
// - 401 Unauthorized: If the signature does not verify.
// - 200 OK: The event was applied, or was a no-op redelivery.
func (a Api) ProviderWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read request body"})
		return
	}

	var event payvault.ProviderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
		return
	}

	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "configuration unavailable"})
		return
	}
	secret := payvault.ResolveTenantSecret(conf, c.GetHeader(TenantHeader))
	if !payvault.VerifySignature(body, c.GetHeader(SignatureHeader), secret) {
		logrus.Warningf("rejected provider webhook for payment ref %s: signature verification failed", event.PaymentRef)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	if err := a.payvault.HandleProviderEvent(c.Request.Context(), event); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}
