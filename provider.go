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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/internal/request"
)

// Provider-reported payout statuses.
const (
	ProviderStatusInitiated = "initiated"
	ProviderStatusCompleted = "completed"
	ProviderStatusFailed    = "failed"
)

// InitiateResult is the provider's answer to a payout initiation. A
// synchronous "completed" or "failed" settles the payout in line; an
// "initiated" answer leaves it pending a webhook or reconciliation.
type InitiateResult struct {
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
}

// ProviderEvent is one settlement notification from the execution rail,
// delivered by webhook or fetched during reconciliation.
type ProviderEvent struct {
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	EventID    string `json:"event_id,omitempty"`
}

// InitiateRequest is the payload sent to the execution rail.
type InitiateRequest struct {
	PayoutID   string `json:"payout_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	VendorName string `json:"vendor_name"`
}

// ExecutionProvider abstracts the external settlement rail so the orchestrator
// never touches HTTP directly.
type ExecutionProvider interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	FetchStatus(ctx context.Context, paymentRef string) (*ProviderEvent, error)
}

// HTTPProvider talks to the execution rail over HTTP with bounded timeouts.
type HTTPProvider struct {
	baseURL   string
	authToken string
	timeout   time.Duration
}

func NewHTTPProvider(configuration *config.Configuration) *HTTPProvider {
	timeout := time.Duration(configuration.Provider.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL:   configuration.Provider.BaseURL,
		authToken: configuration.Provider.AuthToken,
		timeout:   timeout,
	}
}

// Initiate submits one payout to the rail. Timeouts and 5xx answers map to
// PROVIDER_UNAVAILABLE so the payout stays PROCESSING for reconciliation to
// settle; a definitive 4xx rejection maps to a failed result.
func (h *HTTPProvider) Initiate(ctx context.Context, initReq InitiateRequest) (*InitiateResult, error) {
	payload, err := request.ToJsonReq(initReq)
	if err != nil {
		return nil, errors.Wrap(err, "encoding payout initiation")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/payouts", h.baseURL), payload)
	if err != nil {
		return nil, errors.Wrap(err, "building payout initiation request")
	}
	req.Header.Set("Authorization", "Bearer "+h.authToken)

	var result InitiateResult
	resp, err := request.CallWithTimeout(req, &result, h.timeout)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrProviderUnavailable, "Execution provider did not answer", err)
	}
	switch {
	case resp.StatusCode >= 500:
		return nil, apierror.NewAPIError(apierror.ErrProviderUnavailable,
			fmt.Sprintf("Execution provider answered %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return &InitiateResult{
			PaymentRef: result.PaymentRef,
			Status:     ProviderStatusFailed,
			Reason:     fmt.Sprintf("provider rejected payout with status %d: %s", resp.StatusCode, result.Reason),
		}, nil
	}
	return &result, nil
}

// FetchStatus pulls the rail's current view of one payment. Used by the
// reconciliation sweep for payouts whose webhook never arrived.
func (h *HTTPProvider) FetchStatus(ctx context.Context, paymentRef string) (*ProviderEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/payouts/%s", h.baseURL, paymentRef), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building payout status request")
	}
	req.Header.Set("Authorization", "Bearer "+h.authToken)

	var event ProviderEvent
	resp, err := request.CallWithTimeout(req, &event, h.timeout)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrProviderUnavailable, "Execution provider did not answer", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apierror.NewAPIError(apierror.ErrProviderUnavailable,
			fmt.Sprintf("Execution provider answered %d for payment %s", resp.StatusCode, paymentRef), nil)
	}
	event.PaymentRef = paymentRef
	return &event, nil
}

// ResolveTenantSecret returns the webhook signing secret for a tenant. Tenants
// without a registered secret share the sandbox secret, so unsigned payloads
// are rejected even for unknown tenants.
func ResolveTenantSecret(configuration *config.Configuration, tenantID string) string {
	if secret, ok := configuration.Provider.TenantSecrets[tenantID]; ok && secret != "" {
		return secret
	}
	return configuration.Provider.SandboxSecret
}

// VerifySignature checks the HMAC-SHA256 hex signature of a webhook body in
// constant time.
func VerifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
