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
	"errors"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/internal/apierror"
)

func newTestProvider() *HTTPProvider {
	return &HTTPProvider{
		baseURL:   "https://rail.test",
		authToken: "tok_test",
		timeout:   2 * time.Second,
	}
}

func TestInitiateAccepted(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://rail.test/payouts",
		httpmock.NewJsonResponderOrPanic(200, InitiateResult{PaymentRef: "pay_abc", Status: ProviderStatusInitiated}))

	result, err := newTestProvider().Initiate(context.Background(), InitiateRequest{
		PayoutID: "pyt_1", Amount: "1500", Currency: "USD", VendorName: "Acme Supplies",
	})
	assert.NoError(t, err)
	assert.Equal(t, "pay_abc", result.PaymentRef)
	assert.Equal(t, ProviderStatusInitiated, result.Status)
}

func TestInitiateServerErrorIsUnavailable(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://rail.test/payouts",
		httpmock.NewJsonResponderOrPanic(503, map[string]string{"error": "maintenance"}))

	_, err := newTestProvider().Initiate(context.Background(), InitiateRequest{PayoutID: "pyt_1"})
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrProviderUnavailable))
}

func TestInitiateTimeoutIsUnavailable(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://rail.test/payouts",
		httpmock.NewErrorResponder(errors.New("context deadline exceeded")))

	_, err := newTestProvider().Initiate(context.Background(), InitiateRequest{PayoutID: "pyt_1"})
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrProviderUnavailable))
}

func TestInitiateRejectionIsFailedResult(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://rail.test/payouts",
		httpmock.NewJsonResponderOrPanic(422, InitiateResult{Reason: "invalid account"}))

	result, err := newTestProvider().Initiate(context.Background(), InitiateRequest{PayoutID: "pyt_1"})
	assert.NoError(t, err)
	assert.Equal(t, ProviderStatusFailed, result.Status)
	assert.Contains(t, result.Reason, "invalid account")
}

func TestFetchStatus(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", "https://rail.test/payouts/pay_abc",
		httpmock.NewJsonResponderOrPanic(200, ProviderEvent{Status: ProviderStatusCompleted}))

	event, err := newTestProvider().FetchStatus(context.Background(), "pay_abc")
	assert.NoError(t, err)
	assert.Equal(t, "pay_abc", event.PaymentRef)
	assert.Equal(t, ProviderStatusCompleted, event.Status)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"payment_ref":"pay_abc","status":"completed"}`)
	mac := hmac.New(sha256.New, []byte("secret-1"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifySignature(body, signature, "secret-1"))
	assert.False(t, VerifySignature(body, signature, "secret-2"))
	assert.False(t, VerifySignature([]byte(`tampered`), signature, "secret-1"))
	assert.False(t, VerifySignature(body, "", "secret-1"))
}

func TestResolveTenantSecret(t *testing.T) {
	configuration := &config.Configuration{
		Provider: config.ProviderConfig{
			TenantSecrets: map[string]string{"tnt_1": "secret-1"},
			SandboxSecret: "payvault-sandbox",
		},
	}

	assert.Equal(t, "secret-1", ResolveTenantSecret(configuration, "tnt_1"))
	// Unknown tenants share the sandbox secret, never unsigned acceptance.
	assert.Equal(t, "payvault-sandbox", ResolveTenantSecret(configuration, "tnt_unknown"))
	assert.Equal(t, "payvault-sandbox", ResolveTenantSecret(configuration, ""))
}
