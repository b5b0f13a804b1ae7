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

import "context"

// MockProvider is an in-memory ExecutionProvider for tests and the demo path.
type MockProvider struct {
	InitiateFunc    func(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	FetchStatusFunc func(ctx context.Context, paymentRef string) (*ProviderEvent, error)
}

func (m *MockProvider) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx, req)
	}
	return &InitiateResult{PaymentRef: "ref_" + req.PayoutID, Status: ProviderStatusInitiated}, nil
}

func (m *MockProvider) FetchStatus(ctx context.Context, paymentRef string) (*ProviderEvent, error) {
	if m.FetchStatusFunc != nil {
		return m.FetchStatusFunc(ctx, paymentRef)
	}
	return &ProviderEvent{PaymentRef: paymentRef, Status: ProviderStatusCompleted}, nil
}
