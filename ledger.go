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

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

var tracer = otel.Tracer("payvault.service")

// recordEntryWithRetry appends one ledger entry under optimistic concurrency.
// Each attempt re-reads the wallet, runs build against the fresh copy and
// submits the conditional update; a version conflict backs off and retries,
// every other failure is final. build mutates the wallet it receives and
// returns the entry to record.
func (p *Payvault) recordEntryWithRetry(ctx context.Context, tenantID, walletID string, build func(wallet *model.Wallet) (*model.LedgerEntry, error)) (*model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "RecordLedgerEntry")
	defer span.End()
	span.SetAttributes(attribute.String("wallet.id", walletID))

	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	maxAttempts := configuration.Queue.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var recorded *model.LedgerEntry
	attempt := func() error {
		wallet, err := p.datasource.GetWallet(ctx, tenantID, walletID)
		if err != nil {
			return backoff.Permanent(err)
		}
		entry, err := build(wallet)
		if err != nil {
			return backoff.Permanent(err)
		}
		recorded, err = p.datasource.RecordEntry(ctx, wallet, entry)
		if err != nil {
			if apierror.Is(err, apierror.ErrConflict) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	err = backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts)), ctx))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return recorded, nil
}

// GetEntriesByReference returns all entries across wallets that share a
// reference, for example both legs of a transfer.
func (p *Payvault) GetEntriesByReference(ctx context.Context, referenceType, referenceID string) ([]*model.LedgerEntry, error) {
	return p.datasource.GetEntriesByReference(ctx, referenceType, referenceID)
}
