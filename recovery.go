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
	"encoding/json"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

// stalePendingAge is how long an idempotency reservation may sit without a
// result before recovery treats its operation as interrupted.
const stalePendingAge = 10 * time.Minute

// RecoverPendingTransfers finishes transfers whose process died between the
// idempotency reservation and the stored result. The ledger entries written
// under the transfer's reference say how far it got: a durable debit without
// its credit is completed forward, a bare reservation is failed and its hold
// released. Every recovered key ends with a stored result, so the original
// caller's retry gets a definitive answer.
func (p *Payvault) RecoverPendingTransfers(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "RecoverPendingTransfers")
	defer span.End()

	stale, err := p.datasource.GetStalePendingKeys(ctx, model.OpTransfer, time.Now().Add(-stalePendingAge))
	if err != nil {
		return err
	}
	for _, record := range stale {
		if err := p.recoverTransfer(ctx, record); err != nil {
			logrus.Errorf("recovery of transfer key %s failed: %v", record.Key, err)
		}
	}
	return nil
}

func (p *Payvault) recoverTransfer(ctx context.Context, record model.IdempotencyRecord) error {
	entries, err := p.datasource.GetEntriesByReference(ctx, refTypeTransfer, record.Key)
	if err != nil {
		return err
	}

	var capture *model.LedgerEntry
	for _, entry := range entries {
		if entry.EntryType == model.EntryCapture {
			capture = entry
			break
		}
	}

	// No durable debit: release any reservation that did land and fail the
	// transfer. Nothing has left the source wallet.
	if capture == nil {
		holds, err := p.datasource.GetActiveHoldsByReference(ctx, refTypeTransfer, record.Key)
		if err != nil {
			return err
		}
		for _, active := range holds {
			if _, err := p.ReleaseHold(ctx, active.TenantID, active.HoldID, "recovery"); err != nil {
				if !apierror.Is(err, apierror.ErrInvalidHoldState) {
					return err
				}
			}
		}
		return p.storeRecoveredResult(ctx, record, &model.TransferResult{
			Status:        model.TransferFailed,
			FailureReason: "transfer interrupted before debit, reservation released",
			CreatedAt:     time.Now(),
		})
	}

	source := capture.WalletID
	destination := capture.CounterpartyWalletID
	var creditEntryID string
	compensated := false
	for _, entry := range entries {
		if entry.EntryType != model.EntryCredit {
			continue
		}
		if entry.WalletID == destination {
			creditEntryID = entry.EntryID
		}
		if entry.WalletID == source {
			compensated = true
		}
	}

	switch {
	case creditEntryID != "":
		// Both legs landed; only the result write was lost.
	case compensated:
		return p.storeRecoveredResult(ctx, record, &model.TransferResult{
			Status:        model.TransferFailed,
			FromWalletID:  source,
			ToWalletID:    destination,
			Amount:        capture.Amount,
			Currency:      capture.Currency,
			FailureReason: "destination credit failed, source compensated",
			CreatedAt:     time.Now(),
		})
	default:
		// Durable debit with no credit: complete the transfer forward.
		credit, err := p.recordEntryWithRetry(ctx, capture.TenantID, destination, func(wallet *model.Wallet) (*model.LedgerEntry, error) {
			if err := wallet.ApplyEntry(model.EntryCredit, capture.Amount); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, err.Error(), err)
			}
			return &model.LedgerEntry{
				EntryType:            model.EntryCredit,
				Amount:               new(big.Int).Set(capture.Amount),
				ReferenceType:        refTypeTransfer,
				ReferenceID:          record.Key,
				CounterpartyWalletID: source,
				CreatedBy:            "recovery",
			}, nil
		})
		if err != nil {
			return err
		}
		creditEntryID = credit.EntryID
	}

	return p.storeRecoveredResult(ctx, record, &model.TransferResult{
		Status:        model.TransferCompleted,
		FromWalletID:  source,
		ToWalletID:    destination,
		Amount:        capture.Amount,
		Currency:      capture.Currency,
		DebitEntryID:  capture.EntryID,
		CreditEntryID: creditEntryID,
		CreatedAt:     time.Now(),
	})
}

func (p *Payvault) storeRecoveredResult(ctx context.Context, record model.IdempotencyRecord, result *model.TransferResult) error {
	payload, err := result.ToJSON()
	if err != nil {
		return err
	}
	return p.datasource.SaveIdempotencyResult(ctx, record.TenantID, record.Operation, record.Key, payload)
}

// RecoverPendingInitiations settles idempotency reservations for provider
// initiations that never recorded an answer. The rail may or may not have
// received the request, so the payout is parked as initiated and left to the
// reconciliation sweep rather than re-submitted.
func (p *Payvault) RecoverPendingInitiations(ctx context.Context) error {
	stale, err := p.datasource.GetStalePendingKeys(ctx, model.OpPayoutInitiate, time.Now().Add(-stalePendingAge))
	if err != nil {
		return err
	}
	for _, record := range stale {
		payload, err := json.Marshal(InitiateResult{Status: ProviderStatusInitiated})
		if err != nil {
			return err
		}
		if err := p.datasource.SaveIdempotencyResult(ctx, record.TenantID, record.Operation, record.Key, payload); err != nil {
			logrus.Errorf("recovery of initiation key %s failed: %v", record.Key, err)
		}
	}
	return nil
}
