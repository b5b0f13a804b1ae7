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
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/payvault/payvault/internal/apierror"
	redlock "github.com/payvault/payvault/internal/lock"
	"github.com/payvault/payvault/internal/notification"
	"github.com/payvault/payvault/model"
)

const refTypeTransfer = "transfer"

// Transfer moves amount between two wallets of one tenant. The debit is made
// durable before the credit is attempted; a credit failure after a durable
// debit is compensated with an offsetting credit back to the source. The
// caller-supplied idempotency key makes the whole operation replay-safe: a
// retry with the same key returns the stored outcome without moving money
// again.
func (p *Payvault) Transfer(ctx context.Context, req *model.Transfer) (*model.TransferResult, error) {
	ctx, span := tracer.Start(ctx, "Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("transfer.from", req.FromWalletID),
		attribute.String("transfer.to", req.ToWalletID),
	)

	if err := validateTransfer(req); err != nil {
		return nil, err
	}

	reserved, existing, err := p.datasource.ReserveIdempotencyKey(ctx, req.TenantID, model.OpTransfer, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		if existing == nil || existing.Result == nil {
			return nil, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Transfer with idempotency key '%s' is still in flight", req.IdempotencyKey), nil)
		}
		result, err := model.TransferResultFromJSON(existing.Result)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode stored transfer result", err)
		}
		result.IsDuplicate = true
		return result, nil
	}

	var pair *redlock.PairLocker
	if p.redis != nil {
		pair = redlock.NewPairLocker(p.redis, walletLockKey(req.FromWalletID), walletLockKey(req.ToWalletID), model.GenerateUUIDWithSuffix("loc"))
		if err := pair.Lock(ctx, lockTimeout, lockWait); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Wallet pair is locked by another operation", err)
		}
		defer func() {
			_ = pair.Unlock(ctx)
		}()
	}

	return p.executeTransfer(ctx, req)
}

func validateTransfer(req *model.Transfer) error {
	if req.IdempotencyKey == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	}
	if req.FromWalletID == req.ToWalletID {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Source and destination wallets must differ", nil)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Transfer amount must be positive", nil)
	}
	return nil
}

// executeTransfer runs with the idempotency key reserved and both wallet
// locks held. Every outcome it produces, success or failure, is persisted
// against the key before it returns.
func (p *Payvault) executeTransfer(ctx context.Context, req *model.Transfer) (*model.TransferResult, error) {
	if req.TransferID == "" {
		req.TransferID = model.GenerateUUIDWithSuffix("trf")
	}

	source, err := p.datasource.GetWallet(ctx, req.TenantID, req.FromWalletID)
	if err != nil {
		return nil, p.failTransfer(ctx, req, "source wallet not found", err)
	}
	destination, err := p.datasource.GetWallet(ctx, req.TenantID, req.ToWalletID)
	if err != nil {
		return nil, p.failTransfer(ctx, req, "destination wallet not found", err)
	}
	if source.Currency != destination.Currency || (req.Currency != "" && req.Currency != source.Currency) {
		mismatch := apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Currency mismatch: source %s, destination %s", source.Currency, destination.Currency), nil)
		return nil, p.failTransfer(ctx, req, mismatch.Message, mismatch)
	}

	if !source.CanDebit(req.Amount) {
		insufficient := apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("Available balance %s cannot cover transfer of %s", source.AvailableBalance.String(), req.Amount.String()),
			map[string]string{"wallet_id": source.WalletID, "available": source.AvailableBalance.String(), "requested": req.Amount.String()})
		p.queueWebhook(ctx, EventInsufficientFunds, insufficient.Details)
		return nil, p.failTransfer(ctx, req, insufficient.Message, insufficient)
	}

	// Reserve then immediately capture on the source. The capture is the
	// durable debit; once it commits the money has left the source wallet
	// and any later failure must be compensated, not rolled back.
	if err := source.ApplyEntry(model.EntryHold, req.Amount); err != nil {
		insufficient := apierror.NewAPIError(apierror.ErrInsufficientFunds, err.Error(), err)
		return nil, p.failTransfer(ctx, req, insufficient.Message, insufficient)
	}
	transferHold := &model.Hold{
		Amount:        new(big.Int).Set(req.Amount),
		Reason:        req.Description,
		ReferenceType: refTypeTransfer,
		ReferenceID:   req.IdempotencyKey,
	}
	holdEntry := &model.LedgerEntry{
		EntryType:            model.EntryHold,
		Amount:               new(big.Int).Set(req.Amount),
		ReferenceType:        refTypeTransfer,
		ReferenceID:          req.IdempotencyKey,
		CounterpartyWalletID: destination.WalletID,
		CreatedBy:            req.CreatedBy,
	}
	transferHold, err = p.datasource.CreateHold(ctx, source, transferHold, holdEntry)
	if err != nil {
		return nil, p.failTransfer(ctx, req, "failed to reserve source funds", err)
	}

	if err := source.ApplyEntry(model.EntryCapture, req.Amount); err != nil {
		return nil, p.failTransfer(ctx, req, "failed to capture source funds", err)
	}
	captureEntry := &model.LedgerEntry{
		EntryType:            model.EntryCapture,
		Amount:               new(big.Int).Set(req.Amount),
		ReferenceType:        refTypeTransfer,
		ReferenceID:          req.IdempotencyKey,
		CounterpartyWalletID: destination.WalletID,
		CreatedBy:            req.CreatedBy,
	}
	captureEntry, err = p.datasource.TransitionHold(ctx, source, transferHold, model.HoldCaptured, captureEntry)
	if err != nil {
		return nil, p.failTransfer(ctx, req, "failed to capture source funds", err)
	}

	creditEntry, err := p.recordEntryWithRetry(ctx, req.TenantID, destination.WalletID, func(wallet *model.Wallet) (*model.LedgerEntry, error) {
		if err := wallet.ApplyEntry(model.EntryCredit, req.Amount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, err.Error(), err)
		}
		return &model.LedgerEntry{
			EntryType:            model.EntryCredit,
			Amount:               new(big.Int).Set(req.Amount),
			ReferenceType:        refTypeTransfer,
			ReferenceID:          req.IdempotencyKey,
			CounterpartyWalletID: source.WalletID,
			CreatedBy:            req.CreatedBy,
		}, nil
	})
	if err != nil {
		if compErr := p.compensateDebit(ctx, req, source.WalletID, destination.WalletID); compErr != nil {
			// The key stays unresolved: the recovery sweep will find the
			// durable debit without its credit and settle the transfer.
			return nil, err
		}
		return nil, p.failTransfer(ctx, req, "destination credit failed, source compensated", err)
	}

	result := &model.TransferResult{
		TransferID:    req.TransferID,
		Status:        model.TransferCompleted,
		FromWalletID:  source.WalletID,
		ToWalletID:    destination.WalletID,
		Amount:        new(big.Int).Set(req.Amount),
		Currency:      source.Currency,
		DebitEntryID:  captureEntry.EntryID,
		CreditEntryID: creditEntry.EntryID,
		CreatedAt:     time.Now(),
	}
	p.saveTransferResult(ctx, req, result)
	p.queueWebhook(ctx, EventTransferApplied, result)
	trace.SpanFromContext(ctx).AddEvent("Transfer applied", trace.WithAttributes(
		attribute.String("transfer.id", req.TransferID),
		attribute.String("entry.debit", captureEntry.EntryID),
		attribute.String("entry.credit", creditEntry.EntryID),
	))
	return result, nil
}

// compensateDebit credits the transfer amount back to the source after a
// durable debit whose matching credit could not land. A non-nil return means
// the source is still short.
func (p *Payvault) compensateDebit(ctx context.Context, req *model.Transfer, sourceID, destinationID string) error {
	_, err := p.recordEntryWithRetry(ctx, req.TenantID, sourceID, func(wallet *model.Wallet) (*model.LedgerEntry, error) {
		if err := wallet.ApplyEntry(model.EntryCredit, req.Amount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, err.Error(), err)
		}
		return &model.LedgerEntry{
			EntryType:            model.EntryCredit,
			Amount:               new(big.Int).Set(req.Amount),
			ReferenceType:        refTypeTransfer,
			ReferenceID:          req.IdempotencyKey,
			CounterpartyWalletID: destinationID,
			CreatedBy:            "system",
		}, nil
	})
	if err != nil {
		// Money has left the source and could not be returned automatically.
		// Recovery will finish the transfer; operators are paged meanwhile.
		notification.NotifyError(fmt.Errorf("transfer %s compensation failed, wallet %s short by %s: %v",
			req.TransferID, sourceID, req.Amount.String(), err))
	}
	return err
}

// failTransfer stores a FAILED outcome against the idempotency key so a
// retry with the same key gets this failure back instead of re-executing.
// A reservation that committed before the failure is released first; when
// that release cannot be made, the key is left unresolved so the recovery
// sweep settles it instead of sealing the leak behind a stored result.
func (p *Payvault) failTransfer(ctx context.Context, req *model.Transfer, reason string, cause error) error {
	holds, err := p.datasource.GetActiveHoldsByReference(ctx, refTypeTransfer, req.IdempotencyKey)
	if err != nil {
		notification.NotifyError(fmt.Errorf("transfer %s failed and its reservations could not be listed, leaving key %s to recovery: %v",
			req.TransferID, req.IdempotencyKey, err))
		return cause
	}
	for _, active := range holds {
		if _, err := p.transitionHoldLocked(ctx, active, model.HoldReleased, "system"); err != nil {
			if apierror.Is(err, apierror.ErrInvalidHoldState) {
				continue
			}
			notification.NotifyError(fmt.Errorf("transfer %s failed and hold %s could not be released, leaving key %s to recovery: %v",
				req.TransferID, active.HoldID, req.IdempotencyKey, err))
			return cause
		}
	}

	result := &model.TransferResult{
		TransferID:    req.TransferID,
		Status:        model.TransferFailed,
		FromWalletID:  req.FromWalletID,
		ToWalletID:    req.ToWalletID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		FailureReason: reason,
		CreatedAt:     time.Now(),
	}
	p.saveTransferResult(ctx, req, result)
	p.queueWebhook(ctx, EventTransferFailed, result)
	return cause
}

func (p *Payvault) saveTransferResult(ctx context.Context, req *model.Transfer, result *model.TransferResult) {
	payload, err := result.ToJSON()
	if err != nil {
		logrus.Errorf("failed to encode transfer result for key %s: %v", req.IdempotencyKey, err)
		return
	}
	if err := p.datasource.SaveIdempotencyResult(ctx, req.TenantID, model.OpTransfer, req.IdempotencyKey, payload); err != nil {
		notification.NotifyError(fmt.Errorf("transfer %s completed but result save failed for key %s: %v",
			req.TransferID, req.IdempotencyKey, err))
	}
}
