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

	"github.com/payvault/payvault/internal/apierror"
	redlock "github.com/payvault/payvault/internal/lock"
	"github.com/payvault/payvault/internal/notification"
	"github.com/payvault/payvault/model"
)

const (
	lockTimeout = 30 * time.Second
	lockWait    = 5 * time.Second
)

func walletLockKey(walletID string) string {
	return fmt.Sprintf("lock:wallet:%s", walletID)
}

// lockWallet serializes writers on one wallet. The redis lock narrows the
// conflict window; the version check on the wallet row stays the source of
// truth either way.
func (p *Payvault) lockWallet(ctx context.Context, walletID string) (*redlock.Locker, error) {
	if p.redis == nil {
		return nil, nil
	}
	locker := redlock.NewLocker(p.redis, walletLockKey(walletID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, lockTimeout, lockWait); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Wallet is locked by another operation", err)
	}
	return locker, nil
}

func unlock(ctx context.Context, locker *redlock.Locker) {
	if locker != nil {
		_ = locker.Unlock(ctx)
	}
}

// AuthorizeHold reserves amount from the wallet's available balance. The
// reservation and its HOLD entry land atomically; the wallet's settled
// balance is untouched until capture.
func (p *Payvault) AuthorizeHold(ctx context.Context, tenantID, walletID string, amount *big.Int, reason, referenceType, referenceID, createdBy string) (*model.Hold, error) {
	ctx, span := tracer.Start(ctx, "AuthorizeHold")
	defer span.End()

	locker, err := p.lockWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	defer unlock(ctx, locker)

	return p.authorizeHoldLocked(ctx, tenantID, walletID, amount, reason, referenceType, referenceID, createdBy)
}

// authorizeHoldLocked is AuthorizeHold without the wallet lock, for callers
// that already hold it.
func (p *Payvault) authorizeHoldLocked(ctx context.Context, tenantID, walletID string, amount *big.Int, reason, referenceType, referenceID, createdBy string) (*model.Hold, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Hold amount must be positive", nil)
	}

	wallet, err := p.datasource.GetWallet(ctx, tenantID, walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.CanDebit(amount) {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("Available balance %s cannot cover hold of %s", wallet.AvailableBalance.String(), amount.String()),
			map[string]string{"wallet_id": walletID, "available": wallet.AvailableBalance.String(), "requested": amount.String()})
	}
	if err := wallet.ApplyEntry(model.EntryHold, amount); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds, err.Error(), err)
	}

	newHold := &model.Hold{
		Amount:        new(big.Int).Set(amount),
		Reason:        reason,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
	}
	entry := &model.LedgerEntry{
		EntryType:     model.EntryHold,
		Amount:        new(big.Int).Set(amount),
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		CreatedBy:     createdBy,
	}
	created, err := p.datasource.CreateHold(ctx, wallet, newHold, entry)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CaptureHold converts an ACTIVE hold into a settled debit. Capture after
// release, or a second capture, fails with INVALID_HOLD_STATE.
func (p *Payvault) CaptureHold(ctx context.Context, tenantID, holdID, performedBy string) (*model.LedgerEntry, error) {
	return p.transitionHold(ctx, tenantID, holdID, model.HoldCaptured, performedBy)
}

// ReleaseHold returns an ACTIVE hold's amount to the available balance.
func (p *Payvault) ReleaseHold(ctx context.Context, tenantID, holdID, performedBy string) (*model.LedgerEntry, error) {
	return p.transitionHold(ctx, tenantID, holdID, model.HoldReleased, performedBy)
}

func (p *Payvault) transitionHold(ctx context.Context, tenantID, holdID string, target model.HoldStatus, performedBy string) (*model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "TransitionHold")
	defer span.End()

	transitioning, err := p.datasource.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if transitioning.TenantID != tenantID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Hold with ID '%s' not found", holdID), nil)
	}

	locker, err := p.lockWallet(ctx, transitioning.WalletID)
	if err != nil {
		return nil, err
	}
	defer unlock(ctx, locker)

	return p.transitionHoldLocked(ctx, transitioning, target, performedBy)
}

// transitionHoldLocked runs the guarded hold transition with its wallet
// delta and ledger entry. An INVALID_HOLD_STATE outcome means two actors
// raced on the same hold; it is alerted and surfaced, never retried.
func (p *Payvault) transitionHoldLocked(ctx context.Context, transitioning *model.Hold, target model.HoldStatus, performedBy string) (*model.LedgerEntry, error) {
	if err := transitioning.CanTransition(target); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidHoldState, err.Error(),
			map[string]string{"hold_id": transitioning.HoldID, "current": string(transitioning.Status), "attempted": string(target)})
	}

	wallet, err := p.datasource.GetWallet(ctx, transitioning.TenantID, transitioning.WalletID)
	if err != nil {
		return nil, err
	}
	entryType := transitioning.EntryTypeFor(target)
	if err := wallet.ApplyEntry(entryType, transitioning.Amount); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, err.Error(), err)
	}

	entry := &model.LedgerEntry{
		EntryType:     entryType,
		Amount:        new(big.Int).Set(transitioning.Amount),
		ReferenceType: transitioning.ReferenceType,
		ReferenceID:   transitioning.ReferenceID,
		CreatedBy:     performedBy,
	}
	recorded, err := p.datasource.TransitionHold(ctx, wallet, transitioning, target, entry)
	if err != nil {
		if apierror.Is(err, apierror.ErrInvalidHoldState) {
			notification.NotifyError(fmt.Errorf("hold %s raced to %s while already terminal: %v", transitioning.HoldID, target, err))
		}
		return nil, err
	}
	return recorded, nil
}

// GetHold returns a tenant's hold.
func (p *Payvault) GetHold(ctx context.Context, tenantID, holdID string) (*model.Hold, error) {
	found, err := p.datasource.GetHold(ctx, holdID)
	if err != nil {
		return nil, err
	}
	if found.TenantID != tenantID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Hold with ID '%s' not found", holdID), nil)
	}
	return found, nil
}
