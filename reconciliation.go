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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/internal/notification"
	"github.com/payvault/payvault/model"
)

// ReconcileOutcome is the action a provider event calls for on a payout.
type ReconcileOutcome int

const (
	OutcomeNoop ReconcileOutcome = iota
	OutcomeCapture
	OutcomeRelease
)

// Reconcile decides what a provider event means for a payout in its current
// state. It is a pure function over (status, event): a terminal payout
// absorbs any further event as a no-op, which is what makes webhook
// redelivery and the reconciliation sweep safe to run together.
func Reconcile(current model.PayoutStatus, event ProviderEvent) ReconcileOutcome {
	if current == model.PayoutCompleted || current == model.PayoutFailed {
		return OutcomeNoop
	}
	switch event.Status {
	case ProviderStatusCompleted:
		return OutcomeCapture
	case ProviderStatusFailed:
		return OutcomeRelease
	default:
		return OutcomeNoop
	}
}

// HandleProviderEvent applies one settlement notification to the payout it
// references. Duplicate notifications for an already settled payout return
// cleanly without touching the ledger.
func (p *Payvault) HandleProviderEvent(ctx context.Context, event ProviderEvent) error {
	ctx, span := tracer.Start(ctx, "HandleProviderEvent")
	defer span.End()

	if event.PaymentRef == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Provider event is missing a payment reference", nil)
	}
	record, err := p.datasource.GetPayoutByPaymentRef(ctx, event.PaymentRef)
	if err != nil {
		return err
	}

	switch Reconcile(record.Status, event) {
	case OutcomeCapture:
		return p.completePayout(ctx, record, "provider")
	case OutcomeRelease:
		return p.failPayout(ctx, record, event.Reason, "provider")
	default:
		logrus.Infof("provider event %s for payment %s is a no-op, payout %s is %s",
			event.Status, event.PaymentRef, record.PayoutID, record.Status)
		return nil
	}
}

// ReconcileStuckPayouts sweeps payouts parked in PROCESSING past the
// configured age, asks the rail for their status and settles them. Payouts
// without a payment reference cannot be looked up and are escalated.
func (p *Payvault) ReconcileStuckPayouts(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "ReconcileStuckPayouts")
	defer span.End()

	configuration, err := config.Fetch()
	if err != nil {
		return err
	}
	reconcileAfter := time.Duration(configuration.Provider.ReconcileAfterSec) * time.Second
	if reconcileAfter <= 0 {
		reconcileAfter = 15 * time.Minute
	}

	stuck, err := p.datasource.GetStuckPayouts(ctx, time.Now().Add(-reconcileAfter))
	if err != nil {
		return err
	}
	for _, record := range stuck {
		if record.PaymentRef == "" {
			notification.NotifyError(fmt.Errorf("payout %s has been PROCESSING since %s with no payment reference",
				record.PayoutID, record.UpdatedAt.Format(time.RFC3339)))
			continue
		}
		event, err := p.provider.FetchStatus(ctx, record.PaymentRef)
		if err != nil {
			logrus.Errorf("reconciliation could not fetch status for payment %s: %v", record.PaymentRef, err)
			continue
		}
		switch Reconcile(record.Status, *event) {
		case OutcomeCapture:
			if err := p.completePayout(ctx, record, "reconciliation"); err != nil {
				logrus.Errorf("reconciliation could not complete payout %s: %v", record.PayoutID, err)
			}
		case OutcomeRelease:
			if err := p.failPayout(ctx, record, event.Reason, "reconciliation"); err != nil {
				logrus.Errorf("reconciliation could not fail payout %s: %v", record.PayoutID, err)
			}
		}
	}
	return nil
}
