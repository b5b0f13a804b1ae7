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
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel/attribute"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/internal/notification"
	"github.com/payvault/payvault/model"
)

const refTypePayout = "payout"

// BatchPayee is one payee line of a batch creation request.
type BatchPayee struct {
	VendorName string   `json:"vendor_name"`
	WalletID   string   `json:"wallet_id"`
	NetAmount  *big.Int `json:"net_amount"`
}

func batchNumber() string {
	return fmt.Sprintf("PB-%s-%s", time.Now().Format("20060102"), strings.ToUpper(uuid.New().String()[:8]))
}

func payoutNumber(batch string, position int) string {
	return fmt.Sprintf("PO-%s-%03d", strings.TrimPrefix(batch, "PB-"), position)
}

// CreateBatch groups a payee list into a PENDING batch with one payout
// record per payee. No money moves until the batch is approved and executed.
func (p *Payvault) CreateBatch(ctx context.Context, tenantID, currency, createdBy string, isDemo bool, payees []BatchPayee) (*model.PayoutBatch, error) {
	ctx, span := tracer.Start(ctx, "CreatePayoutBatch")
	defer span.End()

	if len(payees) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "A batch needs at least one payee", nil)
	}

	batch := &model.PayoutBatch{
		BatchID:     model.GenerateUUIDWithSuffix("bat"),
		BatchNumber: batchNumber(),
		TenantID:    tenantID,
		Status:      model.BatchPending,
		Currency:    currency,
		TotalNet:    big.NewInt(0),
		IsDemo:      isDemo,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now(),
	}

	vendors := map[string]struct{}{}
	records := make([]*model.PayoutRecord, 0, len(payees))
	for i, payee := range payees {
		if payee.NetAmount == nil || payee.NetAmount.Sign() <= 0 {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
				fmt.Sprintf("Payee %s has a non-positive net amount", payee.VendorName), nil)
		}
		if _, err := p.datasource.GetWallet(ctx, tenantID, payee.WalletID); err != nil {
			return nil, err
		}
		vendors[payee.VendorName] = struct{}{}
		batch.TotalNet.Add(batch.TotalNet, payee.NetAmount)
		records = append(records, &model.PayoutRecord{
			PayoutID:     model.GenerateUUIDWithSuffix("pyt"),
			PayoutNumber: payoutNumber(batch.BatchNumber, i+1),
			BatchID:      batch.BatchID,
			TenantID:     tenantID,
			VendorName:   payee.VendorName,
			WalletID:     payee.WalletID,
			Status:       model.PayoutPending,
			NetAmount:    new(big.Int).Set(payee.NetAmount),
			Currency:     currency,
		})
	}
	batch.VendorCount = len(vendors)
	batch.PayoutCount = len(records)

	created, err := p.datasource.CreatePayoutBatch(ctx, batch, records)
	if err != nil {
		return nil, err
	}
	p.logExecution(ctx, batch.BatchID, "create", "", string(model.BatchPending),
		fmt.Sprintf("%d payouts totalling %s %s", batch.PayoutCount, batch.TotalNet.String(), currency), createdBy)
	return created, nil
}

// ApproveBatch moves a PENDING batch to APPROVED. Any other starting state
// fails with the batch's current status in the error details.
func (p *Payvault) ApproveBatch(ctx context.Context, tenantID, batchID, approvedBy string) (*model.PayoutBatch, error) {
	batch, err := p.getTenantBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if err := p.datasource.UpdateBatchStatus(ctx, batchID, model.BatchPending, model.BatchApproved); err != nil {
		return nil, err
	}
	batch.Status = model.BatchApproved
	p.logExecution(ctx, batchID, "approve", string(model.BatchPending), string(model.BatchApproved), "", approvedBy)
	return batch, nil
}

// ExecuteBatch starts settlement of an APPROVED batch. The call is
// idempotent on the batch id: a batch already PROCESSING or terminal is
// returned as it stands, with no payout dispatched twice.
func (p *Payvault) ExecuteBatch(ctx context.Context, tenantID, batchID, performedBy string) (*model.PayoutBatch, error) {
	ctx, span := tracer.Start(ctx, "ExecuteBatch")
	defer span.End()
	span.SetAttributes(attribute.String("batch.id", batchID))

	batch, err := p.getTenantBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == model.BatchProcessing || batch.IsTerminal() {
		return batch, nil
	}
	if err := p.datasource.UpdateBatchStatus(ctx, batchID, model.BatchApproved, model.BatchProcessing); err != nil {
		// A concurrent execute won the guarded update; fold into its run.
		if apierror.Is(err, apierror.ErrInvalidTransition) {
			if current, refreshErr := p.datasource.GetPayoutBatch(ctx, batchID); refreshErr == nil &&
				(current.Status == model.BatchProcessing || current.IsTerminal()) {
				return current, nil
			}
		}
		return nil, err
	}
	batch.Status = model.BatchProcessing
	batch.ProcessedAt = ptr.Time(time.Now())
	p.logExecution(ctx, batchID, "execute", string(model.BatchApproved), string(model.BatchProcessing), "", performedBy)

	records, err := p.datasource.GetPayoutRecords(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if p.queue != nil {
			if err := p.queue.queuePayout(ctx, record.PayoutID); err != nil {
				logrus.Errorf("failed to queue payout %s: %v", record.PayoutID, err)
			}
			continue
		}
		if err := p.ProcessPayout(ctx, record.PayoutID, performedBy); err != nil {
			logrus.Errorf("payout %s failed: %v", record.PayoutID, err)
		}
	}
	if p.queue == nil {
		if err := p.TryFinalizeBatch(ctx, batchID, performedBy); err != nil {
			return nil, err
		}
		return p.datasource.GetPayoutBatch(ctx, batchID)
	}
	return batch, nil
}

// ProcessPayout settles one payout record: reserve a hold on the payee
// wallet, submit to the execution provider, then settle per the provider's
// answer. Terminal records return immediately, so redelivered queue tasks
// are harmless.
func (p *Payvault) ProcessPayout(ctx context.Context, payoutID, performedBy string) error {
	ctx, span := tracer.Start(ctx, "ProcessPayout")
	defer span.End()
	span.SetAttributes(attribute.String("payout.id", payoutID))

	record, err := p.datasource.GetPayoutRecord(ctx, payoutID)
	if err != nil {
		return err
	}
	if record.IsTerminal() {
		return nil
	}

	if record.HoldID == "" {
		newHold, err := p.AuthorizeHold(ctx, record.TenantID, record.WalletID, record.NetAmount,
			fmt.Sprintf("payout %s", record.PayoutNumber), refTypePayout, record.PayoutID, performedBy)
		if err != nil {
			if apierror.Is(err, apierror.ErrInsufficientFunds) {
				return p.failPayout(ctx, record, "insufficient funds in payee wallet", performedBy)
			}
			return err
		}
		if err := p.datasource.SetPayoutHold(ctx, record.PayoutID, newHold.HoldID); err != nil {
			return err
		}
		record.HoldID = newHold.HoldID
	}

	batch, err := p.datasource.GetPayoutBatch(ctx, record.BatchID)
	if err != nil {
		return err
	}
	if batch.IsDemo {
		return p.settleDemo(ctx, record, performedBy)
	}

	result, err := p.initiateOnce(ctx, record)
	if err != nil {
		if apierror.Is(err, apierror.ErrProviderUnavailable) && record.Status == model.PayoutPending {
			// The rail may still have received the request. Park the record
			// in PROCESSING and let reconciliation settle it.
			if markErr := p.datasource.UpdatePayoutStatus(ctx, record.PayoutID, model.PayoutPending, model.PayoutProcessing, "", ""); markErr != nil {
				return markErr
			}
		}
		return err
	}

	if record.Status == model.PayoutPending {
		if err := p.datasource.UpdatePayoutStatus(ctx, record.PayoutID, model.PayoutPending, model.PayoutProcessing, result.PaymentRef, ""); err != nil {
			return err
		}
		record.Status = model.PayoutProcessing
		record.PaymentRef = result.PaymentRef
	}

	switch result.Status {
	case ProviderStatusCompleted:
		return p.completePayout(ctx, record, performedBy)
	case ProviderStatusFailed:
		return p.failPayout(ctx, record, result.Reason, performedBy)
	default:
		// Initiated. A webhook or the reconciliation sweep finishes it.
		return nil
	}
}

// initiateOnce guards the provider call with a durable idempotency key so a
// crashed or redelivered worker never submits the same payout twice.
func (p *Payvault) initiateOnce(ctx context.Context, record *model.PayoutRecord) (*InitiateResult, error) {
	reserved, existing, err := p.datasource.ReserveIdempotencyKey(ctx, record.TenantID, model.OpPayoutInitiate, record.PayoutID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		if existing == nil || existing.Result == nil {
			return nil, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Payout '%s' initiation is still in flight", record.PayoutID), nil)
		}
		var stored InitiateResult
		if err := json.Unmarshal(existing.Result, &stored); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to decode stored initiation result", err)
		}
		return &stored, nil
	}

	result, err := p.provider.Initiate(ctx, InitiateRequest{
		PayoutID:   record.PayoutID,
		Amount:     record.NetAmount.String(),
		Currency:   record.Currency,
		VendorName: record.VendorName,
	})
	if err != nil {
		return nil, err
	}
	if payload, marshalErr := json.Marshal(result); marshalErr == nil {
		if saveErr := p.datasource.SaveIdempotencyResult(ctx, record.TenantID, model.OpPayoutInitiate, record.PayoutID, payload); saveErr != nil {
			logrus.Errorf("failed to save initiation result for payout %s: %v", record.PayoutID, saveErr)
		}
	}
	return result, nil
}

// settleDemo simulates a synchronous settlement without touching the rail.
func (p *Payvault) settleDemo(ctx context.Context, record *model.PayoutRecord, performedBy string) error {
	if record.Status == model.PayoutPending {
		demoRef := model.GenerateUUIDWithSuffix("demo")
		if err := p.datasource.UpdatePayoutStatus(ctx, record.PayoutID, model.PayoutPending, model.PayoutProcessing, demoRef, ""); err != nil {
			return err
		}
		record.Status = model.PayoutProcessing
		record.PaymentRef = demoRef
	}
	return p.completePayout(ctx, record, performedBy)
}

// completePayout captures the record's hold and marks the payout COMPLETED.
// A COMPLETED payout always has a captured hold behind it: when capture is
// rejected because the hold is already terminal, the completion only stands
// if that terminal state is CAPTURED. A released reservation means no debit
// ever posted, so the payout settles as failed instead.
func (p *Payvault) completePayout(ctx context.Context, record *model.PayoutRecord, performedBy string) error {
	if record.HoldID != "" {
		if _, err := p.CaptureHold(ctx, record.TenantID, record.HoldID, performedBy); err != nil {
			if !apierror.Is(err, apierror.ErrInvalidHoldState) {
				return err
			}
			settled, holdErr := p.datasource.GetHold(ctx, record.HoldID)
			if holdErr != nil {
				return holdErr
			}
			if settled.Status != model.HoldCaptured {
				notification.NotifyError(fmt.Errorf("payout %s confirmed by provider but hold %s is %s, settling as failed",
					record.PayoutID, record.HoldID, settled.Status))
				return p.failPayout(ctx, record, "funds reservation was released before settlement", performedBy)
			}
		}
	}
	if err := p.datasource.UpdatePayoutStatus(ctx, record.PayoutID, model.PayoutProcessing, model.PayoutCompleted, record.PaymentRef, ""); err != nil {
		return err
	}
	record.Status = model.PayoutCompleted
	p.queueWebhook(ctx, EventPayoutCompleted, record)
	return p.TryFinalizeBatch(ctx, record.BatchID, performedBy)
}

// failPayout releases the record's hold, returning the funds, and marks the
// payout FAILED with the reason. The mirror of completePayout's guard applies
// here: a reservation that already captured means the wallet was debited, so
// the payout settles as completed rather than failed.
func (p *Payvault) failPayout(ctx context.Context, record *model.PayoutRecord, reason, performedBy string) error {
	if record.HoldID != "" {
		if _, err := p.ReleaseHold(ctx, record.TenantID, record.HoldID, performedBy); err != nil {
			if !apierror.Is(err, apierror.ErrInvalidHoldState) {
				return err
			}
			settled, holdErr := p.datasource.GetHold(ctx, record.HoldID)
			if holdErr != nil {
				return holdErr
			}
			if settled.Status == model.HoldCaptured {
				notification.NotifyError(fmt.Errorf("payout %s reported failed but hold %s is already captured, settling as completed",
					record.PayoutID, record.HoldID))
				return p.completePayout(ctx, record, performedBy)
			}
		}
	}
	from := record.Status
	if from != model.PayoutPending && from != model.PayoutProcessing {
		return nil
	}
	if err := p.datasource.UpdatePayoutStatus(ctx, record.PayoutID, from, model.PayoutFailed, record.PaymentRef, reason); err != nil {
		return err
	}
	record.Status = model.PayoutFailed
	record.FailureReason = reason
	p.queueWebhook(ctx, EventPayoutFailed, record)
	return p.TryFinalizeBatch(ctx, record.BatchID, performedBy)
}

// TryFinalizeBatch closes a PROCESSING batch once every payout is terminal.
// All completed gives COMPLETED, all failed gives FAILED, a mix gives
// PARTIALLY_COMPLETED. Batches with payouts still in flight are left alone.
func (p *Payvault) TryFinalizeBatch(ctx context.Context, batchID, performedBy string) error {
	records, err := p.datasource.GetPayoutRecords(ctx, batchID)
	if err != nil {
		return err
	}
	final, done := model.FinalBatchStatus(records)
	if !done {
		return nil
	}
	if err := p.datasource.UpdateBatchStatus(ctx, batchID, model.BatchProcessing, final); err != nil {
		// Another worker finalized first.
		if apierror.Is(err, apierror.ErrInvalidTransition) {
			return nil
		}
		return err
	}
	p.logExecution(ctx, batchID, "finalize", string(model.BatchProcessing), string(final), "", performedBy)
	if batch, err := p.datasource.GetPayoutBatch(ctx, batchID); err == nil {
		p.queueWebhook(ctx, EventBatchCompleted, batch)
	}
	return nil
}

// CancelBatch terminates a batch that has not started executing. Holds
// already reserved for its records are released. A batch that is PROCESSING
// or terminal cannot be cancelled; the error carries its current status.
func (p *Payvault) CancelBatch(ctx context.Context, tenantID, batchID, reason, performedBy string) (*model.PayoutBatch, error) {
	batch, err := p.getTenantBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != model.BatchPending && batch.Status != model.BatchApproved {
		return nil, apierror.NewAPIError(apierror.ErrInvalidTransition,
			fmt.Sprintf("Batch '%s' is %s and can no longer be cancelled", batchID, batch.Status),
			map[string]string{"batch_id": batchID, "current": string(batch.Status), "attempted": string(model.BatchCancelled)})
	}
	from := batch.Status
	if err := p.datasource.UpdateBatchStatus(ctx, batchID, from, model.BatchCancelled); err != nil {
		return nil, err
	}
	batch.Status = model.BatchCancelled

	records, err := p.datasource.GetPayoutRecords(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.HoldID == "" {
			continue
		}
		if _, err := p.ReleaseHold(ctx, tenantID, record.HoldID, performedBy); err != nil {
			if !apierror.Is(err, apierror.ErrInvalidHoldState) {
				notification.NotifyError(fmt.Errorf("cancel of batch %s could not release hold %s: %v", batchID, record.HoldID, err))
			}
		}
	}
	p.logExecution(ctx, batchID, "cancel", string(from), string(model.BatchCancelled), reason, performedBy)
	return batch, nil
}

// GetBatch returns a tenant's batch with its payout records.
func (p *Payvault) GetBatch(ctx context.Context, tenantID, batchID string) (*model.PayoutBatch, []*model.PayoutRecord, error) {
	batch, err := p.getTenantBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, nil, err
	}
	records, err := p.datasource.GetPayoutRecords(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return batch, records, nil
}

// GetExecutionLog returns a batch's transition trail in order.
func (p *Payvault) GetExecutionLog(ctx context.Context, tenantID, batchID string) ([]model.ExecutionLogEntry, error) {
	if _, err := p.getTenantBatch(ctx, tenantID, batchID); err != nil {
		return nil, err
	}
	return p.datasource.GetExecutionLogs(ctx, batchID)
}

func (p *Payvault) getTenantBatch(ctx context.Context, tenantID, batchID string) (*model.PayoutBatch, error) {
	batch, err := p.datasource.GetPayoutBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.TenantID != tenantID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Batch with ID '%s' not found", batchID), nil)
	}
	return batch, nil
}

// logExecution appends one row to the batch's immutable transition trail.
// Logging failures are reported but never undo the transition they describe.
func (p *Payvault) logExecution(ctx context.Context, batchID, action, from, to, details, performedBy string) {
	err := p.datasource.RecordExecutionLog(ctx, &model.ExecutionLogEntry{
		BatchID:     batchID,
		Action:      action,
		FromStatus:  from,
		ToStatus:    to,
		Details:     details,
		PerformedBy: performedBy,
		PerformedAt: time.Now(),
	})
	if err != nil {
		logrus.Errorf("failed to record execution log for batch %s action %s: %v", batchID, action, err)
	}
}
