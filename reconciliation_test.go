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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/payvault/payvault/model"
)

func TestReconcileDecisionTable(t *testing.T) {
	tests := []struct {
		name    string
		current model.PayoutStatus
		event   string
		want    ReconcileOutcome
	}{
		{"completed event captures processing payout", model.PayoutProcessing, ProviderStatusCompleted, OutcomeCapture},
		{"failed event releases processing payout", model.PayoutProcessing, ProviderStatusFailed, OutcomeRelease},
		{"initiated event is a no-op", model.PayoutProcessing, ProviderStatusInitiated, OutcomeNoop},
		{"completed payout absorbs replayed completion", model.PayoutCompleted, ProviderStatusCompleted, OutcomeNoop},
		{"completed payout absorbs late failure", model.PayoutCompleted, ProviderStatusFailed, OutcomeNoop},
		{"failed payout absorbs replayed failure", model.PayoutFailed, ProviderStatusFailed, OutcomeNoop},
		{"failed payout absorbs late completion", model.PayoutFailed, ProviderStatusCompleted, OutcomeNoop},
		{"pending payout captures on completion", model.PayoutPending, ProviderStatusCompleted, OutcomeCapture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.current, ProviderEvent{PaymentRef: "pay_abc", Status: tt.event})
			assert.Equal(t, tt.want, got)
		})
	}
}

// A redelivered webhook for a settled payout returns cleanly with no writes.
func TestHandleProviderEventDuplicateIsNoop(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pay_abc").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutCompleted, "hld_1", "pay_abc"))

	err := engine.HandleProviderEvent(context.Background(), ProviderEvent{PaymentRef: "pay_abc", Status: ProviderStatusCompleted})
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestHandleProviderEventMissingRef(t *testing.T) {
	engine, _ := newTestPayvault(t)

	err := engine.HandleProviderEvent(context.Background(), ProviderEvent{Status: ProviderStatusCompleted})
	assert.Error(t, err)
}

// A failure event releases the hold and fails the payout with the reason.
func TestHandleProviderEventFailureReleases(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pay_abc").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutProcessing, "hld_1", "pay_abc"))

	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(sqlmock.NewRows(holdColumns()).
			AddRow(1, "hld_1", "wlt_vendor1", "tnt_1", "1500", "USD", model.HoldActive,
				"payout PO-1", "payout", "pyt_1", time.Now(), time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_vendor1").
		WillReturnRows(walletRow("wlt_vendor1", "tnt_1", "USD", 5000, 1500, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payvault.holds").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payvault.wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	// Finalize: the remaining payout is terminal, the batch closes as FAILED.
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("bat_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutFailed, "hld_1", "pay_abc"))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchFailed, 1, false))

	err := engine.HandleProviderEvent(context.Background(), ProviderEvent{
		PaymentRef: "pay_abc",
		Status:     ProviderStatusFailed,
		Reason:     "account closed",
	})
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// A completion webhook for a payout whose hold was already released cannot
// mark the payout paid: no debit ever posted, so it settles as FAILED.
func TestHandleProviderEventCompletionWithReleasedHoldFails(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pay_abc").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutProcessing, "hld_1", "pay_abc"))

	// Capture is rejected because the hold is terminal, then re-read.
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldReleased))
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldReleased))

	// The failure path tries the release itself, hits the same terminal
	// state, and confirms the hold never captured.
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldReleased))
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldReleased))

	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("bat_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutFailed, "hld_1", "pay_abc"))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchFailed, 1, false))

	err := engine.HandleProviderEvent(context.Background(), ProviderEvent{PaymentRef: "pay_abc", Status: ProviderStatusCompleted})
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// The mirror: a failure webhook for a payout whose hold already captured
// means the wallet was debited, so the payout settles as COMPLETED.
func TestHandleProviderEventFailureWithCapturedHoldCompletes(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pay_abc").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutProcessing, "hld_1", "pay_abc"))

	// Release is rejected because the hold is terminal, then re-read.
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldCaptured))
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldCaptured))

	// The completion path tries the capture itself, hits the same terminal
	// state, and confirms the debit is durable.
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldCaptured))
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_vendor1", 1500, model.HoldCaptured))

	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("bat_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutCompleted, "hld_1", "pay_abc"))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchCompleted, 1, false))

	err := engine.HandleProviderEvent(context.Background(), ProviderEvent{
		PaymentRef: "pay_abc",
		Status:     ProviderStatusFailed,
		Reason:     "timeout at provider",
	})
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// The sweep chases PROCESSING payouts whose webhook never arrived.
func TestReconcileStuckPayoutsCompletesViaFetch(t *testing.T) {
	engine, mock := newTestPayvault(t)
	engine.WithProvider(&MockProvider{
		FetchStatusFunc: func(ctx context.Context, paymentRef string) (*ProviderEvent, error) {
			return &ProviderEvent{PaymentRef: paymentRef, Status: ProviderStatusCompleted}, nil
		},
	})

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutProcessing, "hld_1", "pay_abc"))

	// Capture of the hold.
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(sqlmock.NewRows(holdColumns()).
			AddRow(1, "hld_1", "wlt_vendor1", "tnt_1", "1500", "USD", model.HoldActive,
				"payout PO-1", "payout", "pyt_1", time.Now(), time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_vendor1").
		WillReturnRows(walletRow("wlt_vendor1", "tnt_1", "USD", 5000, 1500, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payvault.holds").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payvault.wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("bat_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutCompleted, "hld_1", "pay_abc"))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchCompleted, 1, false))

	err := engine.ReconcileStuckPayouts(context.Background())
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
