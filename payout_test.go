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
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

func batchRow(batchID string, status model.BatchStatus, payoutCount int, isDemo bool) *sqlmock.Rows {
	return sqlmock.NewRows(batchColumns()).
		AddRow(1, batchID, "PB-20260101-ABCD1234", "tnt_1", status, "USD", payoutCount, payoutCount,
			"1500", isDemo, "usr_test", time.Now(), nil, nil)
}

func payoutRow(payoutID, batchID, walletID string, status model.PayoutStatus, holdID, paymentRef string) *sqlmock.Rows {
	return sqlmock.NewRows(payoutRecordColumns()).
		AddRow(1, payoutID, "PO-20260101-ABCD1234-001", batchID, "tnt_1", "Acme Supplies", walletID,
			status, "1500", "USD", holdID, paymentRef, "", time.Now(), time.Now())
}

func TestCreateBatch(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_vendor1").
		WillReturnRows(walletRow("wlt_vendor1", "tnt_1", "USD", 5000, 0, 0))
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_vendor2").
		WillReturnRows(walletRow("wlt_vendor2", "tnt_1", "USD", 5000, 0, 0))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payvault.payout_batches").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_records").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	batch, err := engine.CreateBatch(context.Background(), "tnt_1", "USD", "usr_test", false, []BatchPayee{
		{VendorName: "Acme Supplies", WalletID: "wlt_vendor1", NetAmount: big.NewInt(1000)},
		{VendorName: "Globex", WalletID: "wlt_vendor2", NetAmount: big.NewInt(500)},
	})
	assert.NoError(t, err)
	assert.Contains(t, batch.BatchID, "bat_")
	assert.Contains(t, batch.BatchNumber, "PB-")
	assert.Equal(t, model.BatchPending, batch.Status)
	assert.Equal(t, 2, batch.VendorCount)
	assert.Equal(t, 2, batch.PayoutCount)
	assert.Equal(t, big.NewInt(1500), batch.TotalNet)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateBatchRejectsEmptyPayees(t *testing.T) {
	engine, _ := newTestPayvault(t)

	_, err := engine.CreateBatch(context.Background(), "tnt_1", "USD", "usr_test", false, nil)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestApproveBatch(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchPending, 1, false))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	batch, err := engine.ApproveBatch(context.Background(), "tnt_1", "bat_1", "usr_admin")
	assert.NoError(t, err)
	assert.Equal(t, model.BatchApproved, batch.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// The guarded update loses when the batch is not PENDING anymore.
func TestApproveBatchWrongState(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchProcessing, 1, false))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := engine.ApproveBatch(context.Background(), "tnt_1", "bat_1", "usr_admin")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidTransition))
}

func TestExecuteBatchIdempotentOnProcessing(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchProcessing, 1, false))

	batch, err := engine.ExecuteBatch(context.Background(), "tnt_1", "bat_1", "usr_admin")
	assert.NoError(t, err)
	assert.Equal(t, model.BatchProcessing, batch.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCancelProcessingBatchRejected(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchProcessing, 1, false))

	_, err := engine.CancelBatch(context.Background(), "tnt_1", "bat_1", "changed our minds", "usr_admin")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidTransition))

	var apiErr apierror.APIError
	assert.ErrorAs(t, err, &apiErr)
	details, ok := apiErr.Details.(map[string]string)
	assert.True(t, ok)
	assert.Equal(t, string(model.BatchProcessing), details["current"])
}

func TestCancelApprovedBatchReleasesHolds(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchApproved, 1, false))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("bat_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutPending, "hld_1", ""))

	// Releasing the record's hold.
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(sqlmock.NewRows(holdColumns()).
			AddRow(1, "hld_1", "wlt_vendor1", "tnt_1", "1500", "USD", model.HoldActive,
				"payout PO-1", "payout", "pyt_1", time.Now(), time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_vendor1").
		WillReturnRows(walletRow("wlt_vendor1", "tnt_1", "USD", 5000, 1500, 2))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payvault.holds").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payvault.wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	batch, err := engine.CancelBatch(context.Background(), "tnt_1", "bat_1", "vendor dispute", "usr_admin")
	assert.NoError(t, err)
	assert.Equal(t, model.BatchCancelled, batch.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// A synchronous provider confirmation settles the payout in one pass:
// hold, initiate, capture, COMPLETED, and the single-payout batch closes.
func TestProcessPayoutSynchronousCompletion(t *testing.T) {
	engine, mock := newTestPayvault(t)
	engine.WithProvider(&MockProvider{
		InitiateFunc: func(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
			return &InitiateResult{PaymentRef: "pay_abc", Status: ProviderStatusCompleted}, nil
		},
	})

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pyt_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutPending, "", ""))

	// Authorize the hold on the payee wallet.
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_vendor1").
		WillReturnRows(walletRow("wlt_vendor1", "tnt_1", "USD", 5000, 0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payvault.holds").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE payvault.wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchProcessing, 1, false))

	// Initiation is reserved on a durable key before the provider call.
	mock.ExpectQuery("INSERT INTO payvault.idempotency_keys").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("UPDATE payvault.idempotency_keys").WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	// Capture settles the hold.
	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WillReturnRows(sqlmock.NewRows(holdColumns()).
			AddRow(1, "hld_new", "wlt_vendor1", "tnt_1", "1500", "USD", model.HoldActive,
				"payout PO-1", "payout", "pyt_1", time.Now(), time.Now()))
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_vendor1").
		WillReturnRows(walletRow("wlt_vendor1", "tnt_1", "USD", 5000, 1500, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payvault.holds").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payvault.wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.ledger_entries").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	// All payouts terminal, the batch finalizes as COMPLETED.
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("bat_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutCompleted, "hld_new", "pay_abc"))
	mock.ExpectExec("UPDATE payvault.payout_batches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.payout_execution_logs").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchCompleted, 1, false))

	err := engine.ProcessPayout(context.Background(), "pyt_1", "worker")
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// Redelivered queue tasks for a terminal payout do nothing.
func TestProcessPayoutTerminalIsNoop(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pyt_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutCompleted, "hld_1", "pay_abc"))

	err := engine.ProcessPayout(context.Background(), "pyt_1", "worker")
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// A provider outage parks the payout in PROCESSING for the sweep.
func TestProcessPayoutProviderUnavailable(t *testing.T) {
	engine, mock := newTestPayvault(t)
	engine.WithProvider(&MockProvider{
		InitiateFunc: func(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
			return nil, apierror.NewAPIError(apierror.ErrProviderUnavailable, "Execution provider did not answer", nil)
		},
	})

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pyt_1").
		WillReturnRows(payoutRow("pyt_1", "bat_1", "wlt_vendor1", model.PayoutPending, "hld_1", ""))
	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_batches").
		WithArgs("bat_1").
		WillReturnRows(batchRow("bat_1", model.BatchProcessing, 1, false))
	mock.ExpectQuery("INSERT INTO payvault.idempotency_keys").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("UPDATE payvault.payout_records").WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.ProcessPayout(context.Background(), "pyt_1", "worker")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrProviderUnavailable))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
