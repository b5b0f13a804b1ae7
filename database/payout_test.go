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

package database

import (
	"context"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/payvault/payvault/internal/apierror"
	"github.com/payvault/payvault/model"
)

func TestUpdateBatchStatus_ProcessingStampsProcessedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec(regexp.QuoteMeta("processed_at = NOW()")).
		WithArgs("btc_1", model.BatchApproved, model.BatchProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateBatchStatus(context.Background(), "btc_1", model.BatchApproved, model.BatchProcessing)
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestUpdateBatchStatus_TerminalStampsCompletedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec(regexp.QuoteMeta("completed_at = NOW()")).
		WithArgs("btc_1", model.BatchProcessing, model.BatchCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateBatchStatus(context.Background(), "btc_1", model.BatchProcessing, model.BatchCompleted)
	assert.NoError(t, err)
}

func TestUpdateBatchStatus_WrongSourceState(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE payvault.payout_batches").
		WithArgs("btc_1", model.BatchPending, model.BatchApproved).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateBatchStatus(context.Background(), "btc_1", model.BatchPending, model.BatchApproved)
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidTransition))

	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	details, ok := apiErr.Details.(map[string]string)
	assert.True(t, ok)
	assert.Equal(t, "PENDING", details["expected"])
	assert.Equal(t, "APPROVED", details["attempted"])
}

func TestUpdatePayoutStatus_ReplayedWebhookIsRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// The payout already reached COMPLETED, so the guarded update misses.
	mock.ExpectExec("UPDATE payvault.payout_records").
		WithArgs("pyt_1", model.PayoutProcessing, model.PayoutCompleted, "pay_ref_1", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdatePayoutStatus(context.Background(), "pyt_1", model.PayoutProcessing, model.PayoutCompleted, "pay_ref_1", "")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidTransition))
}

func TestGetPayoutByPaymentRef_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs("pay_ref_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = ds.GetPayoutByPaymentRef(context.Background(), "pay_ref_missing")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}

func TestGetStuckPayouts_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	columns := []string{"id", "payout_id", "payout_number", "batch_id", "tenant_id", "vendor_name", "wallet_id", "status", "net_amount", "currency", "hold_id", "payment_ref", "failure_reason", "created_at", "updated_at"}
	cutoff := time.Now().Add(-30 * time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM payvault.payout_records").
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, "pyt_1", 1, "btc_1", "tnt_1", "Acme Vendor", "wlt_1", model.PayoutProcessing,
				"1500", "USD", "hld_1", "pay_ref_1", "", time.Now(), time.Now()))

	records, err := ds.GetStuckPayouts(context.Background(), cutoff)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "pyt_1", records[0].PayoutID)
	assert.Equal(t, big.NewInt(1500), records[0].NetAmount)
}
