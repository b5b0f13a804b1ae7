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

func holdColumns() []string {
	return []string{"id", "hold_id", "wallet_id", "tenant_id", "amount", "currency", "status", "reason", "reference_type", "reference_id", "created_at", "updated_at"}
}

func holdRow(holdID, walletID string, amount int64, status model.HoldStatus) *sqlmock.Rows {
	return sqlmock.NewRows(holdColumns()).
		AddRow(1, holdID, walletID, "tnt_1", big.NewInt(amount).String(), "USD", status,
			"test hold", "payout", "pyt_1", time.Now(), time.Now())
}

func TestAuthorizeHoldSuccess(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_1").
		WillReturnRows(walletRow("wlt_1", "tnt_1", "USD", 1000, 200, 3))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO payvault.holds").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE payvault.wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err := engine.AuthorizeHold(context.Background(), "tnt_1", "wlt_1", big.NewInt(500), "monthly payout", "payout", "pyt_1", "usr_test")
	assert.NoError(t, err)
	assert.Contains(t, created.HoldID, "hld_")
	assert.Equal(t, model.HoldActive, created.Status)
	assert.Equal(t, big.NewInt(500), created.Amount)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestAuthorizeHoldInsufficientAvailable(t *testing.T) {
	engine, mock := newTestPayvault(t)

	// Balance 1000 but 900 already pending, so only 100 is available.
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_1").
		WillReturnRows(walletRow("wlt_1", "tnt_1", "USD", 1000, 900, 3))

	_, err := engine.AuthorizeHold(context.Background(), "tnt_1", "wlt_1", big.NewInt(500), "monthly payout", "payout", "pyt_1", "usr_test")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInsufficientFunds))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCaptureHoldSuccess(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_1", 500, model.HoldActive))
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_1").
		WillReturnRows(walletRow("wlt_1", "tnt_1", "USD", 1000, 500, 4))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payvault.holds").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payvault.wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payvault.ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	entry, err := engine.CaptureHold(context.Background(), "tnt_1", "hld_1", "usr_test")
	assert.NoError(t, err)
	assert.Equal(t, model.EntryCapture, entry.EntryType)
	assert.Equal(t, "hld_1", entry.HoldID)
	// Capture removes the amount from both balance and pending.
	assert.Equal(t, big.NewInt(500), entry.BalanceAfter)
	assert.Equal(t, big.NewInt(0), entry.PendingBalanceAfter)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCaptureAfterReleaseRejected(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_1", 500, model.HoldReleased))

	_, err := engine.CaptureHold(context.Background(), "tnt_1", "hld_1", "usr_test")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidHoldState))
}

func TestReleaseAfterCaptureRejected(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_1", 500, model.HoldCaptured))

	_, err := engine.ReleaseHold(context.Background(), "tnt_1", "hld_1", "usr_test")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidHoldState))
}

// Two actors race the same ACTIVE hold: the in-memory copy still says ACTIVE
// but the guarded row update finds it already terminal.
func TestConcurrentHoldTransitionLosesGuard(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_1", 500, model.HoldActive))
	mock.ExpectQuery("SELECT (.+) FROM payvault.wallets").
		WithArgs("wlt_1").
		WillReturnRows(walletRow("wlt_1", "tnt_1", "USD", 1000, 500, 4))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payvault.holds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := engine.CaptureHold(context.Background(), "tnt_1", "hld_1", "usr_test")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidHoldState))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestHoldTenantScoping(t *testing.T) {
	engine, mock := newTestPayvault(t)

	mock.ExpectQuery("SELECT (.+) FROM payvault.holds").
		WithArgs("hld_1").
		WillReturnRows(holdRow("hld_1", "wlt_1", 500, model.HoldActive))

	_, err := engine.GetHold(context.Background(), "tnt_other", "hld_1")
	assert.Error(t, err)
	assert.True(t, apierror.Is(err, apierror.ErrNotFound))
}
