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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestReserveIdempotencyKey_NewKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("INSERT INTO payvault.idempotency_keys").
		WithArgs("tnt_1", "transfer", "key-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	reserved, existing, err := ds.ReserveIdempotencyKey(context.Background(), "tnt_1", "transfer", "key-1")
	assert.NoError(t, err)
	assert.True(t, reserved)
	assert.Nil(t, existing)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestReserveIdempotencyKey_DuplicateReturnsRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// ON CONFLICT DO NOTHING returns no row when the key is already taken.
	mock.ExpectQuery("INSERT INTO payvault.idempotency_keys").
		WithArgs("tnt_1", "transfer", "key-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectQuery("SELECT (.+) FROM payvault.idempotency_keys").
		WithArgs("tnt_1", "transfer", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "operation", "key", "result", "created_at", "updated_at"}).
			AddRow(1, "tnt_1", "transfer", "key-1", `{"transfer_id":"trf_1","status":"COMPLETED"}`, time.Now(), time.Now()))

	reserved, existing, err := ds.ReserveIdempotencyKey(context.Background(), "tnt_1", "transfer", "key-1")
	assert.NoError(t, err)
	assert.False(t, reserved)
	assert.NotNil(t, existing)
	assert.Contains(t, string(existing.Result), "trf_1")
}

func TestReserveIdempotencyKey_DuplicateStillPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("INSERT INTO payvault.idempotency_keys").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	// A reservation without a stored result means the first attempt is still
	// in flight or crashed before finishing.
	mock.ExpectQuery("SELECT (.+) FROM payvault.idempotency_keys").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "operation", "key", "result", "created_at", "updated_at"}).
			AddRow(1, "tnt_1", "transfer", "key-1", nil, time.Now(), time.Now()))

	reserved, existing, err := ds.ReserveIdempotencyKey(context.Background(), "tnt_1", "transfer", "key-1")
	assert.NoError(t, err)
	assert.False(t, reserved)
	assert.NotNil(t, existing)
	assert.Empty(t, existing.Result)
}

func TestSaveIdempotencyResult_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	result := []byte(`{"transfer_id":"trf_1"}`)
	mock.ExpectExec("UPDATE payvault.idempotency_keys").
		WithArgs("tnt_1", "transfer", "key-1", result).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.SaveIdempotencyResult(context.Background(), "tnt_1", "transfer", "key-1", result)
	assert.NoError(t, err)
}
