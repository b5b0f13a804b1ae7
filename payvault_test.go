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
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/database"
)

func newTestPayvault(t *testing.T) (*Payvault, sqlmock.Sqlmock) {
	t.Helper()
	config.MockConfig(&config.Configuration{})

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	return &Payvault{
		datasource: &database.Datasource{Conn: db},
		redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		provider:   &MockProvider{},
	}, mock
}

func walletColumns() []string {
	return []string{"id", "wallet_id", "tenant_id", "owner_id", "currency", "balance", "pending_balance", "available_balance", "version", "created_at", "meta_data"}
}

func walletRow(walletID, tenantID, currency string, balance, pending, version int64) *sqlmock.Rows {
	available := balance - pending
	return sqlmock.NewRows(walletColumns()).
		AddRow(1, walletID, tenantID, "own_test", currency,
			fmt.Sprint(balance), fmt.Sprint(pending), fmt.Sprint(available),
			version, time.Now(), []byte("{}"))
}

func payoutRecordColumns() []string {
	return []string{"id", "payout_id", "payout_number", "batch_id", "tenant_id", "vendor_name", "wallet_id", "status", "net_amount", "currency", "hold_id", "payment_ref", "failure_reason", "created_at", "updated_at"}
}

func batchColumns() []string {
	return []string{"id", "batch_id", "batch_number", "tenant_id", "status", "currency", "vendor_count", "payout_count", "total_net", "is_demo", "created_by", "created_at", "processed_at", "completed_at"}
}
