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
	"database/sql"
	"log"

	_ "github.com/lib/pq"

	"github.com/payvault/payvault/config"
	"github.com/payvault/payvault/internal/cache"
)

// Datasource is the explicitly injected data-access handle. The connection
// pool is opened once by the top-level process and passed into every
// component at construction; nothing here is a package-level singleton.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := ConnectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	newCache, err := cache.NewCache()
	if err != nil {
		log.Printf("cache unavailable, running without it: %v", err)
		newCache = nil
	}
	return &Datasource{Conn: con, Cache: newCache}, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	if err := BuildSchema(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Close drains the pool. Called by the owning process on shutdown.
func (d *Datasource) Close() error {
	return d.Conn.Close()
}

// BuildSchema creates the payvault schema and its tables.
func BuildSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS payvault`); err != nil {
		return err
	}
	for _, create := range []func(*sql.DB) error{
		createWalletTable,
		createLedgerEntryTable,
		createHoldTable,
		createIdempotencyTable,
		createPayoutBatchTable,
		createPayoutRecordTable,
		createExecutionLogTable,
		createAuditLogTable,
	} {
		if err := create(db); err != nil {
			return err
		}
	}
	return nil
}

func createWalletTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.wallets (
			id SERIAL PRIMARY KEY,
			wallet_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			owner_id TEXT,
			currency TEXT NOT NULL,
			balance NUMERIC NOT NULL DEFAULT 0,
			pending_balance NUMERIC NOT NULL DEFAULT 0,
			available_balance NUMERIC NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB,
			CHECK (available_balance = balance - pending_balance),
			CHECK (available_balance >= 0)
		);
		CREATE INDEX IF NOT EXISTS idx_wallets_tenant ON payvault.wallets (tenant_id);
	`)
	return err
}

func createLedgerEntryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.ledger_entries (
			id SERIAL PRIMARY KEY,
			entry_id TEXT NOT NULL UNIQUE,
			wallet_id TEXT NOT NULL REFERENCES payvault.wallets(wallet_id),
			tenant_id TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'POSTED',
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			balance_after NUMERIC NOT NULL,
			pending_balance_after NUMERIC NOT NULL,
			available_balance_after NUMERIC NOT NULL,
			reference_type TEXT,
			reference_id TEXT,
			counterparty_wallet_id TEXT,
			hold_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			created_by TEXT,
			hash TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet ON payvault.ledger_entries (wallet_id, id);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference ON payvault.ledger_entries (reference_type, reference_id);
	`)
	return err
}

func createHoldTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.holds (
			id SERIAL PRIMARY KEY,
			hold_id TEXT NOT NULL UNIQUE,
			wallet_id TEXT NOT NULL REFERENCES payvault.wallets(wallet_id),
			tenant_id TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			reason TEXT,
			reference_type TEXT,
			reference_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_holds_wallet_status ON payvault.holds (wallet_id, status);
	`)
	return err
}

func createIdempotencyTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.idempotency_keys (
			id SERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			key TEXT NOT NULL,
			result JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, operation, key)
		);
	`)
	return err
}

func createPayoutBatchTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.payout_batches (
			id SERIAL PRIMARY KEY,
			batch_id TEXT NOT NULL UNIQUE,
			batch_number TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			currency TEXT NOT NULL,
			vendor_count INT NOT NULL DEFAULT 0,
			payout_count INT NOT NULL DEFAULT 0,
			total_net NUMERIC NOT NULL DEFAULT 0,
			is_demo BOOLEAN NOT NULL DEFAULT FALSE,
			created_by TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMP,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_payout_batches_tenant ON payvault.payout_batches (tenant_id, status);
	`)
	return err
}

func createPayoutRecordTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.payout_records (
			id SERIAL PRIMARY KEY,
			payout_id TEXT NOT NULL UNIQUE,
			payout_number TEXT NOT NULL UNIQUE,
			batch_id TEXT NOT NULL REFERENCES payvault.payout_batches(batch_id),
			tenant_id TEXT NOT NULL,
			vendor_name TEXT,
			wallet_id TEXT NOT NULL REFERENCES payvault.wallets(wallet_id),
			status TEXT NOT NULL DEFAULT 'PENDING',
			net_amount NUMERIC NOT NULL,
			currency TEXT NOT NULL,
			hold_id TEXT REFERENCES payvault.holds(hold_id),
			payment_ref TEXT,
			failure_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payout_records_batch ON payvault.payout_records (batch_id);
		CREATE INDEX IF NOT EXISTS idx_payout_records_payment_ref ON payvault.payout_records (payment_ref);
	`)
	return err
}

func createExecutionLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.payout_execution_logs (
			id SERIAL PRIMARY KEY,
			log_id TEXT NOT NULL UNIQUE,
			batch_id TEXT NOT NULL REFERENCES payvault.payout_batches(batch_id),
			action TEXT NOT NULL,
			from_status TEXT,
			to_status TEXT,
			details TEXT,
			performed_by TEXT,
			performed_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_execution_logs_batch ON payvault.payout_execution_logs (batch_id, id);
	`)
	return err
}

func createAuditLogTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payvault.audit_logs (
			id SERIAL PRIMARY KEY,
			audit_id TEXT NOT NULL UNIQUE,
			tenant_id TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT,
			details JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON payvault.audit_logs (entity_type, entity_id, id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON payvault.audit_logs (actor, id);
	`)
	return err
}
