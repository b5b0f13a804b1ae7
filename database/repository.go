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
	"time"

	"github.com/payvault/payvault/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	wallet
	ledger
	hold
	idempotency
	payout
	audit

	Close() error
}

// wallet defines methods for wallet rows. All mutation goes through the
// ledger group's atomic append; wallets are never updated in isolation.
type wallet interface {
	CreateWallet(ctx context.Context, wallet model.Wallet) (model.Wallet, error)
	GetWallet(ctx context.Context, tenantID, walletID string) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, walletID string) (*model.Wallet, error)
	GetAllWallets(ctx context.Context, tenantID string, limit, offset int) ([]model.Wallet, error)
}

// ledger defines the atomic append operations. Each records the ledger row
// and the wallet's conditional update in one database transaction.
type ledger interface {
	RecordEntry(ctx context.Context, wallet *model.Wallet, entry *model.LedgerEntry) (*model.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context, walletID string, filter model.LedgerFilter) ([]*model.LedgerEntry, error)
	GetEntriesByReference(ctx context.Context, referenceType, referenceID string) ([]*model.LedgerEntry, error)
}

// hold defines hold lifecycle operations. Creation and transition both pair a
// guarded hold-row update with the wallet delta and ledger entry in one
// transaction, so a hold can never move without its ledger trace.
type hold interface {
	CreateHold(ctx context.Context, wallet *model.Wallet, newHold *model.Hold, entry *model.LedgerEntry) (*model.Hold, error)
	GetHold(ctx context.Context, holdID string) (*model.Hold, error)
	TransitionHold(ctx context.Context, wallet *model.Wallet, transitioning *model.Hold, target model.HoldStatus, entry *model.LedgerEntry) (*model.LedgerEntry, error)
	GetActiveHoldsByReference(ctx context.Context, referenceType, referenceID string) ([]*model.Hold, error)
}

// idempotency defines the durable check-and-reserve table. Reservation is a
// single insert, so two concurrent retries can never both pass the check.
type idempotency interface {
	ReserveIdempotencyKey(ctx context.Context, tenantID, operation, key string) (bool, *model.IdempotencyRecord, error)
	SaveIdempotencyResult(ctx context.Context, tenantID, operation, key string, result []byte) error
	GetIdempotencyRecord(ctx context.Context, tenantID, operation, key string) (*model.IdempotencyRecord, error)
	GetStalePendingKeys(ctx context.Context, operation string, olderThan time.Time) ([]model.IdempotencyRecord, error)
}

// payout defines batch, record and execution-log persistence.
type payout interface {
	CreatePayoutBatch(ctx context.Context, batch *model.PayoutBatch, records []*model.PayoutRecord) (*model.PayoutBatch, error)
	GetPayoutBatch(ctx context.Context, batchID string) (*model.PayoutBatch, error)
	UpdateBatchStatus(ctx context.Context, batchID string, from, to model.BatchStatus) error
	GetPayoutRecords(ctx context.Context, batchID string) ([]*model.PayoutRecord, error)
	GetPayoutRecord(ctx context.Context, payoutID string) (*model.PayoutRecord, error)
	GetPayoutByPaymentRef(ctx context.Context, paymentRef string) (*model.PayoutRecord, error)
	UpdatePayoutStatus(ctx context.Context, payoutID string, from, to model.PayoutStatus, paymentRef, failureReason string) error
	SetPayoutHold(ctx context.Context, payoutID, holdID string) error
	RecordExecutionLog(ctx context.Context, logEntry *model.ExecutionLogEntry) error
	GetExecutionLogs(ctx context.Context, batchID string) ([]model.ExecutionLogEntry, error)
	GetStuckPayouts(ctx context.Context, olderThan time.Time) ([]*model.PayoutRecord, error)
}

// audit defines the append-only audit sink. The contract has no update or
// delete operation.
type audit interface {
	RecordAudit(ctx context.Context, auditLog *model.AuditLog) error
	GetAuditByEntity(ctx context.Context, tenantID string, filter model.AuditFilter) ([]model.AuditLog, error)
	GetAuditByActor(ctx context.Context, tenantID string, filter model.AuditFilter) ([]model.AuditLog, error)
}
