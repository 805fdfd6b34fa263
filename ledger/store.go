/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package ledger persists ledger records and their transition audit trail.
package ledger

import (
	"context"

	"github.com/CovenantSQL/vericerti/types"
)

// Store defines the ledger record persistence used by the synchronization engine.
type Store interface {
	Create(ctx context.Context, r *types.LedgerRecord) error
	Get(ctx context.Context, id int64) (*types.LedgerRecord, error)
	FindByTxRef(ctx context.Context, txRef string) (*types.LedgerRecord, error)
	FindByTenant(ctx context.Context, tenantID int64) ([]*types.LedgerRecord, error)
	FindPending(ctx context.Context) ([]*types.LedgerRecord, error)
	FindRecorded(ctx context.Context) ([]*types.LedgerRecord, error)

	// TransitionToRecorded moves a PENDING record to RECORDED, other statuses yield
	// types.ErrIllegalStateTransition.
	TransitionToRecorded(ctx context.Context, id int64, txRef string) error
	// TransitionToFailed moves a PENDING record to FAILED.
	TransitionToFailed(ctx context.Context, id int64) error
	// Retry moves a FAILED record back to PENDING.
	Retry(ctx context.Context, id int64) error

	AuditTrail(ctx context.Context, id int64) ([]*AuditRecord, error)
	Close() error
}
