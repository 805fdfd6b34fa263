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

package ledger

import (
	"context"
	"database/sql"
	"time"

	// Load sqlite3 database driver.
	_ "github.com/CovenantSQL/go-sqlite3-encrypt"
	"github.com/pkg/errors"
	gorp "gopkg.in/gorp.v2"

	"github.com/CovenantSQL/vericerti/types"
	"github.com/CovenantSQL/vericerti/utils/log"
)

const (
	recordTable = "ledger_record"
	auditTable  = "ledger_audit"
)

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS "idx_record_status" ON "ledger_record" ("status")`,
	`CREATE INDEX IF NOT EXISTS "idx_record_tenant" ON "ledger_record" ("tenant_id")`,
	`CREATE INDEX IF NOT EXISTS "idx_record_tx" ON "ledger_record" ("tx_hash")`,
	`CREATE INDEX IF NOT EXISTS "idx_audit_record" ON "ledger_audit" ("record_id")`,
}

// SQLiteStore is a Store on a local sqlite3 database.
type SQLiteStore struct {
	db *gorp.DbMap
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (s *SQLiteStore, err error) {
	var db *sql.DB
	if db, err = sql.Open("sqlite3", path); err != nil {
		err = errors.Wrap(err, "open ledger database failed")
		return
	}
	// sqlite allows a single writer, queue callers on one connection instead of
	// failing with database locked
	db.SetMaxOpenConns(1)

	dbMap := &gorp.DbMap{Db: db, Dialect: gorp.SqliteDialect{}}
	dbMap.AddTableWithName(types.LedgerRecord{}, recordTable).
		SetKeys(true, "ID")
	dbMap.AddTableWithName(AuditRecord{}, auditTable).
		SetKeys(true, "ID")
	if err = dbMap.CreateTablesIfNotExists(); err != nil {
		_ = db.Close()
		err = errors.Wrap(err, "create ledger tables failed")
		return
	}
	for _, stmt := range indexes {
		if _, err = dbMap.Exec(stmt); err != nil {
			_ = db.Close()
			err = errors.Wrap(err, "create ledger index failed")
			return
		}
	}

	s = &SQLiteStore{db: dbMap}
	return
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	return s.db.Db.Close()
}

// Create implements Store.Create.
func (s *SQLiteStore) Create(ctx context.Context, r *types.LedgerRecord) (err error) {
	if _, err = types.ParseEntityType(string(r.EntityType)); err != nil {
		return
	}
	if err = types.ValidateDataHash(r.DataHash); err != nil {
		return
	}
	if r.Status != types.LedgerStatusPending {
		return errors.Wrapf(types.ErrIllegalStateTransition, "new record must be %s", types.LedgerStatusPending)
	}

	now := time.Now().Unix()
	r.Created, r.LastUpdate = now, now

	var txn *gorp.Transaction
	if txn, err = s.db.Begin(); err != nil {
		return errors.Wrap(err, "begin transaction failed")
	}
	exec := txn.WithContext(ctx)
	if err = exec.Insert(r); err != nil {
		_ = txn.Rollback()
		return errors.Wrap(err, "insert ledger record failed")
	}
	if err = exec.Insert(&AuditRecord{
		RecordID: r.ID,
		Time:     now,
		Op:       OpCreate,
		To:       r.Status.String(),
		Data:     r,
	}); err != nil {
		_ = txn.Rollback()
		return errors.Wrap(err, "insert audit record failed")
	}
	return errors.Wrap(txn.Commit(), "commit ledger record failed")
}

func getRecord(exec gorp.SqlExecutor, id int64) (r *types.LedgerRecord, err error) {
	err = exec.SelectOne(&r, `SELECT * FROM "ledger_record" WHERE "id" = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		err = errors.Wrapf(types.ErrEntityNotFound, "record %d", id)
	} else if err != nil {
		err = errors.Wrapf(err, "load record %d failed", id)
	}
	return
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*types.LedgerRecord, error) {
	return getRecord(s.db.WithContext(ctx), id)
}

// FindByTxRef implements Store.FindByTxRef.
func (s *SQLiteStore) FindByTxRef(ctx context.Context, txRef string) (r *types.LedgerRecord, err error) {
	err = s.db.WithContext(ctx).SelectOne(&r,
		`SELECT * FROM "ledger_record" WHERE "tx_hash" = ? ORDER BY "id" LIMIT 1`, txRef)
	if err == sql.ErrNoRows {
		err = errors.Wrapf(types.ErrEntityNotFound, "tx %s", txRef)
	} else if err != nil {
		err = errors.Wrapf(err, "load record of tx %s failed", txRef)
	}
	return
}

func (s *SQLiteStore) selectRecords(ctx context.Context, query string, args ...interface{}) (
	records []*types.LedgerRecord, err error,
) {
	if _, err = s.db.WithContext(ctx).Select(&records, query, args...); err != nil {
		err = errors.Wrap(err, "select ledger records failed")
	}
	return
}

// FindByTenant implements Store.FindByTenant.
func (s *SQLiteStore) FindByTenant(ctx context.Context, tenantID int64) ([]*types.LedgerRecord, error) {
	return s.selectRecords(ctx, `SELECT * FROM "ledger_record" WHERE "tenant_id" = ? ORDER BY "id"`, tenantID)
}

// FindPending implements Store.FindPending.
func (s *SQLiteStore) FindPending(ctx context.Context) ([]*types.LedgerRecord, error) {
	return s.selectRecords(ctx, `SELECT * FROM "ledger_record" WHERE "status" = ? ORDER BY "id"`,
		types.LedgerStatusPending)
}

// FindRecorded implements Store.FindRecorded.
func (s *SQLiteStore) FindRecorded(ctx context.Context) ([]*types.LedgerRecord, error) {
	return s.selectRecords(ctx, `SELECT * FROM "ledger_record" WHERE "status" = ? ORDER BY "id"`,
		types.LedgerStatusRecorded)
}

// TransitionToRecorded implements Store.TransitionToRecorded.
func (s *SQLiteStore) TransitionToRecorded(ctx context.Context, id int64, txRef string) error {
	return s.transition(ctx, id, OpRecorded, txRef, func(r *types.LedgerRecord) error {
		return r.MarkRecorded(txRef, time.Now())
	})
}

// TransitionToFailed implements Store.TransitionToFailed.
func (s *SQLiteStore) TransitionToFailed(ctx context.Context, id int64) error {
	return s.transition(ctx, id, OpFailed, "", func(r *types.LedgerRecord) error {
		return r.MarkFailed()
	})
}

// Retry implements Store.Retry.
func (s *SQLiteStore) Retry(ctx context.Context, id int64) error {
	return s.transition(ctx, id, OpRetry, "", func(r *types.LedgerRecord) error {
		return r.Retry()
	})
}

// transition applies fn to the stored record and writes it back guarded by the status it
// was loaded with, so a concurrent transition of the same record makes this one fail
// instead of applying twice.
func (s *SQLiteStore) transition(ctx context.Context, id int64, op, txRef string,
	fn func(r *types.LedgerRecord) error,
) (err error) {
	var (
		txn  *gorp.Transaction
		r    *types.LedgerRecord
		from types.LedgerStatus
	)
	defer func() {
		if errors.Cause(err) != types.ErrIllegalStateTransition || r == nil {
			return
		}
		if auditErr := s.db.WithContext(ctx).Insert(&AuditRecord{
			RecordID: id,
			Time:     time.Now().Unix(),
			Op:       op,
			From:     from.String(),
			TxRef:    txRef,
			Error:    err.Error(),
		}); auditErr != nil {
			log.WithError(auditErr).WithField("record", id).Warning("write rejected transition audit failed")
		}
	}()

	if txn, err = s.db.Begin(); err != nil {
		return errors.Wrap(err, "begin transaction failed")
	}
	exec := txn.WithContext(ctx)
	if r, err = getRecord(exec, id); err != nil {
		_ = txn.Rollback()
		return
	}
	from = r.Status
	if err = fn(r); err != nil {
		_ = txn.Rollback()
		return
	}
	r.LastUpdate = time.Now().Unix()

	var res sql.Result
	if res, err = exec.Exec(
		`UPDATE "ledger_record" SET "status" = ?, "tx_hash" = ?, "recorded_at" = ?, "last_update" = ?
		WHERE "id" = ? AND "status" = ?`,
		r.Status, r.TxRef, r.RecordedAt, r.LastUpdate, id, from,
	); err != nil {
		_ = txn.Rollback()
		return errors.Wrapf(err, "update record %d failed", id)
	}
	var affected int64
	if affected, err = res.RowsAffected(); err != nil {
		_ = txn.Rollback()
		return errors.Wrapf(err, "update record %d failed", id)
	}
	if affected == 0 {
		_ = txn.Rollback()
		return errors.Wrapf(types.ErrIllegalStateTransition, "record %d changed concurrently", id)
	}

	if err = exec.Insert(&AuditRecord{
		RecordID: id,
		Time:     r.LastUpdate,
		Op:       op,
		From:     from.String(),
		To:       r.Status.String(),
		TxRef:    r.TxRef,
	}); err != nil {
		_ = txn.Rollback()
		return errors.Wrap(err, "insert audit record failed")
	}

	if err = txn.Commit(); err != nil {
		return errors.Wrap(err, "commit transition failed")
	}

	log.WithFields(log.Fields{
		"record": id,
		"from":   from,
		"to":     r.Status,
		"tx":     r.TxRef,
	}).Debug("ledger record transitioned")
	return
}

// AuditTrail implements Store.AuditTrail.
func (s *SQLiteStore) AuditTrail(ctx context.Context, id int64) (records []*AuditRecord, err error) {
	if _, err = s.db.WithContext(ctx).Select(&records,
		`SELECT * FROM "ledger_audit" WHERE "record_id" = ? ORDER BY "id"`, id); err != nil {
		err = errors.Wrap(err, "select audit records failed")
	}
	return
}
