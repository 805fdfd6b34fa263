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
	"encoding/json"

	gorp "gopkg.in/gorp.v2"
)

// Audit operations.
const (
	OpCreate   = "create"
	OpRecorded = "recorded"
	OpFailed   = "failed"
	OpRetry    = "retry"
)

// AuditRecord is one entry of a ledger record transition history, rejected transitions
// are kept too with their error.
type AuditRecord struct {
	ID       int64       `db:"id" json:"id"`
	RecordID int64       `db:"record_id" json:"recordId"`
	Time     int64       `db:"time" json:"time"`
	Op       string      `db:"op" json:"op"`
	From     string      `db:"from_status" json:"from"`
	To       string      `db:"to_status" json:"to"`
	TxRef    string      `db:"tx_hash" json:"txHash,omitempty"`
	RawData  []byte      `db:"data" json:"-"`
	Data     interface{} `db:"-" json:"data,omitempty"`
	Error    string      `db:"error" json:"error,omitempty"`
}

// PostGet implements gorp.HasPostGet interface.
func (r *AuditRecord) PostGet(gorp.SqlExecutor) error {
	return r.Deserialize()
}

// PreInsert implements gorp.HasPreInsert interface.
func (r *AuditRecord) PreInsert(gorp.SqlExecutor) error {
	return r.Serialize()
}

// Serialize marshals the attached data to bytes.
func (r *AuditRecord) Serialize() (err error) {
	if r.Data == nil {
		r.RawData = nil
		return
	}
	r.RawData, err = json.Marshal(r.Data)
	return
}

// Deserialize unmarshals the stored bytes to data.
func (r *AuditRecord) Deserialize() (err error) {
	if len(r.RawData) == 0 {
		return
	}
	err = json.Unmarshal(r.RawData, &r.Data)
	return
}
