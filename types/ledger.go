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

package types

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LedgerStatus defines the anchoring state of a ledger record.
type LedgerStatus int16

const (
	// LedgerStatusPending defines the state of a record not yet confirmed on chain.
	LedgerStatusPending LedgerStatus = iota
	// LedgerStatusRecorded defines the state of a record whose hash is confirmed on chain.
	LedgerStatusRecorded
	// LedgerStatusFailed defines the state of a record which exhausted its verification attempts.
	LedgerStatusFailed
)

// String implements the Stringer interface for ledger status stringify.
func (s LedgerStatus) String() string {
	switch s {
	case LedgerStatusPending:
		return "PENDING"
	case LedgerStatusRecorded:
		return "RECORDED"
	case LedgerStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ParseLedgerStatus parses the stringified ledger status, case insensitive.
func ParseLedgerStatus(s string) (LedgerStatus, error) {
	switch strings.ToUpper(s) {
	case "PENDING":
		return LedgerStatusPending, nil
	case "RECORDED":
		return LedgerStatusRecorded, nil
	case "FAILED":
		return LedgerStatusFailed, nil
	default:
		return 0, errors.Errorf("unknown ledger status: %s", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s LedgerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LedgerStatus) UnmarshalText(text []byte) (err error) {
	*s, err = ParseLedgerStatus(string(text))
	return
}

// CanTransition reports whether the state machine allows moving from one status to another.
//
//   PENDING  -> RECORDED
//   PENDING  -> FAILED
//   FAILED   -> PENDING
//
// RECORDED is terminal.
func CanTransition(from, to LedgerStatus) bool {
	switch from {
	case LedgerStatusPending:
		return to == LedgerStatusRecorded || to == LedgerStatusFailed
	case LedgerStatusFailed:
		return to == LedgerStatusPending
	default:
		return false
	}
}

// EntityType defines the kind of off-chain document a ledger record anchors.
type EntityType string

const (
	// EntityTypeDonation is a donation record.
	EntityTypeDonation EntityType = "DONATION"
	// EntityTypeReceipt is a donation receipt document.
	EntityTypeReceipt EntityType = "RECEIPT"
)

// ParseEntityType parses an entity type, case insensitive.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToUpper(s))
	switch t {
	case EntityTypeDonation, EntityTypeReceipt:
		return t, nil
	default:
		return "", errors.Wrapf(ErrInvalidEntityType, "got %q", s)
	}
}

// ValidateDataHash checks the content hash is a 64 characters hex string without prefix.
func ValidateDataHash(h string) error {
	if len(h) != 64 {
		return errors.Wrapf(ErrInvalidDataHash, "length %d", len(h))
	}
	if _, err := hex.DecodeString(h); err != nil {
		return errors.Wrap(ErrInvalidDataHash, err.Error())
	}
	return nil
}

// LedgerRecord defines an off-chain document anchored by its content hash.
type LedgerRecord struct {
	ID         int64        `db:"id" json:"id"`
	TenantID   int64        `db:"tenant_id" json:"tenantId"`
	EntityType EntityType   `db:"entity_type" json:"entityType"`
	EntityID   int64        `db:"entity_id" json:"entityId"`
	DataHash   string       `db:"data_hash" json:"dataHash"`
	FileURL    string       `db:"file_url" json:"fileUrl"`
	TxRef      string       `db:"tx_hash" json:"txHash,omitempty"`
	Status     LedgerStatus `db:"status" json:"status"`
	RecordedAt int64        `db:"recorded_at" json:"recordedAt,omitempty"`

	Created    int64 `db:"created" json:"created"`
	LastUpdate int64 `db:"last_update" json:"lastUpdate"`
}

func (r *LedgerRecord) transition(to LedgerStatus) error {
	if !CanTransition(r.Status, to) {
		return errors.Wrapf(ErrIllegalStateTransition, "record %d from %s to %s", r.ID, r.Status, to)
	}
	r.Status = to
	return nil
}

// MarkRecorded moves a PENDING record to RECORDED with the confirming transaction reference.
func (r *LedgerRecord) MarkRecorded(txRef string, at time.Time) error {
	if txRef == "" {
		return errors.Wrapf(ErrIllegalStateTransition, "record %d: empty transaction reference", r.ID)
	}
	if err := r.transition(LedgerStatusRecorded); err != nil {
		return err
	}
	r.TxRef = txRef
	r.RecordedAt = at.Unix()
	return nil
}

// MarkFailed moves a PENDING record to FAILED.
func (r *LedgerRecord) MarkFailed() error {
	return r.transition(LedgerStatusFailed)
}

// Retry moves a FAILED record back to PENDING and clears its transaction reference.
func (r *LedgerRecord) Retry() error {
	if err := r.transition(LedgerStatusPending); err != nil {
		return err
	}
	r.TxRef = ""
	r.RecordedAt = 0
	return nil
}
