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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const markerSep = ":"

// PendingMarker is a queue entry for a submitted but unconfirmed ledger record, encoded on
// the wire as "<recordId>:<txRef>:<retryCount>".
type PendingMarker struct {
	RecordID   int64
	TxRef      string
	RetryCount int
}

// NewPendingMarker returns the marker of a fresh submission.
func NewPendingMarker(recordID int64, txRef string) PendingMarker {
	return PendingMarker{RecordID: recordID, TxRef: txRef}
}

// String returns the wire form of the marker.
func (m PendingMarker) String() string {
	return strconv.FormatInt(m.RecordID, 10) + markerSep + m.TxRef + markerSep + strconv.Itoa(m.RetryCount)
}

// Next returns the marker of the following verification attempt.
func (m PendingMarker) Next() PendingMarker {
	m.RetryCount++
	return m
}

// MarkerPrefix returns the wire prefix shared by every marker of the record.
func MarkerPrefix(recordID int64) string {
	return strconv.FormatInt(recordID, 10) + markerSep
}

// ParseMarker decodes a queue member. Members without exactly three fields, with
// non-integer or negative numbers, or with an empty transaction reference are rejected.
func ParseMarker(s string) (m PendingMarker, err error) {
	parts := strings.Split(s, markerSep)
	if len(parts) != 3 {
		err = errors.Wrapf(ErrMalformedMarker, "%q: expect 3 fields, got %d", s, len(parts))
		return
	}
	if m.RecordID, err = strconv.ParseInt(parts[0], 10, 64); err != nil || m.RecordID < 0 {
		err = errors.Wrapf(ErrMalformedMarker, "%q: invalid record id", s)
		return
	}
	if m.TxRef = parts[1]; m.TxRef == "" {
		err = errors.Wrapf(ErrMalformedMarker, "%q: empty transaction reference", s)
		return
	}
	if m.RetryCount, err = strconv.Atoi(parts[2]); err != nil || m.RetryCount < 0 {
		err = errors.Wrapf(ErrMalformedMarker, "%q: invalid retry count", s)
		return
	}
	return
}
