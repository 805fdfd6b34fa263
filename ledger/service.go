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
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/types"
	"github.com/CovenantSQL/vericerti/utils/log"
)

// ContentHash returns the hex encoded SHA-256 of content, the form stored as data hash.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Service creates ledger records for the document workflows.
type Service struct {
	store Store
	files FileStore
}

// NewService returns a ledger record service.
func NewService(store Store, files FileStore) *Service {
	return &Service{store: store, files: files}
}

// CreateLedgerRecord stores the document and creates its PENDING record, the next
// submission run anchors its hash.
func (s *Service) CreateLedgerRecord(ctx context.Context, tenantID int64, entityType types.EntityType,
	entityID int64, content []byte, filename string,
) (r *types.LedgerRecord, err error) {
	if entityType, err = types.ParseEntityType(string(entityType)); err != nil {
		return
	}

	var locator string
	if locator, err = s.files.Save(ctx, tenantID, filename, content); err != nil {
		return
	}

	r = &types.LedgerRecord{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		DataHash:   ContentHash(content),
		FileURL:    locator,
		Status:     types.LedgerStatusPending,
	}
	if err = s.store.Create(ctx, r); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"record": r.ID,
		"tenant": tenantID,
		"entity": entityType,
		"hash":   r.DataHash,
	}).Info("ledger record created")
	return
}

// VerifyContent reports whether the stored document of record id still matches its hash.
func (s *Service) VerifyContent(ctx context.Context, id int64) (ok bool, err error) {
	var r *types.LedgerRecord
	if r, err = s.store.Get(ctx, id); err != nil {
		return
	}
	rc, err := s.files.Open(ctx, r.FileURL)
	if err != nil {
		return
	}
	defer rc.Close()
	content, err := ioutil.ReadAll(rc)
	if err != nil {
		return false, errors.Wrapf(err, "read file of record %d failed", id)
	}
	return ContentHash(content) == r.DataHash, nil
}
