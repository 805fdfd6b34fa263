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

package syncer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/ledger"
	"github.com/CovenantSQL/vericerti/queue"
	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/types"
	"github.com/CovenantSQL/vericerti/utils/log"
)

// Manual serves operator triggered synchronization. Checks are read only unless
// ManualWriteBack is enabled.
type Manual struct {
	store      ledger.Store
	queue      queue.Queue
	client     registry.Client
	reconciler *Reconciler
	opts       Options
}

// NewManual returns the manual sync facade.
func NewManual(store ledger.Store, q queue.Queue, client registry.Client, opts Options) *Manual {
	opts = opts.normalize()
	return &Manual{
		store:      store,
		queue:      q,
		client:     client,
		reconciler: NewReconciler(store, client, opts),
		opts:       opts,
	}
}

// SyncAll checks every RECORDED record against the registry.
func (m *Manual) SyncAll(ctx context.Context) (res SyncResult, err error) {
	if err = m.client.Ready(ctx, false); err != nil {
		return
	}
	if res, err = m.reconciler.check(ctx); err != nil {
		return
	}
	log.WithFields(log.Fields{
		"total":    res.Total,
		"verified": res.Verified,
		"failed":   res.Failed,
	}).Info("manual sync complete")
	return
}

// SyncEntry reports whether the hash of record id is in the registry, whatever the
// record status. With write back enabled a confirmed PENDING record with an in-flight
// marker is promoted to RECORDED.
func (m *Manual) SyncEntry(ctx context.Context, id int64) (verified bool, err error) {
	if err = m.client.Ready(ctx, false); err != nil {
		return
	}
	var r *types.LedgerRecord
	if r, err = m.store.Get(ctx, id); err != nil {
		return
	}
	var c registry.Confirmation
	if c, err = confirm(ctx, m.client, m.opts.CallTimeout, r.DataHash); err != nil {
		return
	}
	verified = c.Exists

	le := log.WithFields(log.Fields{"record": id, "status": r.Status, "verified": verified})
	le.Info("manual entry sync")

	if verified && m.opts.ManualWriteBack && r.Status == types.LedgerStatusPending {
		if err = m.promote(ctx, id); err != nil {
			le.WithError(err).Warning("write back confirmed record failed")
			err = nil
		}
	}
	return
}

func (m *Manual) promote(ctx context.Context, id int64) (err error) {
	var members []string
	if members, err = m.queue.FindPrefix(ctx, types.MarkerPrefix(id)); err != nil {
		return
	}
	if len(members) == 0 {
		log.WithField("record", id).Info("confirmed record has no pending marker, left for resubmission")
		return
	}
	var marker types.PendingMarker
	if marker, err = types.ParseMarker(members[0]); err != nil {
		return
	}
	if err = m.store.TransitionToRecorded(ctx, id, marker.TxRef); err != nil {
		return
	}
	for _, member := range members {
		if rmErr := m.queue.Remove(ctx, member); rmErr != nil {
			log.WithError(rmErr).WithField("marker", member).Warning("remove pending marker failed")
		}
	}
	log.WithFields(log.Fields{"record": id, "tx": marker.TxRef}).Info("record recorded by manual sync")
	return
}

// RetryEntry moves a FAILED record back to PENDING so the next submission run anchors it
// again, leftover markers of the record are removed first.
func (m *Manual) RetryEntry(ctx context.Context, id int64) (r *types.LedgerRecord, err error) {
	if r, err = m.store.Get(ctx, id); err != nil {
		return
	}
	if r.Status != types.LedgerStatusFailed {
		err = errors.Wrapf(types.ErrIllegalStateTransition, "record %d is %s", id, r.Status)
		return
	}

	var members []string
	if members, err = m.queue.FindPrefix(ctx, types.MarkerPrefix(id)); err != nil {
		return
	}
	for _, member := range members {
		if err = m.queue.Remove(ctx, member); err != nil {
			return
		}
	}

	if err = m.store.Retry(ctx, id); err != nil {
		return
	}
	log.WithField("record", id).Info("failed record scheduled for resubmission")
	return m.store.Get(ctx, id)
}
