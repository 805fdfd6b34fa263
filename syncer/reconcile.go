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

	"github.com/CovenantSQL/vericerti/ledger"
	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/types"
	"github.com/CovenantSQL/vericerti/utils/log"
)

// SyncResult summarizes a check of RECORDED records against the registry.
type SyncResult struct {
	Total    int `json:"total"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
}

// Reconciler re-checks every RECORDED record and reports hashes the registry no longer
// knows. It never changes record state.
type Reconciler struct {
	store  ledger.Store
	client registry.Client
	opts   Options
}

// NewReconciler returns a reconciler.
func NewReconciler(store ledger.Store, client registry.Client, opts Options) *Reconciler {
	return &Reconciler{store: store, client: client, opts: opts.normalize()}
}

// RunOnce checks all RECORDED records. Missing registry configuration skips the run
// without error.
func (r *Reconciler) RunOnce(ctx context.Context) (res SyncResult, err error) {
	if err = r.client.Ready(ctx, false); err != nil {
		log.WithError(err).Debug("hash registry not ready, skip reconciliation")
		return res, nil
	}

	log.Info("starting full reconciliation")
	if res, err = r.check(ctx); err != nil {
		return
	}
	r.opts.Metrics.event(EventDrift, res.Failed)

	le := log.WithFields(log.Fields{
		"total":    res.Total,
		"verified": res.Verified,
		"failed":   res.Failed,
	})
	if res.Failed > 0 {
		le.Warning("full reconciliation found drift")
	} else {
		le.Info("full reconciliation complete")
	}
	return
}

// check confirms every RECORDED record, errors of single records count as failed.
func (r *Reconciler) check(ctx context.Context) (res SyncResult, err error) {
	var records []*types.LedgerRecord
	if records, err = r.store.FindRecorded(ctx); err != nil {
		return
	}
	res.Total = len(records)

	for _, rec := range records {
		if err = ctx.Err(); err != nil {
			return
		}
		le := log.WithFields(log.Fields{"record": rec.ID, "tx": rec.TxRef})
		c, confirmErr := confirm(ctx, r.client, r.opts.CallTimeout, rec.DataHash)
		switch {
		case confirmErr != nil:
			le.WithError(confirmErr).Error("verify recorded hash failed")
			res.Failed++
		case !c.Exists:
			le.Warning("recorded hash not found in registry")
			res.Failed++
		default:
			res.Verified++
		}
	}
	return
}
