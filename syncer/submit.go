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
	"github.com/CovenantSQL/vericerti/utils/timer"
	"github.com/CovenantSQL/vericerti/utils/trace"
)

// SubmitResult summarizes a submission run.
type SubmitResult struct {
	Pending   int // PENDING records loaded
	Submitted int // hashes sent and markers added
	InFlight  int // records skipped for an existing marker
	Failed    int // submissions or marker writes that failed
}

// Submitter anchors the hashes of PENDING records and tracks each submission with a
// pending verification marker. Records themselves are left PENDING.
type Submitter struct {
	store  ledger.Store
	queue  queue.Queue
	client registry.Client
	opts   Options
}

// NewSubmitter returns a submitter.
func NewSubmitter(store ledger.Store, q queue.Queue, client registry.Client, opts Options) *Submitter {
	return &Submitter{store: store, queue: q, client: client, opts: opts.normalize()}
}

// RunOnce submits every PENDING record without an in-flight marker. Missing registry
// configuration skips the run without error.
func (s *Submitter) RunOnce(ctx context.Context) (res SubmitResult, err error) {
	if err = s.client.Ready(ctx, true); err != nil {
		log.WithError(err).Debug("hash registry not ready, skip submission")
		return res, nil
	}

	t := timer.NewTimer()
	var records []*types.LedgerRecord
	if records, err = s.store.FindPending(ctx); err != nil {
		return
	}
	res.Pending = len(records)
	t.Add("load")

	for _, r := range records {
		if err = ctx.Err(); err != nil {
			return
		}

		le := log.WithFields(log.Fields{"record": r.ID, "tenant": r.TenantID})

		existing, findErr := s.queue.FindPrefix(ctx, types.MarkerPrefix(r.ID))
		if findErr != nil {
			// cannot tell whether it is in flight, do not risk a duplicate submission
			le.WithError(findErr).Warning("lookup pending marker failed, skip record")
			res.Failed++
			continue
		}
		if len(existing) > 0 {
			le.WithField("marker", existing[0]).Debug("submission in flight, skip record")
			res.InFlight++
			continue
		}

		txRef, submitErr := s.submit(ctx, r)
		if submitErr != nil {
			if isUnavailable(submitErr) {
				le.WithError(submitErr).Warning("hash registry became unavailable, stop submission")
				break
			}
			le.WithError(submitErr).Warning("submit hash failed, record stays pending")
			res.Failed++
			continue
		}

		marker := types.NewPendingMarker(r.ID, txRef)
		if addErr := s.queue.Add(ctx, marker.String()); addErr != nil {
			// without a marker the next run submits the record again
			le.WithError(addErr).WithField("tx", txRef).Error("add pending marker failed")
			res.Failed++
			continue
		}

		le.WithField("tx", txRef).Info("hash submitted")
		res.Submitted++
	}

	t.Add("submit")
	log.WithFields(t.ToLogFields()).WithField("records", res.Pending).Debug("submission phases")

	s.opts.Metrics.event(EventSubmitted, res.Submitted)
	return
}

func (s *Submitter) submit(ctx context.Context, r *types.LedgerRecord) (string, error) {
	defer trace.StartRegion(ctx, "submit").End()
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	txRef, err := s.client.Submit(ctx, r.DataHash, r.TenantID)
	if err != nil {
		return "", errors.Wrapf(err, "submit record %d", r.ID)
	}
	return txRef, nil
}
