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

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/ledger"
	"github.com/CovenantSQL/vericerti/queue"
	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/types"
	"github.com/CovenantSQL/vericerti/utils/log"
	"github.com/CovenantSQL/vericerti/utils/timer"
	"github.com/CovenantSQL/vericerti/utils/trace"
)

// VerifyResult summarizes a verification run.
type VerifyResult struct {
	Processed int // markers read from the queue
	Confirmed int // records promoted to RECORDED
	Retried   int // markers re-queued with a bumped retry count
	Failed    int // records marked FAILED after the last attempt
	Malformed int // unparsable markers removed
	Dropped   int // markers removed for unknown records or rejected transitions
}

// Verifier polls the registry for every pending verification marker and settles the
// record state from the answer.
type Verifier struct {
	store  ledger.Store
	queue  queue.Queue
	client registry.Client
	opts   Options
	hashes *lru.Cache
}

// NewVerifier returns a verifier.
func NewVerifier(store ledger.Store, q queue.Queue, client registry.Client, opts Options) (v *Verifier, err error) {
	v = &Verifier{store: store, queue: q, client: client, opts: opts.normalize()}
	if v.hashes, err = lru.New(v.opts.HashCacheSize); err != nil {
		return nil, errors.Wrap(err, "create hash cache failed")
	}
	return
}

// RunOnce processes a snapshot of the queue. Missing registry configuration skips the run
// without error, a failure on one marker never stops the others.
func (v *Verifier) RunOnce(ctx context.Context) (res VerifyResult, err error) {
	if err = v.client.Ready(ctx, false); err != nil {
		log.WithError(err).Debug("hash registry not ready, skip verification")
		return res, nil
	}

	t := timer.NewTimer()
	var members []string
	if members, err = v.queue.Members(ctx); err != nil {
		return
	}
	t.Add("load")
	if len(members) > 0 {
		log.WithField("count", len(members)).Info("verifying pending markers")
	}

	for _, member := range members {
		if err = ctx.Err(); err != nil {
			break
		}
		res.Processed++
		if stop := v.process(ctx, member, &res); stop {
			break
		}
	}

	t.Add("verify")
	log.WithFields(t.ToLogFields()).WithField("markers", res.Processed).Debug("verification phases")

	m := v.opts.Metrics
	m.event(EventConfirmed, res.Confirmed)
	m.event(EventRetried, res.Retried)
	m.event(EventFailed, res.Failed)
	m.event(EventMalformed, res.Malformed)
	m.event(EventDropped, res.Dropped)
	return
}

func (v *Verifier) process(ctx context.Context, member string, res *VerifyResult) (stop bool) {
	defer trace.StartRegion(ctx, "verify").End()

	marker, err := types.ParseMarker(member)
	if err != nil {
		log.WithError(err).WithField("marker", member).Error("remove malformed pending marker")
		if v.remove(ctx, member) {
			res.Malformed++
		}
		return
	}

	le := log.WithFields(log.Fields{
		"record": marker.RecordID,
		"tx":     marker.TxRef,
		"retry":  marker.RetryCount,
	})

	hash, err := v.dataHash(ctx, marker.RecordID)
	if errors.Cause(err) == types.ErrEntityNotFound {
		le.WithError(err).Error("remove pending marker of unknown record")
		if v.remove(ctx, member) {
			res.Dropped++
		}
		return
	} else if err != nil {
		le.WithError(err).Warning("load record failed, keep pending marker")
		return
	}

	c, err := confirm(ctx, v.client, v.opts.CallTimeout, hash)
	if isUnavailable(err) {
		le.WithError(err).Warning("hash registry became unavailable, stop verification")
		return true
	} else if err != nil {
		le.WithError(err).Debug("confirm hash failed, treat as not confirmed")
	}

	if err == nil && c.Exists {
		if v.settle(ctx, le, member, res, func() error {
			return v.store.TransitionToRecorded(ctx, marker.RecordID, marker.TxRef)
		}, &res.Confirmed) {
			le.WithField("registered", c.Timestamp).Info("hash confirmed, record recorded")
		}
		return
	}

	// compared before incrementing so an oversized retry count cannot wrap
	if marker.RetryCount >= v.opts.MaxVerifyAttempts-1 {
		le.Error("hash not confirmed after last attempt, mark record failed")
		v.settle(ctx, le, member, res, func() error {
			return v.store.TransitionToFailed(ctx, marker.RecordID)
		}, &res.Failed)
		return
	}

	if !v.remove(ctx, member) {
		return
	}
	next := marker.Next()
	if err = v.queue.Add(ctx, next.String()); err != nil {
		le.WithError(err).Error("re-queue pending marker failed, restore previous marker")
		if err = v.queue.Add(ctx, member); err != nil {
			le.WithError(err).Error("restore pending marker failed, record will be submitted again")
		}
		return
	}
	res.Retried++

	attempt := marker.RetryCount + 1
	le = le.WithField("attempts", attempt)
	if attempt == 1 {
		le.Debug("hash not confirmed yet, retry scheduled")
	} else {
		le.Warning("hash still not confirmed, retry scheduled")
	}
	return
}

// settle applies a terminal transition and drops the marker when the transition is done
// or can never succeed. Store failures keep the marker so the next run repeats the step.
func (v *Verifier) settle(ctx context.Context, le *log.Entry, member string, res *VerifyResult,
	transition func() error, counter *int,
) (done bool) {
	err := transition()
	switch {
	case err == nil:
		*counter++
		v.remove(ctx, member)
		return true
	case isRecordGone(err):
		le.WithError(err).Error("transition rejected, remove pending marker")
		if v.remove(ctx, member) {
			res.Dropped++
		}
	default:
		le.WithError(err).Warning("transition failed, keep pending marker")
	}
	return
}

func (v *Verifier) remove(ctx context.Context, member string) bool {
	if err := v.queue.Remove(ctx, member); err != nil {
		log.WithError(err).WithField("marker", member).Warning("remove pending marker failed")
		return false
	}
	return true
}

func (v *Verifier) dataHash(ctx context.Context, id int64) (string, error) {
	if h, ok := v.hashes.Get(id); ok {
		return h.(string), nil
	}
	r, err := v.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	v.hashes.Add(id, r.DataHash)
	return r.DataHash, nil
}
