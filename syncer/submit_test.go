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
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/types"
)

func TestSubmitter(t *testing.T) {
	Convey("given pending records", t, func(c C) {
		ctx := context.Background()
		e, cleanup := newEnv(c)
		defer cleanup()
		r1 := e.createRecord(c, 1, "a")
		r2 := e.createRecord(c, 2, "b")

		Convey("every record is submitted once with a fresh marker", func() {
			res, err := e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res, ShouldResemble, SubmitResult{Pending: 2, Submitted: 2})

			for _, r := range []*types.LedgerRecord{r1, r2} {
				m := e.markers(c, r.ID)
				So(m, ShouldHaveLength, 1)
				marker, err := types.ParseMarker(m[0])
				So(err, ShouldBeNil)
				So(marker.RetryCount, ShouldEqual, 0)
				So(marker.TxRef, ShouldStartWith, "0x")
				So(e.status(c, r.ID), ShouldEqual, types.LedgerStatusPending)
			}

			Convey("a second run skips in-flight records", func() {
				res, err := e.submitter().RunOnce(ctx)
				So(err, ShouldBeNil)
				So(res, ShouldResemble, SubmitResult{Pending: 2, InFlight: 2})
				submits, _ := e.client.counts()
				So(submits, ShouldEqual, 2)
				So(e.markers(c, r1.ID), ShouldHaveLength, 1)
			})
		})

		Convey("an unconfigured registry skips the run", func() {
			e.client.notReady = registry.ErrNotInitialized
			res, err := e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res, ShouldResemble, SubmitResult{})
			n, _ := e.queue.Len(ctx)
			So(n, ShouldEqual, 0)
		})

		Convey("a read only registry skips the run", func() {
			e.client.readOnly = true
			res, err := e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res.Pending, ShouldEqual, 0)
		})

		Convey("submission failures leave records pending without marker", func() {
			e.client.submitErr = errors.Wrap(registry.ErrTransactionFailed, "nonce too low")
			res, err := e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res, ShouldResemble, SubmitResult{Pending: 2, Failed: 2})
			So(e.markers(c, r1.ID), ShouldBeEmpty)
			So(e.status(c, r1.ID), ShouldEqual, types.LedgerStatusPending)

			e.client.submitErr = nil
			res, err = e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res.Submitted, ShouldEqual, 2)
		})

		Convey("a registry turning unavailable stops the run", func() {
			e.client.submitErr = registry.ErrContractNotConfigured
			res, err := e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res, ShouldResemble, SubmitResult{Pending: 2})
		})

		Convey("a closed queue is never bypassed", func() {
			So(e.queue.Close(), ShouldBeNil)
			res, err := e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res.Failed, ShouldEqual, 2)
			submits, _ := e.client.counts()
			So(submits, ShouldEqual, 0)
		})

		Convey("records of other states are ignored", func() {
			So(e.store.TransitionToFailed(ctx, r1.ID), ShouldBeNil)
			So(e.store.TransitionToRecorded(ctx, r2.ID, "0xabc"), ShouldBeNil)
			res, err := e.submitter().RunOnce(ctx)
			So(err, ShouldBeNil)
			So(res, ShouldResemble, SubmitResult{})
		})
	})
}
