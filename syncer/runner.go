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
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	uuid "github.com/satori/go.uuid"

	"github.com/CovenantSQL/vericerti/utils/log"
	"github.com/CovenantSQL/vericerti/utils/trace"
)

// Job is one run of a periodic synchronization task, the returned fields summarize it.
type Job func(ctx context.Context) (log.Fields, error)

// Schedule returns the next activation after t.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Every is a fixed delay schedule, the delay counts from the end of the previous run.
type Every time.Duration

// Next implements Schedule.Next.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// ParseCron parses a standard five fields cron expression.
func ParseCron(expr string) (Schedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cron expression %q failed", expr)
	}
	return s, nil
}

// Runner executes a job on a schedule in its own goroutine, runs never overlap.
type Runner struct {
	// RunAtStart triggers the first run right after Start instead of waiting for the
	// first activation.
	RunAtStart bool

	name     string
	job      Job
	schedule Schedule
	metrics  *Metrics

	lock    sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewRunner returns a stopped runner.
func NewRunner(name string, schedule Schedule, job Job, metrics *Metrics) *Runner {
	return &Runner{
		name:     name,
		job:      job,
		schedule: schedule,
		metrics:  metrics,
	}
}

// Name returns the job name.
func (r *Runner) Name() string {
	return r.name
}

// Start launches the schedule loop, starting a running runner is a no-op.
func (r *Runner) Start() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.loop(r.ctx, r.stopCh)
	log.WithField("job", r.name).Info("job scheduled")
}

// Stop cancels the current run and waits for the loop to exit.
func (r *Runner) Stop() {
	r.lock.Lock()
	if !r.running {
		r.lock.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.cancel()
	r.lock.Unlock()

	r.wg.Wait()
	log.WithField("job", r.name).Info("job stopped")
}

func (r *Runner) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer r.wg.Done()

	if !r.RunAtStart && !r.wait(stopCh) {
		return
	}
	for {
		_ = r.RunNow(ctx)
		if !r.wait(stopCh) {
			return
		}
	}
}

func (r *Runner) wait(stopCh <-chan struct{}) bool {
	now := time.Now()
	timer := time.NewTimer(r.schedule.Next(now).Sub(now))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

// RunNow executes the job once in the calling goroutine. A panicking job is recovered
// and reported as error.
func (r *Runner) RunNow(ctx context.Context) (err error) {
	var (
		start   = time.Now()
		outcome = OutcomeSuccess
		le      = log.WithFields(log.Fields{
			"job": r.name,
			"run": uuid.Must(uuid.NewV4()).String(),
		})
	)
	ctx, task := trace.NewTask(ctx, "job."+r.name)
	defer task.End()
	defer func() {
		if p := recover(); p != nil {
			outcome = OutcomePanic
			err = errors.Errorf("job %s panicked: %v", r.name, p)
			le.WithField("panic", p).Error("job run panicked")
		}
		r.metrics.observeRun(r.name, outcome, time.Since(start))
	}()

	fields, err := r.job(ctx)
	if err != nil {
		outcome = OutcomeError
		le.WithError(err).Error("job run failed")
		return
	}
	le.WithFields(fields).WithField("elapsed", time.Since(start).String()).Debug("job run complete")
	return
}

// SubmitJob adapts Submitter.RunOnce.
func SubmitJob(s *Submitter) Job {
	return func(ctx context.Context) (log.Fields, error) {
		res, err := s.RunOnce(ctx)
		return log.Fields{
			"pending":   res.Pending,
			"submitted": res.Submitted,
			"inflight":  res.InFlight,
			"failed":    res.Failed,
		}, err
	}
}

// VerifyJob adapts Verifier.RunOnce.
func VerifyJob(v *Verifier) Job {
	return func(ctx context.Context) (log.Fields, error) {
		res, err := v.RunOnce(ctx)
		return log.Fields{
			"processed": res.Processed,
			"confirmed": res.Confirmed,
			"retried":   res.Retried,
			"failed":    res.Failed,
			"malformed": res.Malformed,
			"dropped":   res.Dropped,
		}, err
	}
}

// ReconcileJob adapts Reconciler.RunOnce.
func ReconcileJob(r *Reconciler) Job {
	return func(ctx context.Context) (log.Fields, error) {
		res, err := r.RunOnce(ctx)
		return log.Fields{
			"total":    res.Total,
			"verified": res.Verified,
			"failed":   res.Failed,
		}, err
	}
}
