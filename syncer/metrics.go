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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CovenantSQL/vericerti/queue"
	"github.com/CovenantSQL/vericerti/utils/log"
)

const namespace = "vericerti"

// Job outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
)

// Record events.
const (
	EventSubmitted = "submitted"
	EventConfirmed = "confirmed"
	EventRetried   = "retried"
	EventFailed    = "failed"
	EventMalformed = "malformed"
	EventDropped   = "dropped"
	EventDrift     = "drift"
)

// Metrics holds the prometheus collectors of the synchronization jobs, a nil *Metrics
// discards every observation.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

// NewMetrics returns unregistered collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "job_runs_total",
			Help:      "Synchronization job runs by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "job_duration_seconds",
			Help:      "Synchronization job run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "record_events_total",
			Help:      "Ledger record events observed by the synchronization jobs.",
		}, []string{"event"}),
	}
}

// Register registers the collectors on reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.runs, m.duration, m.events} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeRun(job, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(job, outcome).Inc()
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) event(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(event).Add(float64(n))
}

// QueueCollector reports the pending verification queue depth at scrape time.
type QueueCollector struct {
	q       queue.Queue
	timeout time.Duration
	desc    *prometheus.Desc
}

// NewQueueCollector returns a collector reading the depth of q.
func NewQueueCollector(q queue.Queue) prometheus.Collector {
	return &QueueCollector{
		q:       q,
		timeout: 5 * time.Second,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sync", "pending_markers"),
			"Pending verification markers in the queue.",
			nil,
			nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	n, err := c.q.Len(ctx)
	if err != nil {
		log.WithError(err).Warning("read queue depth failed")
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n))
}
