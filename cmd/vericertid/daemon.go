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

package main

import (
	"context"
	"io"
	"net/http"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CovenantSQL/vericerti/api"
	"github.com/CovenantSQL/vericerti/conf"
	"github.com/CovenantSQL/vericerti/ledger"
	"github.com/CovenantSQL/vericerti/queue"
	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/syncer"
	"github.com/CovenantSQL/vericerti/utils/log"
)

// daemon owns the long lived components of the process.
type daemon struct {
	redis    *redis.Client
	registry *registry.EthRegistry
	store    *ledger.SQLiteStore
	queue    queue.Queue
	service  *ledger.Service
	manual   *syncer.Manual
	gatherer *prometheus.Registry
	runners  []*syncer.Runner
}

func newDaemon(ctx context.Context, cfg *conf.Config) (d *daemon, err error) {
	d = &daemon{}
	defer func() {
		if err != nil {
			d.close()
			d = nil
		}
	}()

	needRedis := cfg.Queue.Backend == conf.QueueBackendRedis || cfg.Chain.ContractAddressKey != ""
	if needRedis {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = d.redis.WithContext(ctx).Ping().Err(); err != nil {
			// the queue and the resolver reconnect on demand
			log.WithError(err).WithField("addr", cfg.Redis.Addr).Warning("redis not reachable yet")
			err = nil
		}
	}

	var resolver registry.AddressResolver
	if resolver, err = registry.NewStaticResolver(cfg.Chain.ContractAddress); err != nil {
		return
	}
	if cfg.Chain.ContractAddressKey != "" {
		resolver = registry.NewRedisResolver(d.redis, cfg.Chain.ContractAddressKey, resolver)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.CallTimeout)
	defer cancel()
	if d.registry, err = registry.Dial(dialCtx, &cfg.Chain, resolver); err != nil {
		return
	}

	if d.store, err = ledger.NewSQLiteStore(cfg.Store.Path); err != nil {
		return
	}
	var files *ledger.LocalFileStore
	if files, err = ledger.NewLocalFileStore(cfg.Files.Root); err != nil {
		return
	}
	d.service = ledger.NewService(d.store, files)

	switch cfg.Queue.Backend {
	case conf.QueueBackendMemory:
		log.Warning("memory queue selected, in-flight submissions are lost on restart")
		d.queue = queue.NewMemoryQueue()
	case conf.QueueBackendLevelDB:
		var q *queue.LevelDBQueue
		if q, err = queue.NewLevelDBQueue(cfg.Queue.Path); err != nil {
			return
		}
		d.queue = q
	case conf.QueueBackendRedis:
		d.queue = queue.NewRedisQueue(d.redis, cfg.Queue.Key)
	default:
		err = errors.Wrapf(conf.ErrInvalidConfig, "unknown queue backend %s", cfg.Queue.Backend)
		return
	}

	m := syncer.NewMetrics()
	d.gatherer = prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		syncer.NewQueueCollector(d.queue),
	} {
		if err = d.gatherer.Register(c); err != nil {
			return
		}
	}
	if err = m.Register(d.gatherer); err != nil {
		return
	}

	opts := syncer.Options{
		CallTimeout:       cfg.Chain.CallTimeout,
		MaxVerifyAttempts: cfg.Sync.MaxVerifyAttempts,
		HashCacheSize:     cfg.Sync.HashCacheSize,
		ManualWriteBack:   cfg.Sync.ManualWriteBack,
		Metrics:           m,
	}
	d.manual = syncer.NewManual(d.store, d.queue, d.registry, opts)

	var verifier *syncer.Verifier
	if verifier, err = syncer.NewVerifier(d.store, d.queue, d.registry, opts); err != nil {
		return
	}
	var reconcileAt syncer.Schedule
	if reconcileAt, err = syncer.ParseCron(cfg.Sync.ReconcileSchedule); err != nil {
		return
	}

	submitRunner := syncer.NewRunner("submit", syncer.Every(cfg.Sync.SubmitInterval),
		syncer.SubmitJob(syncer.NewSubmitter(d.store, d.queue, d.registry, opts)), m)
	submitRunner.RunAtStart = true
	verifyRunner := syncer.NewRunner("verify", syncer.Every(cfg.Sync.VerifyInterval),
		syncer.VerifyJob(verifier), m)
	reconcileRunner := syncer.NewRunner("reconcile", reconcileAt,
		syncer.ReconcileJob(syncer.NewReconciler(d.store, d.registry, opts)), m)
	d.runners = []*syncer.Runner{submitRunner, verifyRunner, reconcileRunner}
	return
}

func (d *daemon) handler(cfg *conf.Config, accessLog io.Writer) http.Handler {
	return api.NewHandler(d.manual, d.store, d.service, api.Options{
		AdminToken: cfg.AdminToken,
		Gatherer:   d.gatherer,
		AccessLog:  accessLog,
	})
}

func (d *daemon) start() {
	for _, r := range d.runners {
		r.Start()
	}
}

func (d *daemon) stop() {
	for _, r := range d.runners {
		r.Stop()
	}
}

func (d *daemon) close() {
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			log.WithError(err).Warning("close queue failed")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.WithError(err).Warning("close ledger store failed")
		}
	}
	if d.registry != nil {
		d.registry.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			log.WithError(err).Warning("close redis client failed")
		}
	}
}
