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
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/CovenantSQL/vericerti/ledger"
	"github.com/CovenantSQL/vericerti/queue"
	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/types"
)

// stubRegistry is an in-memory registry.Client.
type stubRegistry struct {
	sync.Mutex
	notReady   error
	readOnly   bool
	visible    bool // submitted hashes are confirmable right away
	submitErr  error
	confirmErr error
	delay      time.Duration
	registered map[string]int64
	submits    int
	confirms   int
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{registered: make(map[string]int64)}
}

func (s *stubRegistry) Ready(ctx context.Context, writable bool) error {
	s.Lock()
	defer s.Unlock()
	if s.notReady != nil {
		return s.notReady
	}
	if writable && s.readOnly {
		return registry.ErrNotInitialized
	}
	return nil
}

func (s *stubRegistry) Submit(ctx context.Context, hash string, tenantID int64) (string, error) {
	s.Lock()
	defer s.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	n, _, err := registry.NormalizeHash(hash)
	if err != nil {
		return "", err
	}
	s.submits++
	if s.visible {
		s.registered[n] = 1560000000
	}
	return fmt.Sprintf("0x%064x", s.submits), nil
}

func (s *stubRegistry) Confirm(ctx context.Context, hash string) (c registry.Confirmation, err error) {
	s.Lock()
	delay := s.delay
	s.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return c, errors.Wrap(registry.ErrVerificationFailed, ctx.Err().Error())
		}
	}

	s.Lock()
	defer s.Unlock()
	s.confirms++
	if s.confirmErr != nil {
		return c, s.confirmErr
	}
	n, _, err := registry.NormalizeHash(hash)
	if err != nil {
		return c, err
	}
	ts, ok := s.registered[n]
	return registry.Confirmation{Exists: ok, Timestamp: ts}, nil
}

func (s *stubRegistry) register(hash string) {
	s.Lock()
	defer s.Unlock()
	n, _, _ := registry.NormalizeHash(hash)
	s.registered[n] = 1560000000
}

func (s *stubRegistry) unregister(hash string) {
	s.Lock()
	defer s.Unlock()
	n, _, _ := registry.NormalizeHash(hash)
	delete(s.registered, n)
}

func (s *stubRegistry) counts() (submits, confirms int) {
	s.Lock()
	defer s.Unlock()
	return s.submits, s.confirms
}

// flakyStore fails transitions on demand.
type flakyStore struct {
	ledger.Store
	sync.Mutex
	failTransition error
}

func (f *flakyStore) setFail(err error) {
	f.Lock()
	defer f.Unlock()
	f.failTransition = err
}

func (f *flakyStore) fail() error {
	f.Lock()
	defer f.Unlock()
	return f.failTransition
}

func (f *flakyStore) TransitionToRecorded(ctx context.Context, id int64, txRef string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.TransitionToRecorded(ctx, id, txRef)
}

func (f *flakyStore) TransitionToFailed(ctx context.Context, id int64) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Store.TransitionToFailed(ctx, id)
}

type env struct {
	store  *flakyStore
	queue  *queue.MemoryQueue
	client *stubRegistry
	opts   Options
}

func newEnv(c C) (*env, func()) {
	dir, err := ioutil.TempDir("", "vericerti-syncer")
	c.So(err, ShouldBeNil)
	s, err := ledger.NewSQLiteStore(filepath.Join(dir, "ledger.db"))
	c.So(err, ShouldBeNil)
	e := &env{
		store:  &flakyStore{Store: s},
		queue:  queue.NewMemoryQueue(),
		client: newStubRegistry(),
		opts: Options{
			CallTimeout:       time.Second,
			MaxVerifyAttempts: 3,
			HashCacheSize:     16,
			Metrics:           NewMetrics(),
		},
	}
	return e, func() {
		_ = e.queue.Close()
		_ = s.Close()
		_ = os.RemoveAll(dir)
	}
}

func (e *env) createRecord(c C, tenant int64, content string) *types.LedgerRecord {
	r := &types.LedgerRecord{
		TenantID:   tenant,
		EntityType: types.EntityTypeDonation,
		EntityID:   tenant * 10,
		DataHash:   ledger.ContentHash([]byte(content)),
		FileURL:    fmt.Sprintf("%d/%s.pdf", tenant, content),
		Status:     types.LedgerStatusPending,
	}
	c.So(e.store.Create(context.Background(), r), ShouldBeNil)
	return r
}

func (e *env) status(c C, id int64) types.LedgerStatus {
	r, err := e.store.Get(context.Background(), id)
	c.So(err, ShouldBeNil)
	return r.Status
}

func (e *env) markers(c C, id int64) []string {
	m, err := e.queue.FindPrefix(context.Background(), types.MarkerPrefix(id))
	c.So(err, ShouldBeNil)
	return m
}

func (e *env) submitter() *Submitter {
	return NewSubmitter(e.store, e.queue, e.client, e.opts)
}

func (e *env) verifier(c C) *Verifier {
	v, err := NewVerifier(e.store, e.queue, e.client, e.opts)
	c.So(err, ShouldBeNil)
	return v
}
