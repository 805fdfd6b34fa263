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

package queue

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// memberKeyPrefix defines the leveldb member key prefix.
	memberKeyPrefix = []byte{'P', 'V'}
	// syncWrite makes every mutation durable before it is acknowledged.
	syncWrite = &opt.WriteOptions{Sync: true}
)

// LevelDBQueue is a Queue persisted in a local leveldb database.
type LevelDBQueue struct {
	db     *leveldb.DB
	closed uint32
}

// NewLevelDBQueue opens or creates the leveldb queue at path.
func NewLevelDBQueue(path string) (q *LevelDBQueue, err error) {
	q = &LevelDBQueue{}
	if q.db, err = leveldb.OpenFile(path, nil); err != nil {
		err = errors.Wrap(err, "open queue database failed")
		return nil, err
	}
	return
}

func memberKey(member string) []byte {
	return append(append([]byte(nil), memberKeyPrefix...), member...)
}

func (q *LevelDBQueue) check(ctx context.Context) error {
	if atomic.LoadUint32(&q.closed) == 1 {
		return ErrClosed
	}
	return ctx.Err()
}

// Add implements Queue.Add.
func (q *LevelDBQueue) Add(ctx context.Context, member string) (err error) {
	if err = q.check(ctx); err != nil {
		return
	}
	if err = q.db.Put(memberKey(member), nil, syncWrite); err != nil {
		err = errors.Wrapf(err, "add member %s failed", member)
	}
	return
}

// Remove implements Queue.Remove.
func (q *LevelDBQueue) Remove(ctx context.Context, member string) (err error) {
	if err = q.check(ctx); err != nil {
		return
	}
	if err = q.db.Delete(memberKey(member), syncWrite); err != nil {
		err = errors.Wrapf(err, "remove member %s failed", member)
	}
	return
}

// Members implements Queue.Members.
func (q *LevelDBQueue) Members(ctx context.Context) ([]string, error) {
	return q.FindPrefix(ctx, "")
}

// FindPrefix implements Queue.FindPrefix.
func (q *LevelDBQueue) FindPrefix(ctx context.Context, prefix string) (res []string, err error) {
	if err = q.check(ctx); err != nil {
		return
	}
	it := q.db.NewIterator(util.BytesPrefix(memberKey(prefix)), nil)
	defer it.Release()

	res = make([]string, 0)
	for it.Next() {
		res = append(res, string(it.Key()[len(memberKeyPrefix):]))
	}
	if err = it.Error(); err != nil {
		err = errors.Wrap(err, "iterate queue failed")
		return nil, err
	}
	return
}

// Len implements Queue.Len.
func (q *LevelDBQueue) Len(ctx context.Context) (int, error) {
	res, err := q.Members(ctx)
	return len(res), err
}

// Close implements Queue.Close.
func (q *LevelDBQueue) Close() error {
	if !atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		return nil
	}
	return q.db.Close()
}
