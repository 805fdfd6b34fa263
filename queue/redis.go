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
	"strings"
	"sync/atomic"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// DefaultRedisKey is the redis set holding pending verification markers.
const DefaultRedisKey = "blockchain:pending:verification"

const scanBatch = 100

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisQueue is a Queue stored as a redis set, shared by every replica using the same key.
type RedisQueue struct {
	client *redis.Client
	key    string
	closed uint32
}

// NewRedisQueue returns a queue on the set at key, an empty key selects DefaultRedisKey.
// The client is owned by the caller.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) conn(ctx context.Context) (*redis.Client, error) {
	if atomic.LoadUint32(&q.closed) == 1 {
		return nil, ErrClosed
	}
	return q.client.WithContext(ctx), nil
}

// Add implements Queue.Add.
func (q *RedisQueue) Add(ctx context.Context, member string) error {
	c, err := q.conn(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.SAdd(q.key, member).Err(), "sadd %s failed", member)
}

// Remove implements Queue.Remove.
func (q *RedisQueue) Remove(ctx context.Context, member string) error {
	c, err := q.conn(ctx)
	if err != nil {
		return err
	}
	return errors.Wrapf(c.SRem(q.key, member).Err(), "srem %s failed", member)
}

// Members implements Queue.Members.
func (q *RedisQueue) Members(ctx context.Context) ([]string, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.SMembers(q.key).Result()
	if err != nil {
		return nil, errors.Wrap(err, "smembers failed")
	}
	return res, nil
}

// FindPrefix implements Queue.FindPrefix with an incremental SSCAN.
func (q *RedisQueue) FindPrefix(ctx context.Context, prefix string) (res []string, err error) {
	c, err := q.conn(ctx)
	if err != nil {
		return
	}
	var (
		match  = globEscaper.Replace(prefix) + "*"
		cursor uint64
		keys   []string
		seen   = make(map[string]struct{})
	)
	res = make([]string, 0)
	for {
		if keys, cursor, err = c.SScan(q.key, cursor, match, scanBatch).Result(); err != nil {
			return nil, errors.Wrapf(err, "sscan %s failed", match)
		}
		for _, k := range keys {
			// SSCAN may return a member more than once
			if _, dup := seen[k]; dup || !strings.HasPrefix(k, prefix) {
				continue
			}
			seen[k] = struct{}{}
			res = append(res, k)
		}
		if cursor == 0 {
			return
		}
	}
}

// Len implements Queue.Len.
func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.SCard(q.key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "scard failed")
	}
	return int(n), nil
}

// Close implements Queue.Close, the client is left open.
func (q *RedisQueue) Close() error {
	atomic.StoreUint32(&q.closed, 1)
	return nil
}
