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
	"sync"
)

// MemoryQueue is a process local Queue.
type MemoryQueue struct {
	sync.RWMutex
	members map[string]struct{}
	closed  bool
}

// NewMemoryQueue returns an empty memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{members: make(map[string]struct{})}
}

// Add implements Queue.Add.
func (q *MemoryQueue) Add(ctx context.Context, member string) error {
	q.Lock()
	defer q.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.members[member] = struct{}{}
	return nil
}

// Remove implements Queue.Remove.
func (q *MemoryQueue) Remove(ctx context.Context, member string) error {
	q.Lock()
	defer q.Unlock()
	if q.closed {
		return ErrClosed
	}
	delete(q.members, member)
	return nil
}

// Members implements Queue.Members.
func (q *MemoryQueue) Members(ctx context.Context) ([]string, error) {
	return q.FindPrefix(ctx, "")
}

// FindPrefix implements Queue.FindPrefix.
func (q *MemoryQueue) FindPrefix(ctx context.Context, prefix string) (res []string, err error) {
	q.RLock()
	defer q.RUnlock()
	if q.closed {
		return nil, ErrClosed
	}
	res = make([]string, 0, len(q.members))
	for m := range q.members {
		if strings.HasPrefix(m, prefix) {
			res = append(res, m)
		}
	}
	return
}

// Len implements Queue.Len.
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.RLock()
	defer q.RUnlock()
	if q.closed {
		return 0, ErrClosed
	}
	return len(q.members), nil
}

// Close implements Queue.Close.
func (q *MemoryQueue) Close() error {
	q.Lock()
	defer q.Unlock()
	q.closed = true
	return nil
}
