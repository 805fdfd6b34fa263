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

// Package queue stores the pending verification markers of submitted ledger records. The
// queue is a set of strings kept outside of the ledger database so in-flight submissions
// survive scheduler restarts.
package queue

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrClosed indicates an operation on a closed queue.
	ErrClosed = errors.New("queue closed")
)

// Queue defines a set of pending verification markers.
type Queue interface {
	// Add inserts member, adding an existing member is a no-op.
	Add(ctx context.Context, member string) error
	// Remove deletes member, removing a missing member is a no-op.
	Remove(ctx context.Context, member string) error
	// Members returns a snapshot of all members in no particular order.
	Members(ctx context.Context) ([]string, error)
	// FindPrefix returns the members starting with prefix.
	FindPrefix(ctx context.Context, prefix string) ([]string, error)
	// Len returns the member count.
	Len(ctx context.Context) (int, error)
	Close() error
}
