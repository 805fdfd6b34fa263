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

// Package syncer keeps ledger records in agreement with the on-chain hash registry: it
// submits pending hashes, confirms them through the pending verification queue and
// periodically re-checks recorded hashes.
package syncer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/types"
)

// Defaults of Options.
const (
	DefaultCallTimeout       = 15 * time.Second
	DefaultMaxVerifyAttempts = 3
	DefaultHashCacheSize     = 1024
)

// Options defines the tunables shared by the synchronization jobs.
type Options struct {
	// CallTimeout bounds every registry call.
	CallTimeout time.Duration
	// MaxVerifyAttempts is the number of unconfirmed verification cycles after which a
	// record is marked FAILED.
	MaxVerifyAttempts int
	// HashCacheSize is the capacity of the record id to data hash cache of the verifier.
	HashCacheSize int
	// ManualWriteBack lets manual syncs promote confirmed in-flight records to RECORDED.
	ManualWriteBack bool
	Metrics         *Metrics
}

func (o Options) normalize() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.MaxVerifyAttempts <= 0 {
		o.MaxVerifyAttempts = DefaultMaxVerifyAttempts
	}
	if o.HashCacheSize <= 0 {
		o.HashCacheSize = DefaultHashCacheSize
	}
	return o
}

// isUnavailable reports errors caused by missing registry configuration rather than by
// the record being processed.
func isUnavailable(err error) bool {
	switch errors.Cause(err) {
	case registry.ErrNotInitialized, registry.ErrContractNotConfigured:
		return true
	default:
		return false
	}
}

// isRecordGone reports store errors after which retrying the same step is pointless.
func isRecordGone(err error) bool {
	switch errors.Cause(err) {
	case types.ErrEntityNotFound, types.ErrIllegalStateTransition:
		return true
	default:
		return false
	}
}

func confirm(ctx context.Context, client registry.Client, timeout time.Duration, hash string) (
	registry.Confirmation, error,
) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Confirm(ctx, hash)
}
