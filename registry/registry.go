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

// Package registry anchors content hashes in an on-chain hash registry contract.
package registry

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// HashLength is the byte length of a registry hash.
const HashLength = 32

// Confirmation is the registry answer for a hash lookup.
type Confirmation struct {
	Exists    bool
	Timestamp int64 // block time of the registration in unix seconds, zero when not found
}

// Client defines the hash registry operations used by the synchronization engine.
type Client interface {
	// Ready returns nil when the registry can serve calls, writable requires a signing key.
	Ready(ctx context.Context, writable bool) error
	// Submit registers hash for tenant and returns the transaction reference.
	Submit(ctx context.Context, hash string, tenantID int64) (string, error)
	// Confirm looks hash up in the registry, it never writes.
	Confirm(ctx context.Context, hash string) (Confirmation, error)
}

// NormalizeHash prepends the 0x prefix when absent and decodes the hash.
func NormalizeHash(h string) (normalized string, raw [HashLength]byte, err error) {
	normalized = strings.TrimSpace(h)
	if !strings.HasPrefix(normalized, "0x") && !strings.HasPrefix(normalized, "0X") {
		normalized = "0x" + normalized
	}
	normalized = "0x" + strings.ToLower(normalized[2:])

	var b []byte
	if b, err = hexutil.Decode(normalized); err != nil {
		err = errors.Wrapf(ErrInvalidHash, "%s: %v", h, err)
		return
	}
	if len(b) != HashLength {
		err = errors.Wrapf(ErrInvalidHash, "%s: expect %d bytes, got %d", h, HashLength, len(b))
		return
	}
	copy(raw[:], b)
	return
}
