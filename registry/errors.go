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

package registry

import (
	"github.com/pkg/errors"
)

var (
	// ErrNotInitialized indicates the registry has no chain endpoint, or no signing key for writes.
	ErrNotInitialized = errors.New("hash registry not initialized")
	// ErrContractNotConfigured indicates no registry contract address could be resolved.
	ErrContractNotConfigured = errors.New("registry contract not configured")
	// ErrInvalidHash indicates a hash that does not decode to exactly 32 bytes.
	ErrInvalidHash = errors.New("invalid hash")
	// ErrTransactionFailed indicates the hash registration transaction was not accepted.
	ErrTransactionFailed = errors.New("registry transaction failed")
	// ErrVerificationFailed indicates the registry could not be queried.
	ErrVerificationFailed = errors.New("registry verification failed")
)
