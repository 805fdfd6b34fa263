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

package types

import (
	"github.com/pkg/errors"
)

var (
	// ErrIllegalStateTransition indicates a ledger record transition not allowed by its current status.
	ErrIllegalStateTransition = errors.New("illegal ledger state transition")
	// ErrEntityNotFound indicates the referenced ledger record does not exist.
	ErrEntityNotFound = errors.New("ledger record not found")
	// ErrMalformedMarker indicates a pending verification queue member that could not be parsed.
	ErrMalformedMarker = errors.New("malformed pending verification marker")
	// ErrInvalidEntityType indicates an entity type other than DONATION or RECEIPT.
	ErrInvalidEntityType = errors.New("invalid entity type")
	// ErrInvalidDataHash indicates a content hash which is not 64 hex characters.
	ErrInvalidDataHash = errors.New("invalid data hash")
)
