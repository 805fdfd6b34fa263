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

package api

import (
	"github.com/pkg/errors"

	"github.com/CovenantSQL/vericerti/ledger"
	"github.com/CovenantSQL/vericerti/registry"
	"github.com/CovenantSQL/vericerti/types"
)

var (
	// ErrInvalidID indicates a path or form id which is not a positive integer.
	ErrInvalidID = errors.New("invalid id")
	// ErrInvalidUpload indicates a malformed document upload.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrForbidden indicates a missing or wrong admin token.
	ErrForbidden = errors.New("admin privilege required")
)

// Error codes of the response bodies.
const (
	CodeNotInitialized        = "NOT_INITIALIZED"
	CodeContractNotConfigured = "CONTRACT_NOT_CONFIGURED"
	CodeNotFound              = "NOT_FOUND"
	CodeBadRequest            = "BAD_REQUEST"
	CodeInvalidHash           = "INVALID_HASH"
	CodeIllegalState          = "ILLEGAL_STATE_TRANSITION"
	CodeTransactionFailed     = "TRANSACTION_FAILED"
	CodeVerificationFailed    = "VERIFICATION_FAILED"
	CodeForbidden             = "FORBIDDEN"
	CodeInternal              = "INTERNAL_ERROR"
)

// errorStatus maps err to the response status and code.
func errorStatus(err error) (status int, code string) {
	switch errors.Cause(err) {
	case registry.ErrNotInitialized:
		return 503, CodeNotInitialized
	case registry.ErrContractNotConfigured:
		return 503, CodeContractNotConfigured
	case types.ErrEntityNotFound:
		return 404, CodeNotFound
	case registry.ErrInvalidHash:
		return 400, CodeInvalidHash
	case ErrInvalidID, ErrInvalidUpload, types.ErrInvalidEntityType, types.ErrInvalidDataHash,
		ledger.ErrInvalidLocator:
		return 400, CodeBadRequest
	case types.ErrIllegalStateTransition:
		return 409, CodeIllegalState
	case registry.ErrTransactionFailed:
		return 502, CodeTransactionFailed
	case registry.ErrVerificationFailed:
		return 502, CodeVerificationFailed
	case ErrForbidden:
		return 403, CodeForbidden
	default:
		return 500, CodeInternal
	}
}
