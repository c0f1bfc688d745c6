// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package flags

import (
	"errors"
	"fmt"
)

// Sentinel errors for the mutation path. Callers branch on these with
// errors.Is; the API layer maps them to HTTP status codes.
var (
	// ErrNotFound indicates the identifier resolved to no flag.
	ErrNotFound = errors.New("flag not found")

	// ErrDuplicateKey indicates a create with a key that already exists.
	ErrDuplicateKey = errors.New("flag key already exists")

	// ErrValidation indicates caller input that fails validation, such as an
	// out-of-range percentage or an unrecognized enum value.
	ErrValidation = errors.New("validation failed")

	// ErrStoreUnavailable indicates a transient storage failure.
	ErrStoreUnavailable = errors.New("flag store unavailable")
)

// validationErrorf wraps ErrValidation with detail the caller can act on.
func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
