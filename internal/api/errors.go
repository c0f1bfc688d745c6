// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package api

import (
	"errors"
	"net/http"

	"github.com/flagwarden/flagwarden/internal/audit"
	"github.com/flagwarden/flagwarden/internal/flags"
	"github.com/flagwarden/flagwarden/internal/logging"
)

// respondServiceError maps service-layer sentinel errors onto HTTP status
// codes. Unclassified errors become a generic 500 so internals never leak
// to clients.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rw := NewResponseWriter(w, r)

	switch {
	case errors.Is(err, flags.ErrNotFound), errors.Is(err, audit.ErrNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, flags.ErrDuplicateKey):
		rw.Conflict(err.Error())
	case errors.Is(err, flags.ErrValidation), errors.Is(err, audit.ErrValidation):
		rw.BadRequest(err.Error())
	case errors.Is(err, flags.ErrStoreUnavailable):
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).Msg("Store unavailable")
		rw.ServiceUnavailable("storage temporarily unavailable")
	default:
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).Msg("Unhandled service error")
		rw.InternalError("an internal error occurred")
	}
}
