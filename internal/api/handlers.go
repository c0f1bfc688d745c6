// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/flagwarden/flagwarden/internal/audit"
	"github.com/flagwarden/flagwarden/internal/flags"
)

// Pinger reports backing store health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	flags    *flags.Service
	recorder *audit.Recorder
	reporter *audit.Reporter
	pinger   Pinger
}

// NewHandlers creates the handler set. pinger may be nil when no database
// backs the stores.
func NewHandlers(flagSvc *flags.Service, recorder *audit.Recorder, reporter *audit.Reporter, pinger Pinger) *Handlers {
	return &Handlers{
		flags:    flagSvc,
		recorder: recorder,
		reporter: reporter,
		pinger:   pinger,
	}
}

// actorHeader carries the acting admin's user ID. Authentication is
// terminated upstream; the gateway injects this header.
const actorHeader = "X-Actor-ID"

// actorID returns the acting user, or "system" when the header is absent.
func actorID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(actorHeader)); id != "" {
		return id
	}
	return "system"
}

// clientIP returns the caller's address, honoring X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody decodes a JSON request body, rejecting unknown fields.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// queryInt parses an integer query parameter, returning fallback when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
