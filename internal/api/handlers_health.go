// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package api

import (
	"net/http"
	"time"
)

// healthStatus is the payload for the health endpoints.
type healthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database,omitempty"`
}

// Health reports overall service health including the database check.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := healthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}

	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Database = "unreachable"
			rw.writeJSON(http.StatusServiceUnavailable, APIResponse{Success: false, Data: status})
			return
		}
		status.Database = "ok"
	}

	rw.Success(status)
}

// Live is the liveness probe: the process is up and serving.
func (h *Handlers) Live(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(healthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})
}

// Ready is the readiness probe: dependencies are reachable.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	h.Health(w, r)
}
