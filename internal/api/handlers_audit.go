// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flagwarden/flagwarden/internal/audit"
	"github.com/flagwarden/flagwarden/internal/validation"
)

// parseAuditFilter builds a query filter from URL parameters. Malformed
// timestamps are reported to the caller rather than silently dropped.
func parseAuditFilter(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()
	filter := audit.QueryFilter{
		PerformedBy:    q.Get("performed_by"),
		TargetType:     q.Get("target_type"),
		TargetID:       q.Get("target_id"),
		SearchText:     q.Get("search"),
		OrganizationID: q.Get("organization_id"),
		TenantID:       q.Get("tenant_id"),
		Limit:          queryInt(r, "limit", 0),
		Offset:         queryInt(r, "offset", 0),
	}

	if raw := q.Get("start_time"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.StartTime = &ts
	}
	if raw := q.Get("end_time"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, err
		}
		filter.EndTime = &ts
	}

	for _, v := range splitCSV(q.Get("action_types")) {
		filter.ActionTypes = append(filter.ActionTypes, audit.ActionType(v))
	}
	for _, v := range splitCSV(q.Get("categories")) {
		filter.Categories = append(filter.Categories, audit.Category(v))
	}
	for _, v := range splitCSV(q.Get("severities")) {
		filter.Severities = append(filter.Severities, audit.Severity(v))
	}

	return filter, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AuditTimeline returns entries matching the filters, newest first, with
// the unpaginated total.
func (h *Handlers) AuditTimeline(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseAuditFilter(r)
	if err != nil {
		rw.BadRequest("invalid timestamp: " + err.Error())
		return
	}

	entries, total, err := h.reporter.Timeline(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.SuccessWithPagination(entries, &PaginationMeta{
		Total:   total,
		Count:   len(entries),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: int64(filter.Offset+len(entries)) < total,
	})
}

type recordEventRequest struct {
	Action      string `json:"action" validate:"required,max=256"`
	ActionType  string `json:"action_type" validate:"omitempty,max=64"`
	Category    string `json:"category" validate:"omitempty,max=64"`
	PerformedBy string `json:"performed_by" validate:"required,max=128"`

	TargetType       string `json:"target_type" validate:"max=128"`
	TargetID         string `json:"target_id" validate:"max=256"`
	TargetName       string `json:"target_name" validate:"max=256"`
	TargetIdentifier string `json:"target_identifier" validate:"max=256"`

	Description string         `json:"description" validate:"max=2048"`
	Metadata    map[string]any `json:"metadata"`
	Severity    string         `json:"severity" validate:"omitempty,oneof=low medium high critical"`

	OrganizationID  string   `json:"organization_id" validate:"max=128"`
	TenantID        string   `json:"tenant_id" validate:"max=128"`
	ComplianceFlags []string `json:"compliance_flags"`
}

// RecordAuditEvent records a generic admin action through the same
// fail-open recorder the flag service uses. Request metadata is captured
// server-side.
func (h *Handlers) RecordAuditEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req recordEventRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}
	if req.ActionType != "" && !audit.ActionType(req.ActionType).Valid() {
		rw.BadRequest("unknown action type " + req.ActionType)
		return
	}
	if req.Category != "" && !audit.Category(req.Category).Valid() {
		rw.BadRequest("unknown category " + req.Category)
		return
	}

	entry := h.recorder.Record(r.Context(), audit.Entry{
		Action:           req.Action,
		ActionType:       audit.ActionType(req.ActionType),
		Category:         audit.Category(req.Category),
		PerformedBy:      req.PerformedBy,
		TargetType:       req.TargetType,
		TargetID:         req.TargetID,
		TargetName:       req.TargetName,
		TargetIdentifier: req.TargetIdentifier,
		Description:      req.Description,
		Metadata:         req.Metadata,
		Severity:         audit.Severity(req.Severity),
		OrganizationID:   req.OrganizationID,
		TenantID:         req.TenantID,
		ComplianceFlags:  req.ComplianceFlags,
		RequestMethod:    r.Method,
		RequestPath:      r.URL.Path,
		IPAddress:        clientIP(r),
		UserAgent:        r.UserAgent(),
	})
	if entry == nil {
		rw.ServiceUnavailable("audit store temporarily unavailable")
		return
	}

	rw.Created(entry)
}

// AuditDetails returns one entry with its related-activity context.
func (h *Handlers) AuditDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.reporter.Details(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(details)
}

// AuditStats returns aggregate breakdowns over matching entries.
func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseAuditFilter(r)
	if err != nil {
		rw.BadRequest("invalid timestamp: " + err.Error())
		return
	}

	stats, err := h.reporter.Stats(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(stats)
}

// AuditExport streams the full filtered audit log as a download.
func (h *Handlers) AuditExport(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseAuditFilter(r)
	if err != nil {
		rw.BadRequest("invalid timestamp: " + err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, filename, contentType, err := h.reporter.ExportAll(r.Context(), filter, format)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename=`+filename)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		// Too late for an error envelope, the status is already written.
		return
	}
}

// AuditTargetHistory returns the chronological history of one target.
func (h *Handlers) AuditTargetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.reporter.TargetHistory(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(entries)
}

// AuditUserActivity summarizes one user's recorded actions.
func (h *Handlers) AuditUserActivity(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseAuditFilter(r)
	if err != nil {
		rw.BadRequest("invalid timestamp: " + err.Error())
		return
	}

	activity, err := h.reporter.UserActivitySummary(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(activity)
}
