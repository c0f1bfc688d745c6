// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/flagwarden/flagwarden/internal/audit"
)

func recordEvent(t *testing.T, router http.Handler, body map[string]any) audit.Entry {
	t.Helper()

	rec, env := doJSON(t, router, http.MethodPost, "/api/v1/audit/events", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("record status = %d, body %s", rec.Code, rec.Body.String())
	}
	var entry audit.Entry
	if err := json.Unmarshal(env.Data, &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	return entry
}

func TestRecordAuditEvent(t *testing.T) {
	router := newTestRouter(t)

	entry := recordEvent(t, router, map[string]any{
		"action":       "user.suspend",
		"action_type":  "restrict",
		"category":     "user",
		"performed_by": "admin-1",
		"target_type":  "user",
		"target_id":    "u-99",
		"severity":     "high",
	})

	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Errorf("defaults missing: %+v", entry)
	}
	if entry.Severity != audit.SeverityHigh {
		t.Errorf("severity = %s", entry.Severity)
	}
	if entry.RequestMethod != http.MethodPost || entry.RequestPath != "/api/v1/audit/events" {
		t.Errorf("request metadata = %s %s", entry.RequestMethod, entry.RequestPath)
	}
	if entry.IPAddress == "" {
		t.Error("client IP not captured")
	}
}

func TestRecordAuditEventValidation(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing action", map[string]any{"performed_by": "admin-1"}},
		{"missing performer", map[string]any{"action": "x"}},
		{"bad action type", map[string]any{"action": "x", "performed_by": "a", "action_type": "obliterate"}},
		{"bad category", map[string]any{"action": "x", "performed_by": "a", "category": "nonsense"}},
		{"bad severity", map[string]any{"action": "x", "performed_by": "a", "severity": "extreme"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/audit/events", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAuditTimelineEndpoint(t *testing.T) {
	router := newTestRouter(t)

	recordEvent(t, router, map[string]any{"action": "one", "performed_by": "admin-1"})
	recordEvent(t, router, map[string]any{"action": "two", "performed_by": "admin-2"})

	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/audit/events?performed_by=admin-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline status = %d", rec.Code)
	}

	var entries []audit.Entry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "one" {
		t.Errorf("entries = %+v", entries)
	}
	if env.Meta.Pagination == nil || env.Meta.Pagination.Total != 1 {
		t.Errorf("pagination = %+v", env.Meta.Pagination)
	}

	// Invalid enum in the filter is a 400, not an empty result.
	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/audit/events?action_types=obliterate", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/audit/events?start_time=not-a-time", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad timestamp status = %d, want 400", rec.Code)
	}
}

func TestAuditDetailsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	entry := recordEvent(t, router, map[string]any{
		"action": "org.update", "performed_by": "admin-1",
		"target_type": "organization", "target_id": "org-7",
	})

	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/audit/events/"+entry.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("details status = %d", rec.Code)
	}
	var details audit.ActionDetails
	if err := json.Unmarshal(env.Data, &details); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if details.Entry.ID != entry.ID {
		t.Errorf("entry ID = %s", details.Entry.ID)
	}

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/audit/events/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown entry status = %d, want 404", rec.Code)
	}
}

func TestAuditStatsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	recordEvent(t, router, map[string]any{"action": "a", "performed_by": "admin-1", "category": "user"})
	recordEvent(t, router, map[string]any{"action": "b", "performed_by": "admin-1", "category": "user"})

	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/audit/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats audit.Stats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.TotalEntries != 2 || stats.ByCategory["user"] != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAuditExportEndpoint(t *testing.T) {
	router := newTestRouter(t)
	recordEvent(t, router, map[string]any{"action": "exported", "performed_by": "admin-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/export?format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %s", ct)
	}
	disp := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disp, "attachment; filename=audit-log-") || !strings.HasSuffix(disp, ".csv") {
		t.Errorf("content disposition = %s", disp)
	}
	if !strings.Contains(rec.Body.String(), "exported") {
		t.Error("export body missing entry")
	}

	rec2, _ := doJSON(t, router, http.MethodGet, "/api/v1/audit/export?format=xml", nil)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("unknown format status = %d, want 400", rec2.Code)
	}
}

func TestAuditTargetHistoryEndpoint(t *testing.T) {
	router := newTestRouter(t)
	recordEvent(t, router, map[string]any{
		"action": "user.suspend", "performed_by": "admin-1",
		"target_type": "user", "target_id": "u-7",
	})

	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/audit/targets/user/u-7", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("history length = %d", len(entries))
	}

	// Malformed target IDs are rejected, not treated as empty history.
	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/audit/targets/user/%20bad%20id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed target status = %d, want 400", rec.Code)
	}
}

func TestAuditUserActivityEndpoint(t *testing.T) {
	router := newTestRouter(t)
	recordEvent(t, router, map[string]any{"action": "a", "performed_by": "admin-1"})
	recordEvent(t, router, map[string]any{"action": "b", "performed_by": "admin-1"})

	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/audit/users/admin-1/activity", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activity status = %d", rec.Code)
	}
	var activity audit.UserActivity
	if err := json.Unmarshal(env.Data, &activity); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if activity.UserID != "admin-1" || activity.TotalActions != 2 {
		t.Errorf("activity = %+v", activity)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		rec, env := doJSON(t, router, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
		if !env.Success {
			t.Errorf("%s not successful", path)
		}
	}
}

func TestFlagMutationAppearsInSystemAudit(t *testing.T) {
	router := newTestRouter(t)
	flag := createFlag(t, router, map[string]any{"key": "audited", "name": "Audited"})

	doJSON(t, router, http.MethodPost, "/api/v1/flags/"+flag.ID+"/toggle",
		map[string]any{"enabled": true, "reason": "go live"})

	rec, env := doJSON(t, router, http.MethodGet, "/api/v1/audit/events?target_type=feature_flag", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline status = %d", rec.Code)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// One entry for the create, one for the toggle.
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != "flag.updated" || entries[0].PerformedBy != "admin-1" {
		t.Errorf("latest entry = %+v", entries[0])
	}
	if !strings.Contains(entries[0].Description, "go live") {
		t.Errorf("description = %s", entries[0].Description)
	}
}
