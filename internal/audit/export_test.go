// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestCSVExportColumnOrder(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	entries := []Entry{{
		ID:              "e-1",
		Timestamp:       ts,
		Action:          "flag.updated",
		ActionType:      ActionUpdate,
		Category:        CategorySettings,
		PerformedByName: "Ada Admin",
		PerformedByRole: "superadmin",
		TargetType:      "feature_flag",
		TargetID:        "flag-1",
		TargetName:      "Dark Mode",
		IPAddress:       "10.1.2.3",
		Description:     "Feature flag dark_mode updated",
		Changes:         &Changes{Summary: "enabled: false -> true"},
		Severity:        SeverityMedium,
	}}

	data, err := (&CSVExporter{}).Export(entries)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want header + 1 row", len(records))
	}

	wantHeader := []string{
		"timestamp", "action", "action_type", "category",
		"performed_by_name", "performed_by_role",
		"target_type", "target_id", "target_name",
		"ip_address", "description", "change_summary", "severity",
	}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Fatalf("header[%d] = %s, want %s", i, records[0][i], col)
		}
	}

	row := records[1]
	want := []string{
		"2026-03-14T09:26:53Z", "flag.updated", "update", "settings",
		"Ada Admin", "superadmin",
		"feature_flag", "flag-1", "Dark Mode",
		"10.1.2.3", "Feature flag dark_mode updated",
		"enabled: false -> true", "medium",
	}
	for i, cell := range want {
		if row[i] != cell {
			t.Errorf("row[%d] = %q, want %q", i, row[i], cell)
		}
	}
}

func TestCSVExportNilChanges(t *testing.T) {
	data, err := (&CSVExporter{}).Export([]Entry{{
		ID: "e-1", Timestamp: time.Now().UTC(),
		Action: "x", ActionType: ActionView, Category: CategoryReports,
		Severity: SeverityLow,
	}})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if records[1][11] != "" {
		t.Errorf("change summary for nil changes = %q, want empty", records[1][11])
	}
}

func TestJSONExportRoundTrip(t *testing.T) {
	store := NewMemoryStore(0)
	seedEntries(t, store, 25)
	reporter := NewReporter(store)
	ctx := context.Background()

	filter := QueryFilter{PerformedBy: "admin-0"}
	data, filename, contentType, err := reporter.ExportAll(ctx, filter, "json")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("content type = %s", contentType)
	}
	if !strings.HasPrefix(filename, "audit-log-") || !strings.HasSuffix(filename, ".json") {
		t.Errorf("filename = %s, want audit-log-<date>.json", filename)
	}

	var exported []Entry
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// The export matches the timeline with a large enough limit.
	timeline, _, err := reporter.Timeline(ctx, QueryFilter{PerformedBy: "admin-0", Limit: 1000})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(exported) != len(timeline) {
		t.Fatalf("export = %d entries, timeline = %d", len(exported), len(timeline))
	}
	ids := make(map[string]bool, len(exported))
	for _, entry := range exported {
		ids[entry.ID] = true
	}
	for _, entry := range timeline {
		if !ids[entry.ID] {
			t.Errorf("timeline entry %s missing from export", entry.ID)
		}
	}
}

func TestExportFilenameDate(t *testing.T) {
	ts := time.Date(2026, 9, 1, 23, 59, 0, 0, time.UTC)
	if got := ExportFilename(ts, "csv"); got != "audit-log-2026-09-01.csv" {
		t.Errorf("filename = %s", got)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	reporter := NewReporter(NewMemoryStore(0))
	if _, _, _, err := reporter.ExportAll(context.Background(), QueryFilter{}, "xml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestExportEmptySet(t *testing.T) {
	reporter := NewReporter(NewMemoryStore(0))
	data, _, _, err := reporter.ExportAll(context.Background(), QueryFilter{}, "json")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var exported []Entry
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("empty export should still be a valid list: %v", err)
	}
	if len(exported) != 0 {
		t.Errorf("exported = %d entries, want 0", len(exported))
	}
}

func TestRetentionPrune(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	old := Entry{ID: "old", Timestamp: now.Add(-48 * time.Hour), Action: "x",
		ActionType: ActionUpdate, Category: CategorySystem, Severity: SeverityLow}
	fresh := Entry{ID: "fresh", Timestamp: now, Action: "x",
		ActionType: ActionUpdate, Category: CategorySystem, Severity: SeverityLow}
	store.Save(ctx, &old)
	store.Save(ctx, &fresh)

	svc := NewRetentionService(store, 24*time.Hour, time.Hour)
	svc.prune(ctx)

	if store.Len() != 1 {
		t.Fatalf("entries after prune = %d, want 1", store.Len())
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Error("fresh entry should survive retention")
	}
}
