// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// seedEntries fills a store with a deterministic spread of entries.
// Entry i is i minutes in the past, so lower i means more recent.
func seedEntries(t *testing.T, store Store, count int) []Entry {
	t.Helper()
	base := time.Now().UTC()
	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		entry := Entry{
			ID:         fmt.Sprintf("entry-%03d", i),
			Timestamp:  base.Add(-time.Duration(i) * time.Minute),
			Action:     fmt.Sprintf("action-%d", i),
			ActionType: ActionUpdate,
			Category:   CategorySettings,
			Severity:   SeverityLow,

			PerformedBy:     fmt.Sprintf("admin-%d", i%3),
			PerformedByName: fmt.Sprintf("Admin %d", i%3),
			TargetType:      "feature_flag",
			TargetID:        fmt.Sprintf("flag-%d", i%5),
			Description:     "seeded entry",
		}
		if i%7 == 0 {
			entry.Severity = SeverityHigh
		}
		if err := store.Save(context.Background(), &entry); err != nil {
			t.Fatalf("seed save: %v", err)
		}
		entries[i] = entry
	}
	return entries
}

func TestTimelineNewestFirst(t *testing.T) {
	store := NewMemoryStore(0)
	seedEntries(t, store, 30)
	reporter := NewReporter(store)

	entries, total, err := reporter.Timeline(context.Background(), QueryFilter{Limit: 10})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if total != 30 {
		t.Errorf("total = %d, want 30", total)
	}
	if len(entries) != 10 {
		t.Fatalf("page = %d entries, want 10", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Fatal("timeline not sorted newest first")
		}
	}
	if entries[0].ID != "entry-000" {
		t.Errorf("most recent = %s, want entry-000", entries[0].ID)
	}
}

func TestTimelineFilters(t *testing.T) {
	store := NewMemoryStore(0)
	seedEntries(t, store, 30)
	reporter := NewReporter(store)
	ctx := context.Background()

	byPerformer, total, err := reporter.Timeline(ctx, QueryFilter{PerformedBy: "admin-1"})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if total != 10 {
		t.Errorf("admin-1 total = %d, want 10", total)
	}
	for _, entry := range byPerformer {
		if entry.PerformedBy != "admin-1" {
			t.Fatalf("filter leak: %s", entry.PerformedBy)
		}
	}

	high, _, err := reporter.Timeline(ctx, QueryFilter{Severities: []Severity{SeverityHigh}})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(high) != 5 { // i = 0, 7, 14, 21, 28
		t.Errorf("high severity count = %d, want 5", len(high))
	}

	// Case-insensitive substring search over performer name.
	named, _, err := reporter.Timeline(ctx, QueryFilter{SearchText: "admin 2"})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(named) == 0 {
		t.Error("search over performer name matched nothing")
	}

	if _, _, err := reporter.Timeline(ctx, QueryFilter{ActionTypes: []ActionType{"explode"}}); !errors.Is(err, ErrValidation) {
		t.Errorf("invalid action type error = %v, want ErrValidation", err)
	}
}

func TestTimelineDateRange(t *testing.T) {
	store := NewMemoryStore(0)
	seedEntries(t, store, 30)
	reporter := NewReporter(store)

	start := time.Now().UTC().Add(-10*time.Minute - 30*time.Second)
	entries, total, err := reporter.Timeline(context.Background(), QueryFilter{StartTime: &start})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if total != 11 { // entries 0..10
		t.Errorf("range total = %d, want 11", total)
	}
	for _, entry := range entries {
		if entry.Timestamp.Before(start) {
			t.Fatal("entry outside requested range")
		}
	}
}

func TestDetails(t *testing.T) {
	store := NewMemoryStore(0)
	seedEntries(t, store, 40)
	reporter := NewReporter(store)
	ctx := context.Background()

	// entry-005: target flag-0 (shared with i=0,10,15,20,25,30,35),
	// performer admin-2 (i%3==2).
	details, err := reporter.Details(ctx, "entry-005")
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Entry.ID != "entry-005" {
		t.Errorf("entry = %s", details.Entry.ID)
	}
	for _, related := range details.RelatedByTarget {
		if related.ID == "entry-005" {
			t.Error("related-by-target includes the entry itself")
		}
		if related.TargetID != "flag-0" {
			t.Errorf("related target = %s, want flag-0", related.TargetID)
		}
	}
	if len(details.RelatedByTarget) != 7 {
		t.Errorf("related by target = %d, want 7", len(details.RelatedByTarget))
	}
	for _, related := range details.RelatedByPerformer {
		if related.ID == "entry-005" {
			t.Error("related-by-performer includes the entry itself")
		}
		if related.PerformedBy != "admin-2" {
			t.Errorf("related performer = %s, want admin-2", related.PerformedBy)
		}
	}

	if _, err := reporter.Details(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing entry error = %v, want ErrNotFound", err)
	}
}

func TestDetailsLimits(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	base := time.Now().UTC()

	// 30 entries, all same target and performer.
	for i := 0; i < 30; i++ {
		store.Save(ctx, &Entry{
			ID:          fmt.Sprintf("e-%02d", i),
			Timestamp:   base.Add(-time.Duration(i) * time.Second),
			Action:      "x",
			ActionType:  ActionUpdate,
			Category:    CategorySettings,
			Severity:    SeverityLow,
			PerformedBy: "admin-1",
			TargetType:  "feature_flag",
			TargetID:    "flag-1",
		})
	}

	details, err := NewReporter(store).Details(ctx, "e-00")
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if len(details.RelatedByTarget) != 10 {
		t.Errorf("related by target = %d, want capped at 10", len(details.RelatedByTarget))
	}
	if len(details.RelatedByPerformer) != 20 {
		t.Errorf("related by performer = %d, want capped at 20", len(details.RelatedByPerformer))
	}
}

func TestStats(t *testing.T) {
	store := NewMemoryStore(0)
	seedEntries(t, store, 30)
	reporter := NewReporter(store)

	stats, err := reporter.Stats(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalEntries != 30 {
		t.Errorf("total = %d, want 30", stats.TotalEntries)
	}
	if stats.ByCategory["settings"] != 30 {
		t.Errorf("by category = %v", stats.ByCategory)
	}
	if stats.BySeverity["high"] != 5 || stats.BySeverity["low"] != 25 {
		t.Errorf("by severity = %v", stats.BySeverity)
	}
	if len(stats.TopPerformers) != 3 {
		t.Fatalf("top performers = %d, want 3", len(stats.TopPerformers))
	}
	// admin-0 performed i = 0,3,...,27: 10 entries, same as the others.
	if stats.TopPerformers[0].Count != 10 {
		t.Errorf("top performer count = %d, want 10", stats.TopPerformers[0].Count)
	}
	if len(stats.RecentEntries) != 10 {
		t.Errorf("recent entries = %d, want 10", len(stats.RecentEntries))
	}
	if stats.OldestEntry == nil || stats.NewestEntry == nil {
		t.Error("stats should carry the time range")
	}
}

func TestTargetHistory(t *testing.T) {
	store := NewMemoryStore(0)
	seedEntries(t, store, 30)
	reporter := NewReporter(store)
	ctx := context.Background()

	history, err := reporter.TargetHistory(ctx, "feature_flag", "flag-2")
	if err != nil {
		t.Fatalf("target history: %v", err)
	}
	if len(history) != 6 { // i = 2,7,12,17,22,27
		t.Errorf("history = %d entries, want 6", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatal("history not newest first")
		}
	}

	for _, bad := range []string{"", "has space", "semi;colon", "\ttab"} {
		if _, err := reporter.TargetHistory(ctx, "feature_flag", bad); !errors.Is(err, ErrValidation) {
			t.Errorf("target id %q error = %v, want ErrValidation", bad, err)
		}
	}
}

func TestUserActivitySummary(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 30; i++ {
		severity := SeverityLow
		if i < 12 && i%2 == 0 {
			severity = SeverityCritical
		}
		store.Save(ctx, &Entry{
			ID:          fmt.Sprintf("u-%02d", i),
			Timestamp:   base.Add(-time.Duration(i) * time.Minute),
			Action:      "x",
			ActionType:  ActionUpdate,
			Category:    CategorySettings,
			Severity:    severity,
			PerformedBy: "admin-9",
		})
	}
	// Noise from another user must not leak in.
	store.Save(ctx, &Entry{
		ID: "other", Timestamp: base, Action: "x",
		ActionType: ActionUpdate, Category: CategorySettings,
		Severity: SeverityCritical, PerformedBy: "someone-else",
	})

	activity, err := NewReporter(store).UserActivitySummary(ctx, "admin-9", QueryFilter{})
	if err != nil {
		t.Fatalf("user activity: %v", err)
	}
	if activity.TotalActions != 30 {
		t.Errorf("total = %d, want 30", activity.TotalActions)
	}
	if len(activity.RecentActions) != 20 {
		t.Errorf("recent = %d, want 20", len(activity.RecentActions))
	}
	if len(activity.HighSeverityActions) != 6 {
		t.Errorf("high severity = %d, want 6", len(activity.HighSeverityActions))
	}
	for _, entry := range activity.HighSeverityActions {
		if entry.PerformedBy != "admin-9" {
			t.Fatal("another user's entries leaked into the summary")
		}
	}

	if _, err := NewReporter(store).UserActivitySummary(ctx, "", QueryFilter{}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty user id error = %v, want ErrValidation", err)
	}
}
