// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flagwarden/flagwarden/internal/models"
)

type staticResolver struct {
	users map[string]*ActorInfo
	err   error
}

func (r *staticResolver) ResolveUser(_ context.Context, id string) (*ActorInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.users[id], nil
}

type failingStore struct {
	Store
}

func (f *failingStore) Save(context.Context, *Entry) error {
	return errors.New("store unavailable")
}

func TestRecordDefaults(t *testing.T) {
	store := NewMemoryStore(100)
	recorder := NewRecorder(store, nil)

	entry := recorder.Record(context.Background(), Entry{
		Action:      "user.suspended",
		ActionType:  ActionRestrict,
		Category:    CategoryUser,
		PerformedBy: "admin-1",
	})
	if entry == nil {
		t.Fatal("record returned nil on healthy store")
	}
	if entry.ID == "" {
		t.Error("record should assign an ID")
	}
	if entry.Timestamp.IsZero() {
		t.Error("record should assign a timestamp")
	}
	if entry.Severity != SeverityLow {
		t.Errorf("severity = %s, want low default", entry.Severity)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d entries, want 1", store.Len())
	}
}

func TestRecordFailOpen(t *testing.T) {
	recorder := NewRecorder(&failingStore{}, nil)

	// Must not panic, must not return an error path, just nil.
	entry := recorder.Record(context.Background(), Entry{
		Action:      "user.suspended",
		ActionType:  ActionRestrict,
		Category:    CategoryUser,
		PerformedBy: "admin-1",
	})
	if entry != nil {
		t.Error("record should return nil when the store fails")
	}
}

func TestRecordEnrichment(t *testing.T) {
	store := NewMemoryStore(100)
	resolver := &staticResolver{users: map[string]*ActorInfo{
		"admin-1": {DisplayName: "Ada Admin", Email: "ada@example.com", Role: "superadmin"},
	}}
	recorder := NewRecorder(store, resolver)

	entry := recorder.Record(context.Background(), Entry{
		Action:      "report.exported",
		ActionType:  ActionExport,
		Category:    CategoryReports,
		PerformedBy: "admin-1",
	})
	if entry.PerformedByName != "Ada Admin" || entry.PerformedByRole != "superadmin" {
		t.Errorf("enrichment missing: %+v", entry)
	}

	// Unknown actor is not an error; the entry still lands.
	unknown := recorder.Record(context.Background(), Entry{
		Action:      "report.exported",
		ActionType:  ActionExport,
		Category:    CategoryReports,
		PerformedBy: "ghost",
	})
	if unknown == nil {
		t.Fatal("unknown actor should still record")
	}
	if unknown.PerformedByName != "" {
		t.Error("unknown actor should record without enrichment")
	}
}

func TestRecordEnrichmentFailureIsNonFatal(t *testing.T) {
	store := NewMemoryStore(100)
	recorder := NewRecorder(store, &staticResolver{err: errors.New("directory down")})

	entry := recorder.Record(context.Background(), Entry{
		Action:      "org.archived",
		ActionType:  ActionDelete,
		Category:    CategoryOrganization,
		PerformedBy: "admin-1",
	})
	if entry == nil {
		t.Fatal("directory failure must not drop the entry")
	}
	if store.Len() != 1 {
		t.Error("entry should be persisted despite enrichment failure")
	}
}

func TestRecordPreservesSuppliedEnrichment(t *testing.T) {
	store := NewMemoryStore(100)
	resolver := &staticResolver{users: map[string]*ActorInfo{
		"admin-1": {DisplayName: "Ada Admin"},
	}}
	recorder := NewRecorder(store, resolver)

	entry := recorder.Record(context.Background(), Entry{
		Action:          "note.added",
		ActionType:      ActionCreate,
		Category:        CategorySupport,
		PerformedBy:     "admin-1",
		PerformedByName: "Supplied Name",
	})
	if entry.PerformedByName != "Supplied Name" {
		t.Error("resolver should not overwrite caller-supplied performer name")
	}
}

func TestRecordFlagChange(t *testing.T) {
	store := NewMemoryStore(100)
	recorder := NewRecorder(store, nil)

	flag := &models.FeatureFlag{
		ID:   "flag-id-1",
		Key:  "dark_mode",
		Name: "Dark Mode",
	}
	fieldChanges := map[string]models.FieldChange{
		"enabled": {Before: false, After: true},
		"status":  {Before: "draft", After: "active"},
	}
	recorder.RecordFlagChange(context.Background(), flag, "updated", "admin-1",
		fieldChanges, "enabled: false -> true; status: draft -> active", "launch day")

	entries, err := store.Query(context.Background(), QueryFilter{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(entries), err)
	}
	entry := entries[0]
	if entry.Action != "flag.updated" {
		t.Errorf("action = %s, want flag.updated", entry.Action)
	}
	if entry.ActionType != ActionUpdate {
		t.Errorf("action type = %s, want update", entry.ActionType)
	}
	if entry.Category != CategorySettings {
		t.Errorf("category = %s, want settings", entry.Category)
	}
	if entry.TargetType != "feature_flag" || entry.TargetID != "flag-id-1" {
		t.Errorf("target = %s/%s, want feature_flag/flag-id-1", entry.TargetType, entry.TargetID)
	}
	if entry.Changes == nil {
		t.Fatal("changes missing")
	}
	if len(entry.Changes.FieldsChanged) != 2 || entry.Changes.FieldsChanged[0] != "enabled" {
		t.Errorf("fields changed = %v, want sorted [enabled status]", entry.Changes.FieldsChanged)
	}
	if entry.Changes.Before["enabled"] != false || entry.Changes.After["enabled"] != true {
		t.Errorf("before/after not captured: %+v", entry.Changes)
	}
}

func TestRecordFlagChangeActionMapping(t *testing.T) {
	tests := []struct {
		action string
		want   ActionType
	}{
		{"created", ActionCreate},
		{"updated", ActionUpdate},
		{"regional_override_updated", ActionConfigure},
		{"experiment_added", ActionConfigure},
		{"beta_access_updated", ActionConfigure},
		{"something_else", ActionModify},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			store := NewMemoryStore(10)
			recorder := NewRecorder(store, nil)
			recorder.RecordFlagChange(context.Background(),
				&models.FeatureFlag{ID: "f", Key: "k", Name: "K"}, tt.action, "a-1", nil, "", "")

			entries, _ := store.Query(context.Background(), QueryFilter{})
			if len(entries) != 1 || entries[0].ActionType != tt.want {
				t.Errorf("action type = %v, want %s", entries, tt.want)
			}
		})
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		entry := &Entry{
			ID:        string(rune('a' + i)),
			Timestamp: time.Now().UTC(),
			Action:    "x",
			Severity:  SeverityLow,
		}
		if err := store.Save(ctx, entry); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if store.Len() > 12 {
		t.Errorf("store grew past its limit: %d", store.Len())
	}
	// The oldest entries are the ones evicted.
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Error("oldest entry should have been evicted")
	}
}
