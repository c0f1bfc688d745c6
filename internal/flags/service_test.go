// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package flags

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/flagwarden/flagwarden/internal/models"
)

type recordedChange struct {
	action  string
	actorID string
	flagKey string
}

type fakeAuditor struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (a *fakeAuditor) RecordFlagChange(_ context.Context, flag *models.FeatureFlag, action, actorID string,
	_ map[string]models.FieldChange, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changes = append(a.changes, recordedChange{action: action, actorID: actorID, flagKey: flag.Key})
}

type fakeNotifier struct {
	mu      sync.Mutex
	changed []string
	admin   []string
}

func (n *fakeNotifier) FlagChanged(_ context.Context, flag *models.FeatureFlag) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, flag.Key)
}

func (n *fakeNotifier) AdminEvent(_ context.Context, action string, _ *models.FeatureFlag, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admin = append(n.admin, action)
}

func newTestService() (*Service, *fakeAuditor, *fakeNotifier) {
	auditor := &fakeAuditor{}
	notifier := &fakeNotifier{}
	return NewService(NewMemoryStore(), auditor, notifier, nil), auditor, notifier
}

func TestCreateSetsStatusFromEnabled(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	off, err := svc.Create(ctx, CreateInput{Key: "off_flag", Name: "Off"}, "admin-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if off.Status != models.StatusDraft {
		t.Errorf("disabled flag status = %s, want draft", off.Status)
	}

	on, err := svc.Create(ctx, CreateInput{Key: "on_flag", Name: "On", Enabled: true}, "admin-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if on.Status != models.StatusActive {
		t.Errorf("enabled flag status = %s, want active", on.Status)
	}
	if len(on.AuditTrail) != 1 || on.AuditTrail[0].Action != "created" {
		t.Errorf("create should append exactly one created trail entry, got %+v", on.AuditTrail)
	}
}

func TestCreateDefaults(t *testing.T) {
	svc, _, _ := newTestService()

	flag, err := svc.Create(context.Background(), CreateInput{Key: "plain", Name: "Plain"}, "admin-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if flag.RolloutType != models.RolloutGlobal {
		t.Errorf("rollout type = %s, want global default", flag.RolloutType)
	}
	if flag.RolloutPercentage != 100 {
		t.Errorf("rollout percentage = %d, want 100 default", flag.RolloutPercentage)
	}
	if flag.Category != models.CategoryFeature {
		t.Errorf("category = %s, want feature default", flag.Category)
	}
	if flag.ID == "" {
		t.Error("create should assign an ID")
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	badPct := 101
	tests := []struct {
		name  string
		input CreateInput
	}{
		{"empty key", CreateInput{Name: "X"}},
		{"uppercase key", CreateInput{Key: "BadKey", Name: "X"}},
		{"missing name", CreateInput{Key: "ok_key"}},
		{"bad category", CreateInput{Key: "ok_key", Name: "X", Category: "misc"}},
		{"bad rollout type", CreateInput{Key: "ok_key", Name: "X", RolloutType: "canary"}},
		{"percentage out of range", CreateInput{Key: "ok_key", Name: "X", RolloutPercentage: &badPct}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.input, "admin-1"); !errors.Is(err, ErrValidation) {
				t.Errorf("create(%s) error = %v, want ErrValidation", tt.name, err)
			}
		})
	}
}

func TestCreateDuplicateKey(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{Key: "x", Name: "First"}, "admin-1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{Key: "x", Name: "Second"}, "admin-1"); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("second create error = %v, want ErrDuplicateKey", err)
	}

	list, total, err := svc.List(ctx, models.ListFilter{Search: "x"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 {
		t.Errorf("expected exactly one flag with key x, got %d", total)
	}
}

func TestToggleAutoTransitions(t *testing.T) {
	svc, auditor, _ := newTestService()
	ctx := context.Background()

	flag, err := svc.Create(ctx, CreateInput{Key: "lifecycle", Name: "Lifecycle"}, "admin-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if flag.Status != models.StatusDraft {
		t.Fatalf("initial status = %s, want draft", flag.Status)
	}

	flag, err = svc.Toggle(ctx, flag.ID, true, "admin-2", "launch")
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if flag.Status != models.StatusActive {
		t.Errorf("status after enabling draft = %s, want active", flag.Status)
	}
	if len(flag.AuditTrail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(flag.AuditTrail))
	}
	last := flag.AuditTrail[len(flag.AuditTrail)-1]
	if last.PerformedBy != "admin-2" {
		t.Errorf("trail performer = %s, want admin-2", last.PerformedBy)
	}
	if last.Reason != "launch" {
		t.Errorf("trail reason = %s, want launch", last.Reason)
	}

	flag, err = svc.Toggle(ctx, flag.ID, false, "admin-2", "")
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if flag.Status != models.StatusPaused {
		t.Errorf("status after disabling active = %s, want paused", flag.Status)
	}

	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	if len(auditor.changes) != 3 {
		t.Errorf("auditor recorded %d changes, want 3", len(auditor.changes))
	}
}

func TestExplicitStatusOverridesTransition(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	flag, _ := svc.Create(ctx, CreateInput{Key: "explicit", Name: "Explicit"}, "admin-1")

	enabled := true
	status := models.StatusArchived
	flag, err := svc.Update(ctx, flag.ID, UpdateInput{Enabled: &enabled, Status: &status}, "admin-1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if flag.Status != models.StatusArchived {
		t.Errorf("status = %s, want explicit archived over auto-transition", flag.Status)
	}
}

func TestUpdateDiffsOnlySuppliedFields(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	flag, _ := svc.Create(ctx, CreateInput{Key: "diffed", Name: "Before", Description: "keep"}, "admin-1")

	name := "After"
	pct := 25
	flag, err := svc.Update(ctx, flag.ID, UpdateInput{Name: &name, RolloutPercentage: &pct}, "admin-1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if flag.Description != "keep" {
		t.Error("unsupplied field was modified")
	}

	last := flag.AuditTrail[len(flag.AuditTrail)-1]
	if last.Action != "updated" {
		t.Errorf("trail action = %s, want updated", last.Action)
	}
	if len(last.Changes) != 2 {
		t.Fatalf("changes = %v, want exactly name and rollout_percentage", last.Changes)
	}
	if change, ok := last.Changes["name"]; !ok || change.Before != "Before" || change.After != "After" {
		t.Errorf("name change = %+v, want Before -> After", change)
	}
	if change, ok := last.Changes["rollout_percentage"]; !ok || change.Before != 100 || change.After != 25 {
		t.Errorf("rollout_percentage change = %+v, want 100 -> 25", change)
	}
}

func TestUpdateNoOpStillAppendsTrail(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	flag, _ := svc.Create(ctx, CreateInput{Key: "noop", Name: "Same"}, "admin-1")

	same := "Same"
	flag, err := svc.Update(ctx, flag.ID, UpdateInput{Name: &same}, "admin-1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(flag.AuditTrail) != 2 {
		t.Errorf("trail length = %d, want 2 (one entry per mutation call)", len(flag.AuditTrail))
	}
	if len(flag.AuditTrail[1].Changes) != 0 {
		t.Errorf("no-op update should record no field changes, got %v", flag.AuditTrail[1].Changes)
	}
}

func TestGetByKeyOrID(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, _ := svc.Create(ctx, CreateInput{Key: "lookup", Name: "Lookup"}, "admin-1")

	byID, err := svc.Get(ctx, created.ID)
	if err != nil || byID.Key != "lookup" {
		t.Errorf("get by id: %v", err)
	}
	byKey, err := svc.Get(ctx, "lookup")
	if err != nil || byKey.ID != created.ID {
		t.Errorf("get by key: %v", err)
	}
	if _, err := svc.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing error = %v, want ErrNotFound", err)
	}
}

func TestUpsertRegionalOverride(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	flag, _ := svc.Create(ctx, CreateInput{Key: "regional", Name: "Regional", Enabled: true}, "admin-1")

	disabled := false
	flag, err := svc.UpsertRegionalOverride(ctx, flag.ID, "EU", OverrideInput{Enabled: &disabled, Notes: "GDPR review"}, "admin-1")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	override, ok := flag.RegionalOverrides["EU"]
	if !ok {
		t.Fatal("override for EU missing")
	}
	if override.Enabled {
		t.Error("override enabled = true, want false")
	}
	// Unsupplied percentage defaults from the flag's current value.
	if override.RolloutPercentage == nil || *override.RolloutPercentage != 100 {
		t.Errorf("override percentage = %v, want 100 from flag", override.RolloutPercentage)
	}

	// Replacing drops fields not supplied the second time.
	pct := 10
	flag, err = svc.UpsertRegionalOverride(ctx, flag.ID, "EU", OverrideInput{RolloutPercentage: &pct}, "admin-2")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	override = flag.RegionalOverrides["EU"]
	if !override.Enabled {
		t.Error("replacement should default enabled from the flag, not the old override")
	}
	if *override.RolloutPercentage != 10 {
		t.Errorf("override percentage = %d, want 10", *override.RolloutPercentage)
	}
	if override.Notes != "" {
		t.Errorf("replacement should not keep old notes, got %q", override.Notes)
	}
	if len(flag.RegionalOverrides) != 1 {
		t.Errorf("expected one override per region, got %d", len(flag.RegionalOverrides))
	}

	last := flag.AuditTrail[len(flag.AuditTrail)-1]
	if last.Action != "regional_override_updated" {
		t.Errorf("trail action = %s, want regional_override_updated", last.Action)
	}
}

func TestAddExperimentDefaults(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	flag, _ := svc.Create(ctx, CreateInput{Key: "exp", Name: "Exp"}, "admin-1")

	flag, err := svc.AddExperiment(ctx, flag.ID, ExperimentInput{Name: "checkout_copy"}, "admin-1")
	if err != nil {
		t.Fatalf("add experiment: %v", err)
	}
	if len(flag.Experiments) != 1 {
		t.Fatalf("experiments = %d, want 1", len(flag.Experiments))
	}
	exp := flag.Experiments[0]
	if exp.Variant != models.VariantA {
		t.Errorf("variant = %s, want variant_a default", exp.Variant)
	}
	if exp.Percentage != 50 {
		t.Errorf("percentage = %d, want 50 default", exp.Percentage)
	}
	if exp.Status != models.ExperimentActive {
		t.Errorf("status = %s, want active default", exp.Status)
	}
	if exp.StartDate.IsZero() {
		t.Error("start date should default to now")
	}

	last := flag.AuditTrail[len(flag.AuditTrail)-1]
	if last.Action != "experiment_added" {
		t.Errorf("trail action = %s, want experiment_added", last.Action)
	}
}

func TestUpdateBetaAccessMerges(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	flag, _ := svc.Create(ctx, CreateInput{Key: "beta", Name: "Beta"}, "admin-1")

	enabled := true
	level := models.BetaInviteOnly
	flag, err := svc.UpdateBetaAccess(ctx, flag.ID, BetaAccessInput{
		Enabled:     &enabled,
		AccessLevel: &level,
		BetaUsers:   []string{"u-1", "u-2"},
	}, "admin-1")
	if err != nil {
		t.Fatalf("update beta access: %v", err)
	}

	// A second partial update keeps the untouched sub-fields.
	key := "secret"
	flag, err = svc.UpdateBetaAccess(ctx, flag.ID, BetaAccessInput{BetaKey: &key}, "admin-1")
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if !flag.BetaAccess.Enabled || flag.BetaAccess.AccessLevel != models.BetaInviteOnly {
		t.Error("merge dropped previously set sub-fields")
	}
	if len(flag.BetaAccess.BetaUsers) != 2 {
		t.Errorf("beta users = %v, want both retained", flag.BetaAccess.BetaUsers)
	}
	if flag.BetaAccess.BetaKey != "secret" {
		t.Errorf("beta key = %q, want secret", flag.BetaAccess.BetaKey)
	}

	last := flag.AuditTrail[len(flag.AuditTrail)-1]
	if last.Action != "beta_access_updated" {
		t.Errorf("trail action = %s, want beta_access_updated", last.Action)
	}
}

func TestEvaluateEndToEnd(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	pct := 50
	_, err := svc.Create(ctx, CreateInput{
		Key:               "new_dashboard",
		Name:              "New Dashboard",
		Enabled:           true,
		RolloutType:       models.RolloutPercentage,
		RolloutPercentage: &pct,
	}, "admin-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first := svc.Evaluate(ctx, "new_dashboard", models.Identity{UserID: "user-42"})
	second := svc.Evaluate(ctx, "new_dashboard", models.Identity{UserID: "user-42"})
	if first.Enabled != second.Enabled {
		t.Error("repeated evaluation for the same identity must agree")
	}

	other1 := svc.Evaluate(ctx, "new_dashboard", models.Identity{UserID: "user-43"})
	other2 := svc.Evaluate(ctx, "new_dashboard", models.Identity{UserID: "user-43"})
	if other1.Enabled != other2.Enabled {
		t.Error("other identity must also be stable across repeats")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.changed) != 1 {
		t.Errorf("notifier saw %d flag changes, want 1 from create", len(notifier.changed))
	}
}

func TestEvaluateMissingFlagIsFalse(t *testing.T) {
	svc, _, _ := newTestService()

	result := svc.Evaluate(context.Background(), "nonexistent", models.Identity{})
	if result.Enabled {
		t.Error("evaluating a missing flag should return false, not error")
	}
	if result.Configuration != nil {
		t.Error("missing flag should carry no configuration")
	}
}

func TestEvaluateReturnsConfigurationWhenOn(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{
		Key:           "configured",
		Name:          "Configured",
		Enabled:       true,
		Configuration: map[string]any{"max_items": 10, "theme": "dark"},
	}, "admin-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result := svc.Evaluate(ctx, "configured", models.Identity{})
	if !result.Enabled {
		t.Fatal("flag should be on")
	}
	if result.Configuration["theme"] != "dark" {
		t.Errorf("configuration not returned verbatim: %v", result.Configuration)
	}
}

type countingCache struct {
	mu          sync.Mutex
	store       map[string]*models.FeatureFlag
	invalidated []string
}

func newCountingCache() *countingCache {
	return &countingCache{store: make(map[string]*models.FeatureFlag)}
}

func (c *countingCache) Get(key string) (*models.FeatureFlag, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	flag, ok := c.store[key]
	return flag, ok
}

func (c *countingCache) Set(key string, flag *models.FeatureFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = flag
}

func (c *countingCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.invalidated = append(c.invalidated, key)
}

func TestMutationInvalidatesCache(t *testing.T) {
	cache := newCountingCache()
	svc := NewService(NewMemoryStore(), nil, nil, cache)
	ctx := context.Background()

	flag, err := svc.Create(ctx, CreateInput{Key: "cached", Name: "Cached", Enabled: true}, "admin-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Prime the cache, then mutate and check the stale entry is gone.
	svc.Evaluate(ctx, "cached", models.Identity{})
	if _, ok := cache.Get("cached"); !ok {
		t.Fatal("evaluation should have populated the cache")
	}

	if _, err := svc.Toggle(ctx, flag.ID, false, "admin-1", ""); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, ok := cache.Get("cached"); ok {
		t.Error("mutation should have invalidated the cached flag")
	}

	result := svc.Evaluate(ctx, "cached", models.Identity{})
	if result.Enabled {
		t.Error("post-toggle evaluation should see the disabled flag")
	}
}

func TestServiceStats(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	svc.Create(ctx, CreateInput{Key: "a", Name: "A", Enabled: true, Category: models.CategoryUI}, "admin-1")
	svc.Create(ctx, CreateInput{Key: "b", Name: "B", Category: models.CategoryUI}, "admin-1")
	flag, _ := svc.Create(ctx, CreateInput{Key: "c", Name: "C", Category: models.CategoryAPI}, "admin-1")
	svc.AddExperiment(ctx, flag.ID, ExperimentInput{Name: "exp"}, "admin-1")
	disabled := false
	svc.UpsertRegionalOverride(ctx, flag.ID, "EU", OverrideInput{Enabled: &disabled}, "admin-1")

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Enabled != 1 || stats.Disabled != 2 {
		t.Errorf("totals = %+v, want 3/1/2", stats)
	}
	if stats.ByCategory["ui"] != 2 || stats.ByCategory["api"] != 1 {
		t.Errorf("by category = %v", stats.ByCategory)
	}
	if stats.ByStatus["draft"] != 2 || stats.ByStatus["active"] != 1 {
		t.Errorf("by status = %v", stats.ByStatus)
	}
	if stats.WithActiveExperiments != 1 {
		t.Errorf("with active experiments = %d, want 1", stats.WithActiveExperiments)
	}
	if stats.WithRegionalOverrides != 1 {
		t.Errorf("with regional overrides = %d, want 1", stats.WithRegionalOverrides)
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	svc.Create(ctx, CreateInput{Key: "alpha", Name: "Alpha Dashboard", Enabled: true, Priority: 5}, "admin-1")
	svc.Create(ctx, CreateInput{Key: "beta", Name: "Beta Search", Priority: 10}, "admin-1")
	svc.Create(ctx, CreateInput{Key: "gamma", Name: "Gamma Dashboard", Priority: 1}, "admin-1")

	// Priority descending ordering.
	all, total, err := svc.List(ctx, models.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if all[0].Key != "beta" || all[1].Key != "alpha" || all[2].Key != "gamma" {
		t.Errorf("order = %s,%s,%s, want beta,alpha,gamma", all[0].Key, all[1].Key, all[2].Key)
	}

	// Search over names.
	dashboards, total, _ := svc.List(ctx, models.ListFilter{Search: "dashboard"})
	if total != 2 || len(dashboards) != 2 {
		t.Errorf("search matched %d, want 2", total)
	}

	// Enabled filter.
	enabled := true
	on, _, _ := svc.List(ctx, models.ListFilter{Enabled: &enabled})
	if len(on) != 1 || on[0].Key != "alpha" {
		t.Errorf("enabled filter = %v", on)
	}

	// Pagination keeps the unpaginated total.
	page, total, _ := svc.List(ctx, models.ListFilter{Limit: 2, Offset: 2})
	if total != 3 {
		t.Errorf("paged total = %d, want 3", total)
	}
	if len(page) != 1 || page[0].Key != "gamma" {
		t.Errorf("page = %v, want just gamma", page)
	}

	// Invalid filter enums are caller errors.
	if _, _, err := svc.List(ctx, models.ListFilter{Status: "deleted"}); !errors.Is(err, ErrValidation) {
		t.Errorf("invalid status filter error = %v, want ErrValidation", err)
	}
}
