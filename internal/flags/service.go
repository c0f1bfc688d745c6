// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package flags implements the feature-flag core: the evaluation engine,
// the flag store, and the mutation service that keeps every change paired
// with exactly one embedded trail entry.
//
// Two propagation policies coexist here on purpose. Mutations surface their
// errors because an admin must know a change did not take effect. Evaluation
// fails closed and audit recording fails open, because neither may break the
// feature path they serve.
package flags

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/flagwarden/flagwarden/internal/logging"
	"github.com/flagwarden/flagwarden/internal/metrics"
	"github.com/flagwarden/flagwarden/internal/models"
)

// Auditor records flag mutations in the system-wide audit log. The embedded
// trail and this log are independent writes from the same mutation handler.
type Auditor interface {
	RecordFlagChange(ctx context.Context, flag *models.FeatureFlag, action, actorID string,
		changes map[string]models.FieldChange, summary, reason string)
}

// Notifier broadcasts state changes to connected admin sessions and general
// subscribers. Fire-and-forget: implementations never return errors here.
type Notifier interface {
	FlagChanged(ctx context.Context, flag *models.FeatureFlag)
	AdminEvent(ctx context.Context, action string, flag *models.FeatureFlag, actorID string)
}

// Cache is an optional read-through cache for the evaluation path. The
// service invalidates on every successful mutation.
type Cache interface {
	Get(key string) (*models.FeatureFlag, bool)
	Set(key string, flag *models.FeatureFlag)
	Invalidate(key string)
}

// Service is the mutation recorder and evaluation front door for flags.
// Auditor, Notifier, and Cache may be nil; the core works without them.
type Service struct {
	store    Store
	auditor  Auditor
	notifier Notifier
	cache    Cache
}

// NewService creates a flag service over the given store.
func NewService(store Store, auditor Auditor, notifier Notifier, cache Cache) *Service {
	return &Service{
		store:    store,
		auditor:  auditor,
		notifier: notifier,
		cache:    cache,
	}
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// CreateInput holds the fields accepted on flag creation.
type CreateInput struct {
	Key                 string
	Name                string
	Description         string
	Category            models.FlagCategory
	Enabled             bool
	RolloutType         models.RolloutType
	RolloutPercentage   *int
	TargetOrganizations []string
	TargetUsers         []string
	TargetRoles         []string
	TargetRegions       []string
	Configuration       map[string]any
	Tags                []string
	Priority            int
}

// Create validates input and persists a new flag with a "created" trail
// entry. Initial status follows the auto-transition rule: enabled flags
// start active, disabled flags start as drafts.
func (s *Service) Create(ctx context.Context, input CreateInput, actorID string) (*models.FeatureFlag, error) {
	if input.Key == "" || !keyPattern.MatchString(input.Key) {
		return nil, validationErrorf("key %q must be lowercase alphanumeric with _ or -", input.Key)
	}
	if input.Name == "" {
		return nil, validationErrorf("name is required")
	}
	if input.Category == "" {
		input.Category = models.CategoryFeature
	}
	if !input.Category.Valid() {
		return nil, validationErrorf("unknown category %q", input.Category)
	}
	if input.RolloutType == "" {
		input.RolloutType = models.RolloutGlobal
	}
	if !input.RolloutType.Valid() {
		return nil, validationErrorf("unknown rollout type %q", input.RolloutType)
	}
	percentage := 100
	if input.RolloutPercentage != nil {
		percentage = *input.RolloutPercentage
	}
	if percentage < 0 || percentage > 100 {
		return nil, validationErrorf("rollout percentage %d out of range 0-100", percentage)
	}

	now := time.Now().UTC()
	status := models.StatusDraft
	if input.Enabled {
		status = models.StatusActive
	}

	flag := &models.FeatureFlag{
		ID:                  uuid.New().String(),
		Key:                 input.Key,
		Name:                input.Name,
		Description:         input.Description,
		Category:            input.Category,
		Enabled:             input.Enabled,
		Status:              status,
		RolloutType:         input.RolloutType,
		RolloutPercentage:   percentage,
		TargetOrganizations: input.TargetOrganizations,
		TargetUsers:         input.TargetUsers,
		TargetRoles:         input.TargetRoles,
		TargetRegions:       input.TargetRegions,
		Configuration:       input.Configuration,
		Tags:                input.Tags,
		Priority:            input.Priority,
		CreatedBy:           actorID,
		UpdatedBy:           actorID,
		CreatedAt:           now,
		UpdatedAt:           now,
		AuditTrail: []models.TrailEntry{{
			Action:      "created",
			PerformedBy: actorID,
			PerformedAt: now,
			Changes: map[string]models.FieldChange{
				"enabled": {Before: nil, After: input.Enabled},
				"status":  {Before: nil, After: string(status)},
			},
		}},
	}

	if err := s.store.Create(ctx, flag); err != nil {
		return nil, err
	}

	s.afterMutation(ctx, flag, "created", actorID, flag.AuditTrail[0].Changes, "flag created", "")
	return flag, nil
}

// Get resolves a flag by internal ID or key.
func (s *Service) Get(ctx context.Context, identifier string) (*models.FeatureFlag, error) {
	return s.store.Get(ctx, identifier)
}

// List returns flags matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, filter models.ListFilter) ([]*models.FeatureFlag, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, validationErrorf("unknown status %q", filter.Status)
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, 0, validationErrorf("unknown category %q", filter.Category)
	}
	return s.store.List(ctx, filter)
}

// Stats aggregates counts across all flags.
func (s *Service) Stats(ctx context.Context) (*models.FlagStats, error) {
	return s.store.Stats(ctx)
}

// UpdateInput holds the fields accepted on partial update. Nil pointers and
// nil slices mean "not supplied"; only supplied fields are applied.
type UpdateInput struct {
	Name                *string
	Description         *string
	Category            *models.FlagCategory
	Enabled             *bool
	Status              *models.FlagStatus
	RolloutType         *models.RolloutType
	RolloutPercentage   *int
	TargetOrganizations []string
	TargetUsers         []string
	TargetRoles         []string
	TargetRegions       []string
	Configuration       map[string]any
	Tags                []string
	Priority            *int
	Reason              string
}

// Update applies the supplied fields, recomputes status per the
// auto-transition rule when enabled changes without an explicit status, and
// appends one trail entry covering all changed fields together.
func (s *Service) Update(ctx context.Context, identifier string, input UpdateInput, actorID string) (*models.FeatureFlag, error) {
	if input.Category != nil && !input.Category.Valid() {
		return nil, validationErrorf("unknown category %q", *input.Category)
	}
	if input.Status != nil && !input.Status.Valid() {
		return nil, validationErrorf("unknown status %q", *input.Status)
	}
	if input.RolloutType != nil && !input.RolloutType.Valid() {
		return nil, validationErrorf("unknown rollout type %q", *input.RolloutType)
	}
	if input.RolloutPercentage != nil && (*input.RolloutPercentage < 0 || *input.RolloutPercentage > 100) {
		return nil, validationErrorf("rollout percentage %d out of range 0-100", *input.RolloutPercentage)
	}

	return s.mutate(ctx, identifier, "updated", actorID, input.Reason, func(flag *models.FeatureFlag) (changeSet, error) {
		changes := changeSet{}
		if input.Name != nil {
			changes.add("name", flag.Name, *input.Name)
			flag.Name = *input.Name
		}
		if input.Description != nil {
			changes.add("description", flag.Description, *input.Description)
			flag.Description = *input.Description
		}
		if input.Category != nil {
			changes.add("category", string(flag.Category), string(*input.Category))
			flag.Category = *input.Category
		}
		if input.Enabled != nil {
			changes.add("enabled", flag.Enabled, *input.Enabled)
			flag.Enabled = *input.Enabled
			// Explicit status below overrides the auto-transition.
			if input.Status == nil {
				next := transitionStatus(flag.Status, *input.Enabled)
				changes.add("status", string(flag.Status), string(next))
				flag.Status = next
			}
		}
		if input.Status != nil {
			changes.add("status", string(flag.Status), string(*input.Status))
			flag.Status = *input.Status
		}
		if input.RolloutType != nil {
			changes.add("rollout_type", string(flag.RolloutType), string(*input.RolloutType))
			flag.RolloutType = *input.RolloutType
		}
		if input.RolloutPercentage != nil {
			changes.add("rollout_percentage", flag.RolloutPercentage, *input.RolloutPercentage)
			flag.RolloutPercentage = *input.RolloutPercentage
		}
		if input.TargetOrganizations != nil {
			changes.add("target_organizations", flag.TargetOrganizations, input.TargetOrganizations)
			flag.TargetOrganizations = input.TargetOrganizations
		}
		if input.TargetUsers != nil {
			changes.add("target_users", flag.TargetUsers, input.TargetUsers)
			flag.TargetUsers = input.TargetUsers
		}
		if input.TargetRoles != nil {
			changes.add("target_roles", flag.TargetRoles, input.TargetRoles)
			flag.TargetRoles = input.TargetRoles
		}
		if input.TargetRegions != nil {
			changes.add("target_regions", flag.TargetRegions, input.TargetRegions)
			flag.TargetRegions = input.TargetRegions
		}
		if input.Configuration != nil {
			changes.add("configuration", flag.Configuration, input.Configuration)
			flag.Configuration = input.Configuration
		}
		if input.Tags != nil {
			changes.add("tags", flag.Tags, input.Tags)
			flag.Tags = input.Tags
		}
		if input.Priority != nil {
			changes.add("priority", flag.Priority, *input.Priority)
			flag.Priority = *input.Priority
		}
		return changes, nil
	})
}

// Toggle flips the global switch. Sugar for Update with only enabled and
// reason.
func (s *Service) Toggle(ctx context.Context, identifier string, enabled bool, actorID, reason string) (*models.FeatureFlag, error) {
	return s.Update(ctx, identifier, UpdateInput{Enabled: &enabled, Reason: reason}, actorID)
}

// SetRolloutPercentage updates only the rollout percentage.
func (s *Service) SetRolloutPercentage(ctx context.Context, identifier string, percentage int, actorID, reason string) (*models.FeatureFlag, error) {
	return s.Update(ctx, identifier, UpdateInput{RolloutPercentage: &percentage, Reason: reason}, actorID)
}

// OverrideInput holds the fields accepted on a regional override upsert.
// Enabled and RolloutPercentage default from the flag's own current values
// when not supplied.
type OverrideInput struct {
	Enabled           *bool
	RolloutPercentage *int
	Notes             string
}

// UpsertRegionalOverride replaces the override for a region, or adds one.
// The replacement is whole-record, not a field-level merge.
func (s *Service) UpsertRegionalOverride(ctx context.Context, identifier, region string, input OverrideInput, actorID string) (*models.FeatureFlag, error) {
	if region == "" {
		return nil, validationErrorf("region is required")
	}
	if input.RolloutPercentage != nil && (*input.RolloutPercentage < 0 || *input.RolloutPercentage > 100) {
		return nil, validationErrorf("override percentage %d out of range 0-100", *input.RolloutPercentage)
	}

	return s.mutate(ctx, identifier, "regional_override_updated", actorID, "", func(flag *models.FeatureFlag) (changeSet, error) {
		enabled := flag.Enabled
		if input.Enabled != nil {
			enabled = *input.Enabled
		}
		percentage := flag.RolloutPercentage
		if input.RolloutPercentage != nil {
			percentage = *input.RolloutPercentage
		}
		override := models.RegionalOverride{
			Enabled:           enabled,
			RolloutPercentage: &percentage,
			Notes:             input.Notes,
			UpdatedAt:         time.Now().UTC(),
			UpdatedBy:         actorID,
		}

		changes := changeSet{}
		var before any
		if prev, ok := flag.RegionalOverrides[region]; ok {
			before = prev
		}
		changes.add("regional_overrides."+region, before, override)

		if flag.RegionalOverrides == nil {
			flag.RegionalOverrides = make(map[string]models.RegionalOverride)
		}
		flag.RegionalOverrides[region] = override
		return changes, nil
	})
}

// ExperimentInput holds the fields accepted when adding an experiment.
type ExperimentInput struct {
	Name       string
	Variant    models.ExperimentVariant
	Percentage *int
	Metrics    []string
	StartDate  *time.Time
	EndDate    *time.Time
	Status     models.ExperimentStatus
}

// AddExperiment appends an experiment record to the flag. Defaults:
// variant_a, 50 percent, active, starting now.
func (s *Service) AddExperiment(ctx context.Context, identifier string, input ExperimentInput, actorID string) (*models.FeatureFlag, error) {
	if input.Name == "" {
		return nil, validationErrorf("experiment name is required")
	}
	if input.Variant == "" {
		input.Variant = models.VariantA
	}
	if !input.Variant.Valid() {
		return nil, validationErrorf("unknown experiment variant %q", input.Variant)
	}
	if input.Status == "" {
		input.Status = models.ExperimentActive
	}
	if !input.Status.Valid() {
		return nil, validationErrorf("unknown experiment status %q", input.Status)
	}
	percentage := 50
	if input.Percentage != nil {
		percentage = *input.Percentage
	}
	if percentage < 0 || percentage > 100 {
		return nil, validationErrorf("experiment percentage %d out of range 0-100", percentage)
	}
	start := time.Now().UTC()
	if input.StartDate != nil {
		start = *input.StartDate
	}

	experiment := models.Experiment{
		Name:       input.Name,
		Variant:    input.Variant,
		Percentage: percentage,
		Metrics:    input.Metrics,
		StartDate:  start,
		EndDate:    input.EndDate,
		Status:     input.Status,
	}

	return s.mutate(ctx, identifier, "experiment_added", actorID, "", func(flag *models.FeatureFlag) (changeSet, error) {
		changes := changeSet{}
		changes.add("experiments", len(flag.Experiments), len(flag.Experiments)+1)
		changes["experiment"] = models.FieldChange{Before: nil, After: experiment}
		flag.Experiments = append(flag.Experiments, experiment)
		return changes, nil
	})
}

// BetaAccessInput holds the fields accepted on a beta access update.
// Unsupplied sub-fields retain their previous values.
type BetaAccessInput struct {
	Enabled           *bool
	AccessLevel       *models.BetaAccessLevel
	BetaUsers         []string
	BetaOrganizations []string
	BetaKey           *string
}

// UpdateBetaAccess merges the supplied sub-fields into the flag's beta
// access configuration.
func (s *Service) UpdateBetaAccess(ctx context.Context, identifier string, input BetaAccessInput, actorID string) (*models.FeatureFlag, error) {
	if input.AccessLevel != nil && !input.AccessLevel.Valid() {
		return nil, validationErrorf("unknown beta access level %q", *input.AccessLevel)
	}

	return s.mutate(ctx, identifier, "beta_access_updated", actorID, "", func(flag *models.FeatureFlag) (changeSet, error) {
		before := flag.BetaAccess
		if input.Enabled != nil {
			flag.BetaAccess.Enabled = *input.Enabled
		}
		if input.AccessLevel != nil {
			flag.BetaAccess.AccessLevel = *input.AccessLevel
		}
		if input.BetaUsers != nil {
			flag.BetaAccess.BetaUsers = input.BetaUsers
		}
		if input.BetaOrganizations != nil {
			flag.BetaAccess.BetaOrganizations = input.BetaOrganizations
		}
		if input.BetaKey != nil {
			flag.BetaAccess.BetaKey = *input.BetaKey
		}

		changes := changeSet{}
		changes.add("beta_access", before, flag.BetaAccess)
		return changes, nil
	})
}

// Evaluation is the answer handed to evaluation callers. Configuration is
// the flag's opaque payload, returned verbatim when the flag is on.
type Evaluation struct {
	Enabled       bool           `json:"enabled"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Evaluate answers "is this flag on for this caller". It never returns an
// error: a missing flag, an inactive flag, or a store failure all degrade
// to false.
func (s *Service) Evaluate(ctx context.Context, key string, identity models.Identity) Evaluation {
	flag, err := s.loadForEvaluation(ctx, key)
	if err != nil {
		logger := logging.Ctx(ctx)
		logger.Debug().Err(err).Str("key", key).Msg("Evaluation degraded to false")
		metrics.RecordEvaluation(false)
		return Evaluation{Enabled: false}
	}

	enabled := EvaluateFlag(flag, identity)
	metrics.RecordEvaluation(enabled)

	result := Evaluation{Enabled: enabled}
	if enabled {
		result.Configuration = flag.Configuration
	}
	return result
}

// loadForEvaluation reads through the cache when one is configured.
// Negative results are not cached; a missing flag stays a store lookup.
func (s *Service) loadForEvaluation(ctx context.Context, key string) (*models.FeatureFlag, error) {
	if s.cache != nil {
		if flag, ok := s.cache.Get(key); ok {
			return flag, nil
		}
	}
	flag, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, flag)
	}
	return flag, nil
}

// transitionStatus applies the enabled-driven lifecycle rule: enabling a
// draft activates it, disabling an active flag pauses it.
func transitionStatus(current models.FlagStatus, enabled bool) models.FlagStatus {
	if enabled && current == models.StatusDraft {
		return models.StatusActive
	}
	if !enabled && current == models.StatusActive {
		return models.StatusPaused
	}
	return current
}

// mutate runs the load-apply-append-store cycle shared by every mutation.
// The trail entry and the field changes are written in one store call.
func (s *Service) mutate(ctx context.Context, identifier, action, actorID, reason string,
	apply func(*models.FeatureFlag) (changeSet, error)) (*models.FeatureFlag, error) {

	flag, err := s.store.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}

	changes, err := apply(flag)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	flag.UpdatedBy = actorID
	flag.UpdatedAt = now
	flag.AuditTrail = append(flag.AuditTrail, models.TrailEntry{
		Action:      action,
		PerformedBy: actorID,
		PerformedAt: now,
		Changes:     changes,
		Reason:      reason,
	})

	if err := s.store.Update(ctx, flag); err != nil {
		return nil, err
	}

	s.afterMutation(ctx, flag, action, actorID, changes, changes.summary(), reason)
	return flag, nil
}

// afterMutation fans out the side channels of a successful write: the
// system-wide audit log, the notifier topics, cache invalidation, and
// metrics. None of these can fail the mutation.
func (s *Service) afterMutation(ctx context.Context, flag *models.FeatureFlag, action, actorID string,
	changes map[string]models.FieldChange, summary, reason string) {

	metrics.RecordFlagMutation(action)

	if s.cache != nil {
		s.cache.Invalidate(flag.Key)
	}
	if s.auditor != nil {
		s.auditor.RecordFlagChange(ctx, flag, action, actorID, changes, summary, reason)
	}
	if s.notifier != nil {
		s.notifier.FlagChanged(ctx, flag)
		s.notifier.AdminEvent(ctx, action, flag, actorID)
	}

	logger := logging.Ctx(ctx)
	logger.Info().
		Str("flag", flag.Key).
		Str("action", action).
		Str("actor", actorID).
		Msg("Flag mutated")
}
