// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package models

import "time"

// RolloutType selects which branch of the evaluation algorithm applies.
type RolloutType string

const (
	RolloutGlobal       RolloutType = "global"
	RolloutPercentage   RolloutType = "percentage"
	RolloutSpecificOrgs RolloutType = "specific_orgs"
	RolloutSpecificUsrs RolloutType = "specific_users"
	RolloutRegional     RolloutType = "regional"
)

// Valid reports whether t is a recognized rollout type.
func (t RolloutType) Valid() bool {
	switch t {
	case RolloutGlobal, RolloutPercentage, RolloutSpecificOrgs, RolloutSpecificUsrs, RolloutRegional:
		return true
	}
	return false
}

// FlagStatus is the lifecycle state of a flag.
type FlagStatus string

const (
	StatusDraft    FlagStatus = "draft"
	StatusActive   FlagStatus = "active"
	StatusPaused   FlagStatus = "paused"
	StatusArchived FlagStatus = "archived"
)

// Valid reports whether s is a recognized status.
func (s FlagStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusArchived:
		return true
	}
	return false
}

// FlagCategory classifies a flag for listing and stats.
type FlagCategory string

const (
	CategoryFeature     FlagCategory = "feature"
	CategoryExperiment  FlagCategory = "experiment"
	CategoryBeta        FlagCategory = "beta"
	CategoryMaintenance FlagCategory = "maintenance"
	CategorySecurity    FlagCategory = "security"
	CategoryIntegration FlagCategory = "integration"
	CategoryUI          FlagCategory = "ui"
	CategoryAPI         FlagCategory = "api"
)

// Valid reports whether c is a recognized category.
func (c FlagCategory) Valid() bool {
	switch c {
	case CategoryFeature, CategoryExperiment, CategoryBeta, CategoryMaintenance,
		CategorySecurity, CategoryIntegration, CategoryUI, CategoryAPI:
		return true
	}
	return false
}

// RegionalOverride scopes a flag's behavior for one region. At most one
// override exists per region code (upsert by region key).
type RegionalOverride struct {
	Enabled           bool      `json:"enabled"`
	RolloutPercentage *int      `json:"rollout_percentage,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
	UpdatedBy         string    `json:"updated_by"`
}

// ExperimentVariant identifies an experiment arm.
type ExperimentVariant string

const (
	VariantControl ExperimentVariant = "control"
	VariantA       ExperimentVariant = "variant_a"
	VariantB       ExperimentVariant = "variant_b"
	VariantC       ExperimentVariant = "variant_c"
)

// Valid reports whether v is a recognized variant.
func (v ExperimentVariant) Valid() bool {
	switch v {
	case VariantControl, VariantA, VariantB, VariantC:
		return true
	}
	return false
}

// ExperimentStatus is the lifecycle state of an experiment record.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Valid reports whether s is a recognized experiment status.
func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentActive, ExperimentPaused, ExperimentCompleted:
		return true
	}
	return false
}

// Experiment is targeting metadata attached to a flag. It is stored and
// returned verbatim; the evaluation engine does not consult it.
type Experiment struct {
	Name       string            `json:"name"`
	Variant    ExperimentVariant `json:"variant"`
	Percentage int               `json:"percentage"`
	Metrics    []string          `json:"metrics,omitempty"`
	StartDate  time.Time         `json:"start_date"`
	EndDate    *time.Time        `json:"end_date,omitempty"`
	Status     ExperimentStatus  `json:"status"`
}

// BetaAccessLevel controls how a beta program admits users.
type BetaAccessLevel string

const (
	BetaPrivate    BetaAccessLevel = "private"
	BetaInviteOnly BetaAccessLevel = "invite_only"
	BetaPublic     BetaAccessLevel = "public_beta"
)

// Valid reports whether l is a recognized access level.
func (l BetaAccessLevel) Valid() bool {
	switch l {
	case BetaPrivate, BetaInviteOnly, BetaPublic:
		return true
	}
	return false
}

// BetaAccess holds a flag's beta program configuration.
type BetaAccess struct {
	Enabled           bool            `json:"enabled"`
	AccessLevel       BetaAccessLevel `json:"access_level,omitempty"`
	BetaUsers         []string        `json:"beta_users,omitempty"`
	BetaOrganizations []string        `json:"beta_organizations,omitempty"`
	BetaKey           string          `json:"beta_key,omitempty"`
}

// TrailEntry is one record in a flag's embedded change history. Exactly one
// entry is appended per mutation, atomically with the flag write.
type TrailEntry struct {
	Action      string                 `json:"action"`
	PerformedBy string                 `json:"performed_by"`
	PerformedAt time.Time              `json:"performed_at"`
	Changes     map[string]FieldChange `json:"changes,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
}

// FieldChange captures the before and after values of one mutated field.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// FeatureFlag is the unit of configuration. Key is unique and immutable;
// ID is the opaque internal identifier.
type FeatureFlag struct {
	ID          string       `json:"id"`
	Key         string       `json:"key"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Category    FlagCategory `json:"category"`

	Enabled bool       `json:"enabled"`
	Status  FlagStatus `json:"status"`

	RolloutType       RolloutType `json:"rollout_type"`
	RolloutPercentage int         `json:"rollout_percentage"`

	TargetOrganizations []string `json:"target_organizations,omitempty"`
	TargetUsers         []string `json:"target_users,omitempty"`
	TargetRoles         []string `json:"target_roles,omitempty"`
	TargetRegions       []string `json:"target_regions,omitempty"`

	// RegionalOverrides maps region code to override record.
	RegionalOverrides map[string]RegionalOverride `json:"regional_overrides,omitempty"`

	// Configuration is an opaque payload returned to callers alongside the
	// boolean. Never inspected by the core, only stored and returned verbatim.
	Configuration map[string]any `json:"configuration,omitempty"`

	Experiments []Experiment `json:"experiments,omitempty"`
	BetaAccess  BetaAccess   `json:"beta_access"`

	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority"`

	AuditTrail []TrailEntry `json:"audit_trail,omitempty"`

	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of f. Stores hand out clones so callers cannot
// mutate shared state.
func (f *FeatureFlag) Clone() *FeatureFlag {
	if f == nil {
		return nil
	}
	c := *f
	c.TargetOrganizations = cloneSlice(f.TargetOrganizations)
	c.TargetUsers = cloneSlice(f.TargetUsers)
	c.TargetRoles = cloneSlice(f.TargetRoles)
	c.TargetRegions = cloneSlice(f.TargetRegions)
	c.Tags = cloneSlice(f.Tags)
	if f.RegionalOverrides != nil {
		c.RegionalOverrides = make(map[string]RegionalOverride, len(f.RegionalOverrides))
		for k, v := range f.RegionalOverrides {
			if v.RolloutPercentage != nil {
				pct := *v.RolloutPercentage
				v.RolloutPercentage = &pct
			}
			c.RegionalOverrides[k] = v
		}
	}
	if f.Configuration != nil {
		c.Configuration = make(map[string]any, len(f.Configuration))
		for k, v := range f.Configuration {
			c.Configuration[k] = v
		}
	}
	if f.Experiments != nil {
		c.Experiments = make([]Experiment, len(f.Experiments))
		copy(c.Experiments, f.Experiments)
		for i := range c.Experiments {
			c.Experiments[i].Metrics = cloneSlice(f.Experiments[i].Metrics)
			if f.Experiments[i].EndDate != nil {
				end := *f.Experiments[i].EndDate
				c.Experiments[i].EndDate = &end
			}
		}
	}
	c.BetaAccess.BetaUsers = cloneSlice(f.BetaAccess.BetaUsers)
	c.BetaAccess.BetaOrganizations = cloneSlice(f.BetaAccess.BetaOrganizations)
	if f.AuditTrail != nil {
		c.AuditTrail = make([]TrailEntry, len(f.AuditTrail))
		copy(c.AuditTrail, f.AuditTrail)
		for i := range c.AuditTrail {
			if f.AuditTrail[i].Changes != nil {
				changes := make(map[string]FieldChange, len(f.AuditTrail[i].Changes))
				for k, v := range f.AuditTrail[i].Changes {
					changes[k] = v
				}
				c.AuditTrail[i].Changes = changes
			}
		}
	}
	return &c
}

func cloneSlice(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Identity is the caller context supplied to evaluation. Any field may be
// empty; missing fields simply exclude the rollout branches that need them.
type Identity struct {
	UserID string `json:"user_id,omitempty"`
	OrgID  string `json:"org_id,omitempty"`
	Region string `json:"region,omitempty"`
}

// BucketID returns the identity string used for percentage bucketing:
// the user ID when present, else the org ID, else empty.
func (i Identity) BucketID() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.OrgID
}

// ListFilter narrows and pages flag listings.
type ListFilter struct {
	Status   FlagStatus   `json:"status,omitempty"`
	Category FlagCategory `json:"category,omitempty"`
	Enabled  *bool        `json:"enabled,omitempty"`
	// Search matches case-insensitively over name, key, description, and tags.
	Search string `json:"search,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// FlagStats aggregates counts across all flags.
type FlagStats struct {
	Total                 int            `json:"total"`
	Enabled               int            `json:"enabled"`
	Disabled              int            `json:"disabled"`
	ByCategory            map[string]int `json:"by_category"`
	ByStatus              map[string]int `json:"by_status"`
	WithActiveExperiments int            `json:"with_active_experiments"`
	WithRegionalOverrides int            `json:"with_regional_overrides"`
}
