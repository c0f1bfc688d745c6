// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package audit provides the system-wide, append-only audit log.
// It records admin actions against arbitrary targets for compliance and
// drill-down reporting. Entries are created once and never mutated or
// deleted within the retention window.
package audit

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the reporting path.
var (
	// ErrNotFound indicates an entry ID that does not resolve.
	ErrNotFound = errors.New("audit entry not found")

	// ErrValidation indicates malformed query input, such as a target ID
	// that is not a well-formed identity reference.
	ErrValidation = errors.New("audit validation failed")
)

// ActionType is the closed set of recognized action kinds.
type ActionType string

const (
	ActionCreate        ActionType = "create"
	ActionUpdate        ActionType = "update"
	ActionDelete        ActionType = "delete"
	ActionApprove       ActionType = "approve"
	ActionReject        ActionType = "reject"
	ActionAccess        ActionType = "access"
	ActionExport        ActionType = "export"
	ActionLogin         ActionType = "login"
	ActionLogout        ActionType = "logout"
	ActionView          ActionType = "view"
	ActionModify        ActionType = "modify"
	ActionAssign        ActionType = "assign"
	ActionResolve       ActionType = "resolve"
	ActionRoute         ActionType = "route"
	ActionBulkOperation ActionType = "bulk_operation"
	ActionImport        ActionType = "import"
	ActionSync          ActionType = "sync"
	ActionConfigure     ActionType = "configure"
	ActionRestrict      ActionType = "restrict"
	ActionEnable        ActionType = "enable"
	ActionDisable       ActionType = "disable"
)

var actionTypes = map[ActionType]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionApprove: true, ActionReject: true, ActionAccess: true,
	ActionExport: true, ActionLogin: true, ActionLogout: true,
	ActionView: true, ActionModify: true, ActionAssign: true,
	ActionResolve: true, ActionRoute: true, ActionBulkOperation: true,
	ActionImport: true, ActionSync: true, ActionConfigure: true,
	ActionRestrict: true, ActionEnable: true, ActionDisable: true,
}

// Valid reports whether t is a recognized action type.
func (t ActionType) Valid() bool { return actionTypes[t] }

// Category is the closed set of audit categories.
type Category string

const (
	CategoryUser         Category = "user"
	CategoryContent      Category = "content"
	CategoryOrganization Category = "organization"
	CategoryPayment      Category = "payment"
	CategoryApproval     Category = "approval"
	CategoryIncident     Category = "incident"
	CategorySupport      Category = "support"
	CategoryLifecycle    Category = "lifecycle"
	CategoryGovernance   Category = "governance"
	CategoryFinancial    Category = "financial"
	CategorySystem       Category = "system"
	CategorySettings     Category = "settings"
	CategorySecurity     Category = "security"
	CategoryAccess       Category = "access"
	CategoryData         Category = "data"
	CategoryReports      Category = "reports"
	CategoryAnalytics    Category = "analytics"
)

var categories = map[Category]bool{
	CategoryUser: true, CategoryContent: true, CategoryOrganization: true,
	CategoryPayment: true, CategoryApproval: true, CategoryIncident: true,
	CategorySupport: true, CategoryLifecycle: true, CategoryGovernance: true,
	CategoryFinancial: true, CategorySystem: true, CategorySettings: true,
	CategorySecurity: true, CategoryAccess: true, CategoryData: true,
	CategoryReports: true, CategoryAnalytics: true,
}

// Valid reports whether c is a recognized category.
func (c Category) Valid() bool { return categories[c] }

// Severity indicates how consequential an entry is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Changes is the structured diff attached to an entry.
type Changes struct {
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	FieldsChanged []string       `json:"fields_changed,omitempty"`
	Summary       string         `json:"summary,omitempty"`
}

// Entry is one system-wide action record, independent of any flag's
// embedded trail.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is free text; ActionType and Category classify it.
	Action     string     `json:"action"`
	ActionType ActionType `json:"action_type"`
	Category   Category   `json:"category"`

	// Performer identity, denormalized at write time so history survives
	// later changes to the identity record.
	PerformedBy      string `json:"performed_by"`
	PerformedByName  string `json:"performed_by_name,omitempty"`
	PerformedByEmail string `json:"performed_by_email,omitempty"`
	PerformedByRole  string `json:"performed_by_role,omitempty"`

	TargetType       string `json:"target_type,omitempty"`
	TargetID         string `json:"target_id,omitempty"`
	TargetName       string `json:"target_name,omitempty"`
	TargetIdentifier string `json:"target_identifier,omitempty"`

	Description string   `json:"description,omitempty"`
	Changes     *Changes `json:"changes,omitempty"`

	// Request metadata
	RequestMethod string `json:"request_method,omitempty"`
	RequestPath   string `json:"request_path,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	IPAddress     string `json:"ip_address,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`

	OrganizationID string `json:"organization_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`

	Metadata        map[string]any `json:"metadata,omitempty"`
	Severity        Severity       `json:"severity"`
	ComplianceFlags []string       `json:"compliance_flags,omitempty"`
}

// QueryFilter defines filtering options for timeline and stats queries.
type QueryFilter struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	PerformedBy string `json:"performed_by,omitempty"`
	TargetType  string `json:"target_type,omitempty"`
	TargetID    string `json:"target_id,omitempty"`

	ActionTypes []ActionType `json:"action_types,omitempty"`
	Categories  []Category   `json:"categories,omitempty"`
	Severities  []Severity   `json:"severities,omitempty"`

	// SearchText matches case-insensitively over action, description,
	// performer name, and target name.
	SearchText string `json:"search_text,omitempty"`

	OrganizationID string `json:"organization_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}

// PerformerActivity is one row of the top-performers breakdown.
type PerformerActivity struct {
	PerformedBy     string `json:"performed_by"`
	PerformedByName string `json:"performed_by_name,omitempty"`
	Count           int64  `json:"count"`
}

// Stats aggregates counts over entries matching a filter.
type Stats struct {
	TotalEntries  int64              `json:"total_entries"`
	ByCategory    map[string]int64   `json:"by_category"`
	ByActionType  map[string]int64   `json:"by_action_type"`
	BySeverity    map[string]int64   `json:"by_severity"`
	TopPerformers []PerformerActivity `json:"top_performers"`
	RecentEntries []Entry            `json:"recent_entries"`
	OldestEntry   *time.Time         `json:"oldest_entry,omitempty"`
	NewestEntry   *time.Time         `json:"newest_entry,omitempty"`
}

// Store defines the interface for audit entry persistence. Entries are
// append-only: there is no update, and Delete exists only for retention
// cleanup of expired records.
type Store interface {
	// Save persists an entry.
	Save(ctx context.Context, entry *Entry) error

	// Get retrieves an entry by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Entry, error)

	// Query retrieves entries matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]Entry, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Stats aggregates breakdowns over entries matching the filter.
	// RecentEntries is left for the caller to populate.
	Stats(ctx context.Context, filter QueryFilter) (*Stats, error)

	// Delete removes entries older than the given time for retention
	// cleanup, returning the number removed.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases store resources.
	Close() error
}
