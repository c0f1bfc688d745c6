// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Reporter answers the timeline, drill-down, and export queries over the
// audit log. Unlike the Recorder, the Reporter surfaces its errors: an
// admin running a compliance query must know when results are incomplete.
type Reporter struct {
	store Store
}

// NewReporter creates a reporter over the given store.
func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

// Timeline returns entries matching the filter, newest first, plus the
// unpaginated total for pagination.
func (r *Reporter) Timeline(ctx context.Context, filter QueryFilter) ([]Entry, int64, error) {
	if err := validateFilter(filter); err != nil {
		return nil, 0, err
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryFilter().Limit
	}

	entries, err := r.store.Query(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("timeline query failed: %w", err)
	}
	total, err := r.store.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("timeline count failed: %w", err)
	}
	return entries, total, nil
}

func validateFilter(filter QueryFilter) error {
	for _, t := range filter.ActionTypes {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown action type %q", ErrValidation, t)
		}
	}
	for _, c := range filter.Categories {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrValidation, c)
		}
	}
	for _, s := range filter.Severities {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown severity %q", ErrValidation, s)
		}
	}
	return nil
}

// ActionDetails is one entry plus its drill-down context.
type ActionDetails struct {
	Entry Entry `json:"entry"`

	// RelatedByTarget holds up to 10 most recent other entries sharing the
	// same target.
	RelatedByTarget []Entry `json:"related_by_target"`

	// RelatedByPerformer holds up to 20 most recent other entries by the
	// same performer.
	RelatedByPerformer []Entry `json:"related_by_performer"`
}

// Details returns one entry with related activity for drill-down.
// Returns ErrNotFound if the ID does not resolve.
func (r *Reporter) Details(ctx context.Context, id string) (*ActionDetails, error) {
	entry, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &ActionDetails{
		Entry:              *entry,
		RelatedByTarget:    []Entry{},
		RelatedByPerformer: []Entry{},
	}

	if entry.TargetType != "" && entry.TargetID != "" {
		// One extra row covers the entry itself appearing in the results.
		related, err := r.store.Query(ctx, QueryFilter{
			TargetType: entry.TargetType,
			TargetID:   entry.TargetID,
			Limit:      11,
		})
		if err != nil {
			return nil, fmt.Errorf("related target query failed: %w", err)
		}
		details.RelatedByTarget = excludeEntry(related, id, 10)
	}

	if entry.PerformedBy != "" {
		related, err := r.store.Query(ctx, QueryFilter{
			PerformedBy: entry.PerformedBy,
			Limit:       21,
		})
		if err != nil {
			return nil, fmt.Errorf("related performer query failed: %w", err)
		}
		details.RelatedByPerformer = excludeEntry(related, id, 20)
	}

	return details, nil
}

func excludeEntry(entries []Entry, id string, limit int) []Entry {
	out := make([]Entry, 0, limit)
	for i := range entries {
		if entries[i].ID == id {
			continue
		}
		out = append(out, entries[i])
		if len(out) == limit {
			break
		}
	}
	return out
}

// Stats aggregates breakdowns, the top 10 performers, and the 10 most
// recent entries for entries matching the filter.
func (r *Reporter) Stats(ctx context.Context, filter QueryFilter) (*Stats, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	stats, err := r.store.Stats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("stats query failed: %w", err)
	}

	recentFilter := filter
	recentFilter.Limit = 10
	recentFilter.Offset = 0
	recent, err := r.store.Query(ctx, recentFilter)
	if err != nil {
		return nil, fmt.Errorf("recent entries query failed: %w", err)
	}
	stats.RecentEntries = recent
	return stats, nil
}

// ExportAll returns the unpaginated full result set rendered in the given
// format, with the download filename. Format must be "csv" or "json".
func (r *Reporter) ExportAll(ctx context.Context, filter QueryFilter, format string) ([]byte, string, string, error) {
	exporter := NewExporter(format)
	if exporter == nil {
		return nil, "", "", fmt.Errorf("%w: unknown export format %q", ErrValidation, format)
	}
	if err := validateFilter(filter); err != nil {
		return nil, "", "", err
	}

	// Unpaginated by contract.
	filter.Limit = 0
	filter.Offset = 0

	entries, err := r.store.Query(ctx, filter)
	if err != nil {
		return nil, "", "", fmt.Errorf("export query failed: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}

	data, err := exporter.Export(entries)
	if err != nil {
		return nil, "", "", fmt.Errorf("export rendering failed: %w", err)
	}

	newest := lastTimestamp(entries)
	return data, ExportFilename(newest, exporter.Extension()), exporter.ContentType(), nil
}

// lastTimestamp picks the filename date: the newest exported entry, or the
// export time for an empty set.
func lastTimestamp(entries []Entry) time.Time {
	if len(entries) > 0 {
		// Entries are newest first.
		return entries[0].Timestamp
	}
	return time.Now().UTC()
}

// targetIDPattern accepts identity references: non-empty, no whitespace,
// limited to the characters our IDs and keys use.
var targetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// TargetHistory returns all entries for one target, newest first.
// Returns ErrValidation if targetID is not a well-formed identity reference.
func (r *Reporter) TargetHistory(ctx context.Context, targetType, targetID string) ([]Entry, error) {
	if targetType == "" {
		return nil, fmt.Errorf("%w: target type is required", ErrValidation)
	}
	if !targetIDPattern.MatchString(targetID) {
		return nil, fmt.Errorf("%w: malformed target id %q", ErrValidation, targetID)
	}

	entries, err := r.store.Query(ctx, QueryFilter{
		TargetType: targetType,
		TargetID:   targetID,
	})
	if err != nil {
		return nil, fmt.Errorf("target history query failed: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// UserActivity summarizes one performer's recorded actions.
type UserActivity struct {
	UserID       string           `json:"user_id"`
	TotalActions int64            `json:"total_actions"`
	ByCategory   map[string]int64 `json:"by_category"`
	ByActionType map[string]int64 `json:"by_action_type"`

	// RecentActions holds the 20 most recent entries.
	RecentActions []Entry `json:"recent_actions"`

	// HighSeverityActions holds the 10 most recent entries with severity
	// high or critical.
	HighSeverityActions []Entry `json:"high_severity_actions"`
}

// UserActivitySummary aggregates one user's audit activity within the
// filter's time range.
func (r *Reporter) UserActivitySummary(ctx context.Context, userID string, filter QueryFilter) (*UserActivity, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	filter.PerformedBy = userID

	stats, err := r.store.Stats(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("user activity stats failed: %w", err)
	}

	recentFilter := filter
	recentFilter.Limit = 20
	recentFilter.Offset = 0
	recent, err := r.store.Query(ctx, recentFilter)
	if err != nil {
		return nil, fmt.Errorf("user activity query failed: %w", err)
	}

	severeFilter := filter
	severeFilter.Severities = []Severity{SeverityHigh, SeverityCritical}
	severeFilter.Limit = 10
	severeFilter.Offset = 0
	severe, err := r.store.Query(ctx, severeFilter)
	if err != nil {
		return nil, fmt.Errorf("user activity severity query failed: %w", err)
	}

	if recent == nil {
		recent = []Entry{}
	}
	if severe == nil {
		severe = []Entry{}
	}

	return &UserActivity{
		UserID:              userID,
		TotalActions:        stats.TotalEntries,
		ByCategory:          stats.ByCategory,
		ByActionType:        stats.ByActionType,
		RecentActions:       recent,
		HighSeverityActions: severe,
	}, nil
}
