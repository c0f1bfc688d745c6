// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flagwarden/flagwarden/internal/logging"
	"github.com/flagwarden/flagwarden/internal/metrics"
	"github.com/flagwarden/flagwarden/internal/models"
)

// ActorInfo is the denormalized identity captured on an entry.
type ActorInfo struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// ActorResolver resolves a performer ID to display information.
// Implementations return (nil, nil) for an unknown actor; that is not an
// error, the entry is simply recorded without enrichment.
type ActorResolver interface {
	ResolveUser(ctx context.Context, id string) (*ActorInfo, error)
}

// Recorder writes entries to the audit store, fail-open.
//
// Record swallows every internal failure, logs it for operators, and
// returns nil. Audit-logging failure must never abort or roll back the
// primary action it describes. This is the deliberate opposite of the flag
// mutators, which surface their errors.
type Recorder struct {
	store    Store
	resolver ActorResolver
}

// NewRecorder creates a recorder over the given store. resolver may be nil;
// entries are then recorded without performer enrichment.
func NewRecorder(store Store, resolver ActorResolver) *Recorder {
	return &Recorder{store: store, resolver: resolver}
}

// Record persists an entry and returns it, or nil if recording failed.
// Missing ID, timestamp, and severity are defaulted. The performer's
// display name, email, and role are resolved best-effort at write time.
func (r *Recorder) Record(ctx context.Context, entry Entry) *Entry {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityLow
	}
	if entry.RequestID == "" {
		entry.RequestID = logging.RequestIDFromContext(ctx)
	}

	r.enrich(ctx, &entry)

	if err := r.store.Save(ctx, &entry); err != nil {
		metrics.RecordAuditFailure()
		logger := logging.Ctx(ctx)
		logger.Error().
			Err(err).
			Str("action", entry.Action).
			Str("performed_by", entry.PerformedBy).
			Msg("Audit recording failed, entry dropped")
		return nil
	}

	metrics.RecordAuditEntry()
	return &entry
}

// enrich fills in the performer's denormalized fields when a resolver is
// configured and the entry does not already carry them.
func (r *Recorder) enrich(ctx context.Context, entry *Entry) {
	if r.resolver == nil || entry.PerformedBy == "" || entry.PerformedByName != "" {
		return
	}
	info, err := r.resolver.ResolveUser(ctx, entry.PerformedBy)
	if err != nil {
		logger := logging.Ctx(ctx)
		logger.Debug().
			Err(err).
			Str("performed_by", entry.PerformedBy).
			Msg("Actor resolution failed, recording without enrichment")
		return
	}
	if info == nil {
		return
	}
	entry.PerformedByName = info.DisplayName
	entry.PerformedByEmail = info.Email
	entry.PerformedByRole = info.Role
}

// flagActionTypes maps embedded-trail actions to the closed ActionType set.
var flagActionTypes = map[string]ActionType{
	"created":                   ActionCreate,
	"updated":                   ActionUpdate,
	"regional_override_updated": ActionConfigure,
	"experiment_added":          ActionConfigure,
	"beta_access_updated":       ActionConfigure,
}

// RecordFlagChange records a flag mutation in the system-wide log. This is
// the second, independent write of the dual audit model; the flag's own
// trail was already appended atomically with the mutation.
func (r *Recorder) RecordFlagChange(ctx context.Context, flag *models.FeatureFlag, action, actorID string,
	fieldChanges map[string]models.FieldChange, summary, reason string) {

	actionType, ok := flagActionTypes[action]
	if !ok {
		actionType = ActionModify
	}

	entry := Entry{
		Action:      "flag." + action,
		ActionType:  actionType,
		Category:    CategorySettings,
		PerformedBy: actorID,
		TargetType:  "feature_flag",
		TargetID:    flag.ID,
		TargetName:  flag.Name,
		Description: flagChangeDescription(flag.Key, action, reason),
		Changes:     changesFromFields(fieldChanges, summary),
	}
	r.Record(ctx, entry)
}

func flagChangeDescription(key, action, reason string) string {
	desc := "Feature flag " + key + " " + action
	if reason != "" {
		desc += ": " + reason
	}
	return desc
}

// changesFromFields converts the flag service's field diffs into the
// structured Changes shape.
func changesFromFields(fieldChanges map[string]models.FieldChange, summary string) *Changes {
	if len(fieldChanges) == 0 && summary == "" {
		return nil
	}
	changes := &Changes{Summary: summary}
	if len(fieldChanges) > 0 {
		changes.Before = make(map[string]any, len(fieldChanges))
		changes.After = make(map[string]any, len(fieldChanges))
		for field, change := range fieldChanges {
			changes.Before[field] = change.Before
			changes.After[field] = change.After
			changes.FieldsChanged = append(changes.FieldsChanged, field)
		}
		sort.Strings(changes.FieldsChanged)
	}
	return changes
}
