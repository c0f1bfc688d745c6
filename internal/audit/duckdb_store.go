// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/flagwarden/flagwarden/internal/logging"
)

// DuckDBStore implements Store using DuckDB for persistent storage.
// This provides durable audit logging suitable for production use.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a new DuckDB-backed audit store.
// The caller is responsible for ensuring the audit_entries table exists.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_entries table if it doesn't exist.
// This should be called during database initialization.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,

			action TEXT NOT NULL,
			action_type TEXT NOT NULL,
			category TEXT NOT NULL,

			-- Performer, denormalized at write time
			performed_by TEXT NOT NULL,
			performed_by_name TEXT,
			performed_by_email TEXT,
			performed_by_role TEXT,

			target_type TEXT,
			target_id TEXT,
			target_name TEXT,
			target_identifier TEXT,

			description TEXT,
			changes JSON,

			-- Request metadata
			request_method TEXT,
			request_path TEXT,
			request_id TEXT,
			ip_address TEXT,
			user_agent TEXT,

			organization_id TEXT,
			tenant_id TEXT,

			metadata JSON,
			severity TEXT NOT NULL,
			compliance_flags JSON,

			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for the reporting query patterns
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_performer ON audit_entries(performed_by, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_entries(target_type, target_id, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_category_action ON audit_entries(category, action_type, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_org ON audit_entries(organization_id, timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_severity ON audit_entries(severity, timestamp DESC)
	`

	statements := strings.Split(query, ";")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit entries table created/verified")
	return nil
}

// Save persists an audit entry to DuckDB.
func (s *DuckDBStore) Save(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	query := `
		INSERT INTO audit_entries (
			id, timestamp, action, action_type, category,
			performed_by, performed_by_name, performed_by_email, performed_by_role,
			target_type, target_id, target_name, target_identifier,
			description, changes,
			request_method, request_path, request_id, ip_address, user_agent,
			organization_id, tenant_id,
			metadata, severity, compliance_flags, created_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?, ?,
			?, ?,
			?, ?, ?, ?
		)
	`
	params := []any{
		entry.ID,
		entry.Timestamp,
		entry.Action,
		string(entry.ActionType),
		string(entry.Category),
		entry.PerformedBy,
		entry.PerformedByName,
		entry.PerformedByEmail,
		entry.PerformedByRole,
		entry.TargetType,
		entry.TargetID,
		entry.TargetName,
		entry.TargetIdentifier,
		entry.Description,
		marshalNullable(entry.Changes),
		entry.RequestMethod,
		entry.RequestPath,
		entry.RequestID,
		entry.IPAddress,
		entry.UserAgent,
		entry.OrganizationID,
		entry.TenantID,
		marshalNullable(entry.Metadata),
		string(entry.Severity),
		marshalNullable(entry.ComplianceFlags),
		time.Now().UTC(),
	}

	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	return nil
}

// marshalNullable marshals v to a JSON string, or nil for empty values.
func marshalNullable(v any) *string {
	switch value := v.(type) {
	case *Changes:
		if value == nil {
			return nil
		}
	case map[string]any:
		if len(value) == 0 {
			return nil
		}
	case []string:
		if len(value) == 0 {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := string(data)
	return &out
}

const entryColumns = `
	id, timestamp, action, action_type, category,
	performed_by, performed_by_name, performed_by_email, performed_by_role,
	target_type, target_id, target_name, target_identifier,
	description,
	CAST(changes AS VARCHAR),
	request_method, request_path, request_id, ip_address, user_agent,
	organization_id, tenant_id,
	CAST(metadata AS VARCHAR),
	severity,
	CAST(compliance_flags AS VARCHAR)
`

// Get retrieves an entry by ID.
func (s *DuckDBStore) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + entryColumns + " FROM audit_entries WHERE id = ?"
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

// Query retrieves entries matching the filter, newest first.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions, args := buildFilterConditions(filter)
	query := "SELECT " + entryColumns + " FROM audit_entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntryFromRows(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit entry row")
			continue
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions, args := buildFilterConditions(filter)
	query := "SELECT COUNT(*) FROM audit_entries"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// Stats aggregates breakdowns over entries matching the filter.
func (s *DuckDBStore) Stats(ctx context.Context, filter QueryFilter) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions, args := buildFilterConditions(filter)
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	stats := &Stats{
		ByCategory:   make(map[string]int64),
		ByActionType: make(map[string]int64),
		BySeverity:   make(map[string]int64),
	}

	var oldest, newest sql.NullTime
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM audit_entries"+where, args...)
	if err := row.Scan(&stats.TotalEntries, &oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}
	if oldest.Valid {
		stats.OldestEntry = &oldest.Time
	}
	if newest.Valid {
		stats.NewestEntry = &newest.Time
	}

	for _, group := range []struct {
		column string
		into   map[string]int64
	}{
		{"category", stats.ByCategory},
		{"action_type", stats.ByActionType},
		{"severity", stats.BySeverity},
	} {
		counts, err := s.countByColumn(ctx, group.column, where, args)
		if err != nil {
			return nil, err
		}
		for k, v := range counts {
			group.into[k] = v
		}
	}

	performers, err := s.topPerformers(ctx, where, args, 10)
	if err != nil {
		return nil, err
	}
	stats.TopPerformers = performers

	return stats, nil
}

// countByColumn executes a GROUP BY query and returns counts per value.
func (s *DuckDBStore) countByColumn(ctx context.Context, column, where string, args []any) (map[string]int64, error) {
	result := make(map[string]int64)
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_entries%s GROUP BY %s", column, where, column)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s counts: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err == nil {
			result[key] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return result, nil
}

// topPerformers returns the most active performers by entry count.
func (s *DuckDBStore) topPerformers(ctx context.Context, where string, args []any, limit int) ([]PerformerActivity, error) {
	query := fmt.Sprintf(`
		SELECT performed_by, COALESCE(MAX(performed_by_name), ''), COUNT(*)
		FROM audit_entries%s
		GROUP BY performed_by
		ORDER BY COUNT(*) DESC, performed_by ASC
		LIMIT %d
	`, where, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get top performers: %w", err)
	}
	defer rows.Close()

	var out []PerformerActivity
	for rows.Next() {
		var activity PerformerActivity
		if err := rows.Scan(&activity.PerformedBy, &activity.PerformedByName, &activity.Count); err == nil {
			out = append(out, activity)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top performers: %w", err)
	}
	return out, nil
}

// Delete removes entries older than the given time.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_entries WHERE timestamp < ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit entries: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", olderThan).Msg("Deleted old audit entries")
	}
	return count, nil
}

// Close implements Store. The shared *sql.DB is owned by the database
// package, so nothing to release here.
func (s *DuckDBStore) Close() error {
	return nil
}

// buildFilterConditions builds WHERE clause conditions from a QueryFilter.
func buildFilterConditions(filter QueryFilter) ([]string, []any) {
	var conditions []string
	var args []any

	if cond := buildSliceCondition("action_type", filter.ActionTypes, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("category", filter.Categories, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("severity", filter.Severities, &args); cond != "" {
		conditions = append(conditions, cond)
	}

	conditions, args = appendStringCondition(conditions, args, "performed_by", filter.PerformedBy)
	conditions, args = appendStringCondition(conditions, args, "target_type", filter.TargetType)
	conditions, args = appendStringCondition(conditions, args, "target_id", filter.TargetID)
	conditions, args = appendStringCondition(conditions, args, "organization_id", filter.OrganizationID)
	conditions, args = appendStringCondition(conditions, args, "tenant_id", filter.TenantID)

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filter.EndTime)
	}

	if filter.SearchText != "" {
		conditions = append(conditions,
			"(LOWER(action) LIKE ? OR LOWER(description) LIKE ? OR LOWER(performed_by_name) LIKE ? OR LOWER(target_name) LIKE ?)")
		pattern := "%" + strings.ToLower(filter.SearchText) + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}

	return conditions, args
}

// buildSliceCondition creates a SQL IN condition for a slice of enum values.
func buildSliceCondition[T ~string](column string, values []T, args *[]any) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

// appendStringCondition adds a string equality condition if value is non-empty.
func appendStringCondition(conditions []string, args []any, column, value string) ([]string, []any) {
	if value != "" {
		conditions = append(conditions, column+" = ?")
		args = append(args, value)
	}
	return conditions, args
}

// scannedEntryData holds raw scanned values from the database.
type scannedEntryData struct {
	entry      Entry
	actionType string
	category   string
	severity   string
	optional   [14]sql.NullString
	changes    sql.NullString
	metadata   sql.NullString
	compliance sql.NullString
}

func (d *scannedEntryData) scanDestinations() []any {
	return []any{
		&d.entry.ID,
		&d.entry.Timestamp,
		&d.entry.Action,
		&d.actionType,
		&d.category,
		&d.entry.PerformedBy,
		&d.optional[0],  // performed_by_name
		&d.optional[1],  // performed_by_email
		&d.optional[2],  // performed_by_role
		&d.optional[3],  // target_type
		&d.optional[4],  // target_id
		&d.optional[5],  // target_name
		&d.optional[6],  // target_identifier
		&d.optional[7],  // description
		&d.changes,
		&d.optional[8],  // request_method
		&d.optional[9],  // request_path
		&d.optional[10], // request_id
		&d.optional[11], // ip_address
		&d.optional[12], // user_agent
		&d.optional[13], // organization_id
		&d.entry.TenantID,
		&d.metadata,
		&d.severity,
		&d.compliance,
	}
}

func (d *scannedEntryData) toEntry() *Entry {
	d.entry.ActionType = ActionType(d.actionType)
	d.entry.Category = Category(d.category)
	d.entry.Severity = Severity(d.severity)

	d.entry.PerformedByName = d.optional[0].String
	d.entry.PerformedByEmail = d.optional[1].String
	d.entry.PerformedByRole = d.optional[2].String
	d.entry.TargetType = d.optional[3].String
	d.entry.TargetID = d.optional[4].String
	d.entry.TargetName = d.optional[5].String
	d.entry.TargetIdentifier = d.optional[6].String
	d.entry.Description = d.optional[7].String
	d.entry.RequestMethod = d.optional[8].String
	d.entry.RequestPath = d.optional[9].String
	d.entry.RequestID = d.optional[10].String
	d.entry.IPAddress = d.optional[11].String
	d.entry.UserAgent = d.optional[12].String
	d.entry.OrganizationID = d.optional[13].String

	if d.changes.Valid && d.changes.String != "" {
		var changes Changes
		if err := json.Unmarshal([]byte(d.changes.String), &changes); err == nil {
			d.entry.Changes = &changes
		}
	}
	if d.metadata.Valid && d.metadata.String != "" {
		if err := json.Unmarshal([]byte(d.metadata.String), &d.entry.Metadata); err != nil {
			logging.Debug().Err(err).Msg("Failed to parse audit metadata JSON")
		}
	}
	if d.compliance.Valid && d.compliance.String != "" {
		if err := json.Unmarshal([]byte(d.compliance.String), &d.entry.ComplianceFlags); err != nil {
			logging.Debug().Err(err).Msg("Failed to parse compliance flags JSON")
		}
	}

	return &d.entry
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var data scannedEntryData
	if err := row.Scan(data.scanDestinations()...); err != nil {
		return nil, err
	}
	return data.toEntry(), nil
}

func scanEntryFromRows(rows *sql.Rows) (*Entry, error) {
	var data scannedEntryData
	if err := rows.Scan(data.scanDestinations()...); err != nil {
		return nil, err
	}
	return data.toEntry(), nil
}
