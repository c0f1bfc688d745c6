// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package flags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/flagwarden/flagwarden/internal/logging"
	"github.com/flagwarden/flagwarden/internal/models"
)

// DuckDBStore implements Store using DuckDB for persistent storage.
//
// Sub-lists (targeting, overrides, experiments, beta access, configuration,
// audit trail) live in JSON columns on the flags row, so a mutation and its
// trail append are one UPDATE and therefore atomic.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a new DuckDB-backed flag store.
// The caller is responsible for ensuring the flags table exists.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the flags table if it doesn't exist.
// This should be called during database initialization.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS flags (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT,
			category TEXT NOT NULL,

			enabled BOOLEAN NOT NULL,
			status TEXT NOT NULL,

			rollout_type TEXT NOT NULL,
			rollout_percentage INTEGER NOT NULL,

			-- Embedded sub-lists as JSON, written with the row
			target_organizations JSON,
			target_users JSON,
			target_roles JSON,
			target_regions JSON,
			regional_overrides JSON,
			configuration JSON,
			experiments JSON,
			beta_access JSON,
			tags JSON,
			audit_trail JSON,

			priority INTEGER NOT NULL DEFAULT 0,

			created_by TEXT NOT NULL,
			updated_by TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_flags_key ON flags(key);
		CREATE INDEX IF NOT EXISTS idx_flags_status ON flags(status);
		CREATE INDEX IF NOT EXISTS idx_flags_category ON flags(category);
		CREATE INDEX IF NOT EXISTS idx_flags_priority ON flags(priority DESC, created_at DESC)
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

	logging.Info().Msg("Flags table created/verified")
	return nil
}

const flagColumns = `
	id, key, name, description, category,
	enabled, status, rollout_type, rollout_percentage,
	CAST(target_organizations AS VARCHAR),
	CAST(target_users AS VARCHAR),
	CAST(target_roles AS VARCHAR),
	CAST(target_regions AS VARCHAR),
	CAST(regional_overrides AS VARCHAR),
	CAST(configuration AS VARCHAR),
	CAST(experiments AS VARCHAR),
	CAST(beta_access AS VARCHAR),
	CAST(tags AS VARCHAR),
	CAST(audit_trail AS VARCHAR),
	priority, created_by, updated_by, created_at, updated_at
`

// Create implements Store.
func (s *DuckDBStore) Create(ctx context.Context, flag *models.FeatureFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flags WHERE key = ?", flag.Key).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if exists > 0 {
		return ErrDuplicateKey
	}

	query := `
		INSERT INTO flags (
			id, key, name, description, category,
			enabled, status, rollout_type, rollout_percentage,
			target_organizations, target_users, target_roles, target_regions,
			regional_overrides, configuration, experiments, beta_access, tags, audit_trail,
			priority, created_by, updated_by, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?
		)
	`
	if _, err := s.db.ExecContext(ctx, query, flagParams(flag)...); err != nil {
		return fmt.Errorf("failed to insert flag: %w", err)
	}
	return nil
}

// flagParams prepares insert/update parameters in column order.
func flagParams(flag *models.FeatureFlag) []any {
	return []any{
		flag.ID,
		flag.Key,
		flag.Name,
		flag.Description,
		string(flag.Category),
		flag.Enabled,
		string(flag.Status),
		string(flag.RolloutType),
		flag.RolloutPercentage,
		marshalJSON(flag.TargetOrganizations),
		marshalJSON(flag.TargetUsers),
		marshalJSON(flag.TargetRoles),
		marshalJSON(flag.TargetRegions),
		marshalJSON(flag.RegionalOverrides),
		marshalJSON(flag.Configuration),
		marshalJSON(flag.Experiments),
		marshalJSON(flag.BetaAccess),
		marshalJSON(flag.Tags),
		marshalJSON(flag.AuditTrail),
		flag.Priority,
		flag.CreatedBy,
		flag.UpdatedBy,
		flag.CreatedAt,
		flag.UpdatedAt,
	}
}

// marshalJSON marshals v to a JSON string for a DuckDB JSON column.
func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// Get implements Store. Resolves by ID first, then by key.
func (s *DuckDBStore) Get(ctx context.Context, identifier string) (*models.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + flagColumns + " FROM flags WHERE id = ?"
	flag, err := s.scanFlag(s.db.QueryRowContext(ctx, query, identifier))
	if err == nil {
		return flag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get flag: %w", err)
	}

	query = "SELECT " + flagColumns + " FROM flags WHERE key = ?"
	flag, err = s.scanFlag(s.db.QueryRowContext(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flag: %w", err)
	}
	return flag, nil
}

// GetByKey implements Store.
func (s *DuckDBStore) GetByKey(ctx context.Context, key string) (*models.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + flagColumns + " FROM flags WHERE key = ?"
	flag, err := s.scanFlag(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get flag by key: %w", err)
	}
	return flag, nil
}

// Update implements Store. The whole row is rewritten in one statement so the
// field changes and the trail append land together.
func (s *DuckDBStore) Update(ctx context.Context, flag *models.FeatureFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE flags SET
			key = ?, name = ?, description = ?, category = ?,
			enabled = ?, status = ?, rollout_type = ?, rollout_percentage = ?,
			target_organizations = ?, target_users = ?, target_roles = ?, target_regions = ?,
			regional_overrides = ?, configuration = ?, experiments = ?, beta_access = ?, tags = ?, audit_trail = ?,
			priority = ?, created_by = ?, updated_by = ?, created_at = ?, updated_at = ?
		WHERE id = ?
	`
	params := flagParams(flag)
	// Shift ID from the front of the column order to the WHERE clause.
	params = append(params[1:], flag.ID)

	result, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to update flag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get update count: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *DuckDBStore) List(ctx context.Context, filter models.ListFilter) ([]*models.FeatureFlag, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions, args := buildListConditions(filter)
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flags"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count flags: %w", err)
	}

	query := "SELECT " + flagColumns + " FROM flags" + where + " ORDER BY priority DESC, created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flags: %w", err)
	}
	defer rows.Close()

	var out []*models.FeatureFlag
	for rows.Next() {
		flag, err := s.scanFlagFromRows(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan flag row")
			continue
		}
		out = append(out, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating flags: %w", err)
	}
	return out, total, nil
}

func buildListConditions(filter models.ListFilter) ([]string, []any) {
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(filter.Category))
	}
	if filter.Enabled != nil {
		conditions = append(conditions, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.Search != "" {
		conditions = append(conditions,
			"(LOWER(name) LIKE ? OR LOWER(key) LIKE ? OR LOWER(description) LIKE ? OR LOWER(CAST(tags AS VARCHAR)) LIKE ?)")
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, pattern, pattern, pattern, pattern)
	}
	return conditions, args
}

// Stats implements Store.
func (s *DuckDBStore) Stats(ctx context.Context) (*models.FlagStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.FlagStats{
		ByCategory: make(map[string]int),
		ByStatus:   make(map[string]int),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE enabled),
			COUNT(*) FILTER (WHERE NOT enabled),
			COUNT(*) FILTER (WHERE regional_overrides IS NOT NULL
				AND CAST(regional_overrides AS VARCHAR) NOT IN ('null', '{}')),
			COUNT(*) FILTER (WHERE experiments IS NOT NULL
				AND CAST(experiments AS VARCHAR) LIKE '%"status":"active"%')
		FROM flags
	`)
	if err := row.Scan(&stats.Total, &stats.Enabled, &stats.Disabled,
		&stats.WithRegionalOverrides, &stats.WithActiveExperiments); err != nil {
		return nil, fmt.Errorf("failed to get flag totals: %w", err)
	}

	for _, col := range []struct {
		column string
		into   map[string]int
	}{
		{"category", stats.ByCategory},
		{"status", stats.ByStatus},
	} {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT %s, COUNT(*) FROM flags GROUP BY %s", col.column, col.column))
		if err != nil {
			return nil, fmt.Errorf("failed to get %s counts: %w", col.column, err)
		}
		for rows.Next() {
			var key string
			var count int
			if err := rows.Scan(&key, &count); err == nil {
				col.into[key] = count
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating %s counts: %w", col.column, err)
		}
		rows.Close()
	}
	return stats, nil
}

// Close implements Store. The shared *sql.DB is owned by the database
// package, so nothing to release here.
func (s *DuckDBStore) Close() error {
	return nil
}

// scannedFlagData holds raw scanned values from the database.
type scannedFlagData struct {
	flag        models.FeatureFlag
	description sql.NullString
	category    string
	status      string
	rolloutType string
	targetOrgs  sql.NullString
	targetUsers sql.NullString
	targetRoles sql.NullString
	targetRegns sql.NullString
	overrides   sql.NullString
	config      sql.NullString
	experiments sql.NullString
	betaAccess  sql.NullString
	tags        sql.NullString
	auditTrail  sql.NullString
	updatedBy   sql.NullString
}

func (d *scannedFlagData) scanDestinations() []any {
	return []any{
		&d.flag.ID,
		&d.flag.Key,
		&d.flag.Name,
		&d.description,
		&d.category,
		&d.flag.Enabled,
		&d.status,
		&d.rolloutType,
		&d.flag.RolloutPercentage,
		&d.targetOrgs,
		&d.targetUsers,
		&d.targetRoles,
		&d.targetRegns,
		&d.overrides,
		&d.config,
		&d.experiments,
		&d.betaAccess,
		&d.tags,
		&d.auditTrail,
		&d.flag.Priority,
		&d.flag.CreatedBy,
		&d.updatedBy,
		&d.flag.CreatedAt,
		&d.flag.UpdatedAt,
	}
}

func (d *scannedFlagData) toFlag() *models.FeatureFlag {
	d.flag.Description = d.description.String
	d.flag.Category = models.FlagCategory(d.category)
	d.flag.Status = models.FlagStatus(d.status)
	d.flag.RolloutType = models.RolloutType(d.rolloutType)
	d.flag.UpdatedBy = d.updatedBy.String

	unmarshalColumn(d.targetOrgs, &d.flag.TargetOrganizations)
	unmarshalColumn(d.targetUsers, &d.flag.TargetUsers)
	unmarshalColumn(d.targetRoles, &d.flag.TargetRoles)
	unmarshalColumn(d.targetRegns, &d.flag.TargetRegions)
	unmarshalColumn(d.overrides, &d.flag.RegionalOverrides)
	unmarshalColumn(d.config, &d.flag.Configuration)
	unmarshalColumn(d.experiments, &d.flag.Experiments)
	unmarshalColumn(d.betaAccess, &d.flag.BetaAccess)
	unmarshalColumn(d.tags, &d.flag.Tags)
	unmarshalColumn(d.auditTrail, &d.flag.AuditTrail)

	return &d.flag
}

// unmarshalColumn parses a JSON column into dst, ignoring null/empty values.
func unmarshalColumn(col sql.NullString, dst any) {
	if !col.Valid || col.String == "" || col.String == "null" {
		return
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		logging.Debug().Err(err).Msg("Failed to parse flag JSON column")
	}
}

func (s *DuckDBStore) scanFlag(row *sql.Row) (*models.FeatureFlag, error) {
	var data scannedFlagData
	if err := row.Scan(data.scanDestinations()...); err != nil {
		return nil, err
	}
	return data.toFlag(), nil
}

func (s *DuckDBStore) scanFlagFromRows(rows *sql.Rows) (*models.FeatureFlag, error) {
	var data scannedFlagData
	if err := rows.Scan(data.scanDestinations()...); err != nil {
		return nil, err
	}
	return data.toFlag(), nil
}
