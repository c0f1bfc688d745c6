// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package flags

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/flagwarden/flagwarden/internal/models"
)

// Store persists feature flags. A flag and its embedded audit trail are one
// record: Update replaces the whole flag atomically, so a mutation and its
// trail append cannot be observed separately.
type Store interface {
	// Create persists a new flag. Returns ErrDuplicateKey if the key exists.
	Create(ctx context.Context, flag *models.FeatureFlag) error

	// Get resolves an identifier by internal ID first, then by key.
	// Returns ErrNotFound if neither resolves.
	Get(ctx context.Context, identifier string) (*models.FeatureFlag, error)

	// GetByKey looks up a flag by its key only. Used by the evaluation path.
	GetByKey(ctx context.Context, key string) (*models.FeatureFlag, error)

	// Update replaces the stored flag in a single write.
	// Returns ErrNotFound if the flag's ID is unknown.
	Update(ctx context.Context, flag *models.FeatureFlag) error

	// List returns flags matching the filter plus the unpaginated total,
	// sorted by priority descending then creation time descending.
	List(ctx context.Context, filter models.ListFilter) ([]*models.FeatureFlag, int, error)

	// Stats aggregates counts across all flags.
	Stats(ctx context.Context) (*models.FlagStats, error)

	// Close releases store resources.
	Close() error
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]*models.FeatureFlag // keyed by ID
	keys  map[string]string              // key -> ID
}

// NewMemoryStore creates an empty in-memory flag store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags: make(map[string]*models.FeatureFlag),
		keys:  make(map[string]string),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, flag *models.FeatureFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[flag.Key]; exists {
		return ErrDuplicateKey
	}
	s.flags[flag.ID] = flag.Clone()
	s.keys[flag.Key] = flag.ID
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, identifier string) (*models.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if flag, ok := s.flags[identifier]; ok {
		return flag.Clone(), nil
	}
	if id, ok := s.keys[identifier]; ok {
		return s.flags[id].Clone(), nil
	}
	return nil, ErrNotFound
}

// GetByKey implements Store.
func (s *MemoryStore) GetByKey(_ context.Context, key string) (*models.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.keys[key]; ok {
		return s.flags[id].Clone(), nil
	}
	return nil, ErrNotFound
}

// Update implements Store. Last write wins; no version check.
func (s *MemoryStore) Update(_ context.Context, flag *models.FeatureFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flags[flag.ID]; !ok {
		return ErrNotFound
	}
	s.flags[flag.ID] = flag.Clone()
	return nil
}

// List implements Store. Limit 0 means no limit.
func (s *MemoryStore) List(_ context.Context, filter models.ListFilter) ([]*models.FeatureFlag, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.FeatureFlag, 0, len(s.flags))
	for _, flag := range s.flags {
		if matchesFilter(flag, filter) {
			matched = append(matched, flag)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []*models.FeatureFlag{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	out := make([]*models.FeatureFlag, len(matched))
	for i, flag := range matched {
		out[i] = flag.Clone()
	}
	return out, total, nil
}

func matchesFilter(flag *models.FeatureFlag, filter models.ListFilter) bool {
	if filter.Status != "" && flag.Status != filter.Status {
		return false
	}
	if filter.Category != "" && flag.Category != filter.Category {
		return false
	}
	if filter.Enabled != nil && flag.Enabled != *filter.Enabled {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(flag.Name), needle) &&
			!strings.Contains(strings.ToLower(flag.Key), needle) &&
			!strings.Contains(strings.ToLower(flag.Description), needle) &&
			!containsFold(flag.Tags, needle) {
			return false
		}
	}
	return true
}

func containsFold(tags []string, needle string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (*models.FlagStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.FlagStats{
		ByCategory: make(map[string]int),
		ByStatus:   make(map[string]int),
	}
	for _, flag := range s.flags {
		stats.Total++
		if flag.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByCategory[string(flag.Category)]++
		stats.ByStatus[string(flag.Status)]++
		if len(flag.RegionalOverrides) > 0 {
			stats.WithRegionalOverrides++
		}
		for _, exp := range flag.Experiments {
			if exp.Status == models.ExperimentActive {
				stats.WithActiveExperiments++
				break
			}
		}
	}
	return stats, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
