// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	entries []Entry
	mu      sync.RWMutex
	maxLen  int
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		entries: make([]Entry, 0, maxLen),
		maxLen:  maxLen,
	}
}

// Save persists an audit entry.
func (s *MemoryStore) Save(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Enforce max length by removing the oldest 10%
	if len(s.entries) >= s.maxLen {
		removeCount := s.maxLen / 10
		if removeCount < 1 {
			removeCount = 1
		}
		s.entries = s.entries[removeCount:]
	}

	s.entries = append(s.entries, *entry)
	return nil
}

// Get retrieves an entry by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.entries {
		if s.entries[i].ID == id {
			entry := s.entries[i]
			return &entry, nil
		}
	}
	return nil, ErrNotFound
}

// Query retrieves entries matching the filter, newest first.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Entry, 0)
	for i := range s.entries {
		if matchesFilter(&s.entries[i], &filter) {
			matched = append(matched, s.entries[i])
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Entry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// matchesFilter returns true if the entry matches all filter criteria.
//
//nolint:gocyclo // complexity inherent to multi-criteria filter matching
func matchesFilter(entry *Entry, filter *QueryFilter) bool {
	if filter.StartTime != nil && entry.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && entry.Timestamp.After(*filter.EndTime) {
		return false
	}
	if filter.PerformedBy != "" && entry.PerformedBy != filter.PerformedBy {
		return false
	}
	if filter.TargetType != "" && entry.TargetType != filter.TargetType {
		return false
	}
	if filter.TargetID != "" && entry.TargetID != filter.TargetID {
		return false
	}
	if filter.OrganizationID != "" && entry.OrganizationID != filter.OrganizationID {
		return false
	}
	if filter.TenantID != "" && entry.TenantID != filter.TenantID {
		return false
	}

	if len(filter.ActionTypes) > 0 && !containsEnum(filter.ActionTypes, entry.ActionType) {
		return false
	}
	if len(filter.Categories) > 0 && !containsEnum(filter.Categories, entry.Category) {
		return false
	}
	if len(filter.Severities) > 0 && !containsEnum(filter.Severities, entry.Severity) {
		return false
	}

	if filter.SearchText != "" {
		needle := strings.ToLower(filter.SearchText)
		if !strings.Contains(strings.ToLower(entry.Action), needle) &&
			!strings.Contains(strings.ToLower(entry.Description), needle) &&
			!strings.Contains(strings.ToLower(entry.PerformedByName), needle) &&
			!strings.Contains(strings.ToLower(entry.TargetName), needle) {
			return false
		}
	}
	return true
}

func containsEnum[T ~string](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Count returns the number of entries matching the filter.
func (s *MemoryStore) Count(_ context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for i := range s.entries {
		if matchesFilter(&s.entries[i], &filter) {
			count++
		}
	}
	return count, nil
}

// Stats aggregates breakdowns over entries matching the filter.
func (s *MemoryStore) Stats(_ context.Context, filter QueryFilter) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByCategory:   make(map[string]int64),
		ByActionType: make(map[string]int64),
		BySeverity:   make(map[string]int64),
	}

	performerCounts := make(map[string]*PerformerActivity)
	for i := range s.entries {
		entry := &s.entries[i]
		if !matchesFilter(entry, &filter) {
			continue
		}
		stats.TotalEntries++
		stats.ByCategory[string(entry.Category)]++
		stats.ByActionType[string(entry.ActionType)]++
		stats.BySeverity[string(entry.Severity)]++

		if entry.PerformedBy != "" {
			activity, ok := performerCounts[entry.PerformedBy]
			if !ok {
				activity = &PerformerActivity{
					PerformedBy:     entry.PerformedBy,
					PerformedByName: entry.PerformedByName,
				}
				performerCounts[entry.PerformedBy] = activity
			}
			activity.Count++
		}

		if stats.OldestEntry == nil || entry.Timestamp.Before(*stats.OldestEntry) {
			t := entry.Timestamp
			stats.OldestEntry = &t
		}
		if stats.NewestEntry == nil || entry.Timestamp.After(*stats.NewestEntry) {
			t := entry.Timestamp
			stats.NewestEntry = &t
		}
	}

	stats.TopPerformers = topPerformers(performerCounts, 10)
	return stats, nil
}

// topPerformers sorts performer counts descending and truncates to limit.
// Ties break on performer ID for stable output.
func topPerformers(counts map[string]*PerformerActivity, limit int) []PerformerActivity {
	out := make([]PerformerActivity, 0, len(counts))
	for _, activity := range counts {
		out = append(out, *activity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].PerformedBy < out[j].PerformedBy
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Delete removes entries older than the given time.
func (s *MemoryStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for i := range s.entries {
		if s.entries[i].Timestamp.Before(olderThan) {
			deleted++
		} else {
			kept = append(kept, s.entries[i])
		}
	}
	s.entries = kept
	return deleted, nil
}

// Clear removes all entries (for testing).
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
}

// Len returns the number of entries in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
