// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"context"
	"time"

	"github.com/flagwarden/flagwarden/internal/logging"
	"github.com/flagwarden/flagwarden/internal/metrics"
)

// RetentionService periodically deletes entries older than the retention
// window. It implements suture.Service and runs under the supervisor tree.
//
// Only the generic audit log is pruned. Flag-embedded trails live with
// their flags and are never touched.
type RetentionService struct {
	store     Store
	retention time.Duration
	interval  time.Duration
}

// NewRetentionService creates a retention cleanup service. interval
// defaults to one hour when non-positive.
func NewRetentionService(store Store, retention, interval time.Duration) *RetentionService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionService{
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// Serve runs the cleanup loop until the context is canceled.
// A retention of zero disables pruning; the service just waits.
func (s *RetentionService) Serve(ctx context.Context) error {
	if s.retention <= 0 {
		logging.Info().Msg("Audit retention disabled, keeping entries forever")
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().
		Dur("retention", s.retention).
		Dur("interval", s.interval).
		Msg("Audit retention service started")

	// Prune once at startup, then on every tick.
	s.prune(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *RetentionService) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.store.Delete(ctx, cutoff)
	if err != nil {
		logging.Error().Err(err).Msg("Audit retention cleanup failed")
		return
	}
	if deleted > 0 {
		metrics.AuditEntriesPruned.Add(float64(deleted))
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *RetentionService) String() string {
	return "audit-retention"
}
