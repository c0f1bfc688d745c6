// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package models defines the flag domain types shared across Flagwarden:
// the FeatureFlag aggregate with its targeting configuration and embedded
// change trail, the caller Identity used during evaluation, and the filter
// and statistics types consumed by the listing and reporting layers.
//
// The generic audit log has its own types in internal/audit; the TrailEntry
// here is the flag's private history and deliberately independent of it.
package models
