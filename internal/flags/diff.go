// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package flags

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/flagwarden/flagwarden/internal/models"
)

// changeSet accumulates field-level diffs for one mutation. All touched
// fields end up in a single trail entry, not one entry per field.
type changeSet map[string]models.FieldChange

// add records a change when before and after differ.
func (c changeSet) add(field string, before, after any) {
	if reflect.DeepEqual(before, after) {
		return
	}
	c[field] = models.FieldChange{Before: before, After: after}
}

// fields returns the changed field names, sorted for stable summaries.
func (c changeSet) fields() []string {
	out := make([]string, 0, len(c))
	for field := range c {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// summary renders a human-readable one-liner like
// "enabled: false -> true; status: draft -> active".
func (c changeSet) summary() string {
	parts := make([]string, 0, len(c))
	for _, field := range c.fields() {
		change := c[field]
		parts = append(parts, fmt.Sprintf("%s: %v -> %v", field, change.Before, change.After))
	}
	return strings.Join(parts, "; ")
}
