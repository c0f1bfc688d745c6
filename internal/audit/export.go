// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Exporter renders a full entry set into a downloadable format.
type Exporter interface {
	// Export renders the entries.
	Export(entries []Entry) ([]byte, error)

	// ContentType is the MIME type of the rendered output.
	ContentType() string

	// Extension is the file extension without the dot.
	Extension() string
}

// ExportFilename builds the download filename for an export taken at ts,
// e.g. audit-log-2026-09-01.csv.
func ExportFilename(ts time.Time, ext string) string {
	return fmt.Sprintf("audit-log-%s.%s", ts.UTC().Format("2006-01-02"), ext)
}

// NewExporter returns the exporter for a format name, or nil for an
// unrecognized format.
func NewExporter(format string) Exporter {
	switch format {
	case "json":
		return &JSONExporter{}
	case "csv":
		return &CSVExporter{}
	default:
		return nil
	}
}

// JSONExporter exports entries as the raw structured list.
type JSONExporter struct{}

// Export implements Exporter.
func (e *JSONExporter) Export(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// ContentType implements Exporter.
func (e *JSONExporter) ContentType() string { return "application/json" }

// Extension implements Exporter.
func (e *JSONExporter) Extension() string { return "json" }

// csvHeader is the fixed column order of the flattened export. Downstream
// compliance tooling depends on it; do not reorder.
var csvHeader = []string{
	"timestamp",
	"action",
	"action_type",
	"category",
	"performed_by_name",
	"performed_by_role",
	"target_type",
	"target_id",
	"target_name",
	"ip_address",
	"description",
	"change_summary",
	"severity",
}

// CSVExporter exports entries as a flattened delimited table.
type CSVExporter struct{}

// Export implements Exporter.
func (e *CSVExporter) Export(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range entries {
		entry := &entries[i]
		summary := ""
		if entry.Changes != nil {
			summary = entry.Changes.Summary
		}
		record := []string{
			entry.Timestamp.UTC().Format(time.RFC3339),
			entry.Action,
			string(entry.ActionType),
			string(entry.Category),
			entry.PerformedByName,
			entry.PerformedByRole,
			entry.TargetType,
			entry.TargetID,
			entry.TargetName,
			entry.IPAddress,
			entry.Description,
			summary,
			string(entry.Severity),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// ContentType implements Exporter.
func (e *CSVExporter) ContentType() string { return "text/csv" }

// Extension implements Exporter.
func (e *CSVExporter) Extension() string { return "csv" }
