// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package directory

import (
	"context"

	"github.com/flagwarden/flagwarden/internal/audit"
)

// AuditResolver adapts a Directory to the audit recorder's resolver
// boundary.
type AuditResolver struct {
	dir Directory
}

// NewAuditResolver wraps a directory for audit enrichment.
func NewAuditResolver(dir Directory) *AuditResolver {
	return &AuditResolver{dir: dir}
}

// ResolveUser implements audit.ActorResolver.
func (r *AuditResolver) ResolveUser(ctx context.Context, id string) (*audit.ActorInfo, error) {
	user, err := r.dir.ResolveUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return &audit.ActorInfo{
		DisplayName: user.DisplayName,
		Email:       user.Email,
		Role:        user.Role,
	}, nil
}
