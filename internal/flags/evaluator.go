// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package flags

import (
	"math/rand/v2"

	"github.com/flagwarden/flagwarden/internal/models"
)

// bucket returns the percentage bucket (0-99) for an identity string.
// The hash is the sum of the string's character codes. It is deliberately
// not salted per flag: the same identity lands in the same bucket across
// every flag. Changing this would reshuffle every live percentage rollout.
func bucket(id string) int {
	sum := 0
	for _, r := range id {
		sum += int(r)
	}
	return sum % 100
}

// randDraw is swapped out in tests to make the global branch deterministic.
var randDraw = func() int { return rand.IntN(100) }

// EvaluateFlag applies the decision algorithm to an already-loaded flag.
// It is a pure function of the flag, the identity, and (for the global
// branch only) a fresh random draw.
//
// Order matters: lifecycle gate, global switch, regional override, then the
// rollout-type branch. The first gate that fails wins.
func EvaluateFlag(flag *models.FeatureFlag, identity models.Identity) bool {
	if flag == nil || flag.Status != models.StatusActive {
		return false
	}
	if !flag.Enabled {
		return false
	}

	// A regional override can fully disable the flag for a region or gate it
	// behind its own percentage. An override that does not block falls
	// through to the rollout branch below.
	if identity.Region != "" {
		if override, ok := flag.RegionalOverrides[identity.Region]; ok {
			if !override.Enabled {
				return false
			}
			if override.RolloutPercentage != nil && *override.RolloutPercentage < 100 {
				if bucket(identity.BucketID()) >= *override.RolloutPercentage {
					return false
				}
			}
		}
	}

	switch flag.RolloutType {
	case models.RolloutGlobal:
		if flag.RolloutPercentage == 100 {
			return true
		}
		// Fresh draw per call. Repeated evaluations for the same identity
		// may disagree on a partial global rollout.
		return randDraw() < flag.RolloutPercentage
	case models.RolloutPercentage:
		return bucket(identity.BucketID()) < flag.RolloutPercentage
	case models.RolloutSpecificOrgs:
		return identity.OrgID != "" && contains(flag.TargetOrganizations, identity.OrgID)
	case models.RolloutSpecificUsrs:
		return identity.UserID != "" && contains(flag.TargetUsers, identity.UserID)
	case models.RolloutRegional:
		return identity.Region != "" && contains(flag.TargetRegions, identity.Region)
	default:
		return false
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
