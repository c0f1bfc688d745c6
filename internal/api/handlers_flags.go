// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flagwarden/flagwarden/internal/flags"
	"github.com/flagwarden/flagwarden/internal/models"
	"github.com/flagwarden/flagwarden/internal/validation"
)

// EvaluateFlag answers the public evaluation query. It never exposes flag
// internals: the response is only the enabled verdict and, when on, the
// configuration payload.
func (h *Handlers) EvaluateFlag(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	key := r.URL.Query().Get("key")
	if key == "" {
		rw.BadRequest("key query parameter is required")
		return
	}

	identity := models.Identity{
		UserID: r.URL.Query().Get("user_id"),
		OrgID:  r.URL.Query().Get("org_id"),
		Region: r.URL.Query().Get("region"),
	}

	rw.Success(h.flags.Evaluate(r.Context(), key, identity))
}

// ListFlags returns flags matching the query filters, newest first within
// priority order.
func (h *Handlers) ListFlags(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var enabled *bool
	switch r.URL.Query().Get("enabled") {
	case "true":
		v := true
		enabled = &v
	case "false":
		v := false
		enabled = &v
	}

	filter := models.ListFilter{
		Status:   models.FlagStatus(r.URL.Query().Get("status")),
		Category: models.FlagCategory(r.URL.Query().Get("category")),
		Enabled:  enabled,
		Search:   r.URL.Query().Get("search"),
		Limit:    queryInt(r, "limit", 50),
		Offset:   queryInt(r, "offset", 0),
	}

	list, total, err := h.flags.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.SuccessWithPagination(list, &PaginationMeta{
		Total:   int64(total),
		Count:   len(list),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: filter.Offset+len(list) < total,
	})
}

type createFlagRequest struct {
	Key                 string         `json:"key" validate:"required,flagkey,max=128"`
	Name                string         `json:"name" validate:"required,max=256"`
	Description         string         `json:"description" validate:"max=2048"`
	Category            string         `json:"category" validate:"omitempty,max=64"`
	Enabled             bool           `json:"enabled"`
	RolloutType         string         `json:"rollout_type" validate:"omitempty,max=64"`
	RolloutPercentage   *int           `json:"rollout_percentage" validate:"omitempty,gte=0,lte=100"`
	TargetOrganizations []string       `json:"target_organizations"`
	TargetUsers         []string       `json:"target_users"`
	TargetRoles         []string       `json:"target_roles"`
	TargetRegions       []string       `json:"target_regions"`
	Configuration       map[string]any `json:"configuration"`
	Tags                []string       `json:"tags"`
	Priority            int            `json:"priority"`
}

// CreateFlag creates a flag and returns it with its initial trail entry.
func (h *Handlers) CreateFlag(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req createFlagRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	flag, err := h.flags.Create(r.Context(), flags.CreateInput{
		Key:                 req.Key,
		Name:                req.Name,
		Description:         req.Description,
		Category:            models.FlagCategory(req.Category),
		Enabled:             req.Enabled,
		RolloutType:         models.RolloutType(req.RolloutType),
		RolloutPercentage:   req.RolloutPercentage,
		TargetOrganizations: req.TargetOrganizations,
		TargetUsers:         req.TargetUsers,
		TargetRoles:         req.TargetRoles,
		TargetRegions:       req.TargetRegions,
		Configuration:       req.Configuration,
		Tags:                req.Tags,
		Priority:            req.Priority,
	}, actorID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Created(flag)
}

// GetFlag resolves a flag by internal ID or key.
func (h *Handlers) GetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := h.flags.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(flag)
}

// FlagStats returns aggregate counts across all flags.
func (h *Handlers) FlagStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.flags.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	NewResponseWriter(w, r).Success(stats)
}

type updateFlagRequest struct {
	Name                *string        `json:"name" validate:"omitempty,max=256"`
	Description         *string        `json:"description" validate:"omitempty,max=2048"`
	Category            *string        `json:"category"`
	Enabled             *bool          `json:"enabled"`
	Status              *string        `json:"status"`
	RolloutType         *string        `json:"rollout_type"`
	RolloutPercentage   *int           `json:"rollout_percentage" validate:"omitempty,gte=0,lte=100"`
	TargetOrganizations []string       `json:"target_organizations"`
	TargetUsers         []string       `json:"target_users"`
	TargetRoles         []string       `json:"target_roles"`
	TargetRegions       []string       `json:"target_regions"`
	Configuration       map[string]any `json:"configuration"`
	Tags                []string       `json:"tags"`
	Priority            *int           `json:"priority"`
	Reason              string         `json:"reason" validate:"max=1024"`
}

// UpdateFlag applies a partial update. Absent fields are untouched.
func (h *Handlers) UpdateFlag(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req updateFlagRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	input := flags.UpdateInput{
		Name:                req.Name,
		Description:         req.Description,
		Enabled:             req.Enabled,
		RolloutPercentage:   req.RolloutPercentage,
		TargetOrganizations: req.TargetOrganizations,
		TargetUsers:         req.TargetUsers,
		TargetRoles:         req.TargetRoles,
		TargetRegions:       req.TargetRegions,
		Configuration:       req.Configuration,
		Tags:                req.Tags,
		Priority:            req.Priority,
		Reason:              req.Reason,
	}
	if req.Category != nil {
		category := models.FlagCategory(*req.Category)
		input.Category = &category
	}
	if req.Status != nil {
		status := models.FlagStatus(*req.Status)
		input.Status = &status
	}
	if req.RolloutType != nil {
		rollout := models.RolloutType(*req.RolloutType)
		input.RolloutType = &rollout
	}

	flag, err := h.flags.Update(r.Context(), chi.URLParam(r, "id"), input, actorID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(flag)
}

type toggleFlagRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason" validate:"max=1024"`
}

// ToggleFlag flips the enabled bit, applying the status auto-transition.
func (h *Handlers) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req toggleFlagRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}

	flag, err := h.flags.Toggle(r.Context(), chi.URLParam(r, "id"), req.Enabled, actorID(r), req.Reason)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(flag)
}

type rolloutRequest struct {
	Percentage int    `json:"percentage" validate:"gte=0,lte=100"`
	Reason     string `json:"reason" validate:"max=1024"`
}

// SetRollout updates the flag's rollout percentage.
func (h *Handlers) SetRollout(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req rolloutRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	flag, err := h.flags.SetRolloutPercentage(r.Context(), chi.URLParam(r, "id"), req.Percentage, actorID(r), req.Reason)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(flag)
}

type overrideRequest struct {
	Enabled           *bool  `json:"enabled"`
	RolloutPercentage *int   `json:"rollout_percentage" validate:"omitempty,gte=0,lte=100"`
	Notes             string `json:"notes" validate:"max=1024"`
}

// UpsertOverride replaces the regional override for the region in the URL.
func (h *Handlers) UpsertOverride(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	region := chi.URLParam(r, "region")

	var req overrideRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	flag, err := h.flags.UpsertRegionalOverride(r.Context(), chi.URLParam(r, "id"), region, flags.OverrideInput{
		Enabled:           req.Enabled,
		RolloutPercentage: req.RolloutPercentage,
		Notes:             req.Notes,
	}, actorID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(flag)
}

type experimentRequest struct {
	Name       string     `json:"name" validate:"required,max=256"`
	Variant    string     `json:"variant"`
	Percentage *int       `json:"percentage" validate:"omitempty,gte=0,lte=100"`
	Metrics    []string   `json:"metrics"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
	Status     string     `json:"status"`
}

// AddExperiment attaches an experiment record to the flag.
func (h *Handlers) AddExperiment(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req experimentRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	flag, err := h.flags.AddExperiment(r.Context(), chi.URLParam(r, "id"), flags.ExperimentInput{
		Name:       req.Name,
		Variant:    models.ExperimentVariant(req.Variant),
		Percentage: req.Percentage,
		Metrics:    req.Metrics,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Status:     models.ExperimentStatus(req.Status),
	}, actorID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(flag)
}

type betaAccessRequest struct {
	Enabled           *bool    `json:"enabled"`
	AccessLevel       *string  `json:"access_level"`
	BetaUsers         []string `json:"beta_users"`
	BetaOrganizations []string `json:"beta_organizations"`
	BetaKey           *string  `json:"beta_key" validate:"omitempty,max=256"`
}

// UpdateBetaAccess merges the supplied beta access fields.
func (h *Handlers) UpdateBetaAccess(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req betaAccessRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	input := flags.BetaAccessInput{
		Enabled:           req.Enabled,
		BetaUsers:         req.BetaUsers,
		BetaOrganizations: req.BetaOrganizations,
		BetaKey:           req.BetaKey,
	}
	if req.AccessLevel != nil {
		level := models.BetaAccessLevel(*req.AccessLevel)
		input.AccessLevel = &level
	}

	flag, err := h.flags.UpdateBetaAccess(r.Context(), chi.URLParam(r, "id"), input, actorID(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	rw.Success(flag)
}
