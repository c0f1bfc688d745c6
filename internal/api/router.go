// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flagwarden/flagwarden/internal/middleware"
)

// RouterConfig holds the HTTP-surface settings.
type RouterConfig struct {
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// Rate limits per endpoint class. Evaluation is on the hot path of every
// client and gets a permissive budget; exports are expensive and get a
// tight one.
var (
	rateLimitEvaluate = rateLimit{requests: 1000, window: time.Minute}
	rateLimitExport   = rateLimit{requests: 10, window: time.Minute}
)

type rateLimit struct {
	requests int
	window   time.Duration
}

// NewRouter assembles the chi router with the full middleware stack and
// all routes.
func NewRouter(cfg RouterConfig, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PrometheusMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", "X-Actor-ID"},
		MaxAge:         86400,
	}))

	limiter := newLimiter(cfg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/flags", func(r chi.Router) {
			// Public evaluation endpoint, permissive rate limit.
			r.With(limiter.custom(rateLimitEvaluate)).Get("/evaluate", h.EvaluateFlag)

			r.Group(func(r chi.Router) {
				r.Use(limiter.standard())

				r.Get("/", h.ListFlags)
				r.Post("/", h.CreateFlag)
				r.Get("/stats", h.FlagStats)
				r.Get("/{id}", h.GetFlag)
				r.Patch("/{id}", h.UpdateFlag)
				r.Post("/{id}/toggle", h.ToggleFlag)
				r.Post("/{id}/rollout", h.SetRollout)
				r.Put("/{id}/overrides/{region}", h.UpsertOverride)
				r.Post("/{id}/experiments", h.AddExperiment)
				r.Patch("/{id}/beta-access", h.UpdateBetaAccess)
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(limiter.standard())

			r.Get("/events", h.AuditTimeline)
			r.Post("/events", h.RecordAuditEvent)
			r.Get("/events/{id}", h.AuditDetails)
			r.Get("/stats", h.AuditStats)
			r.With(limiter.custom(rateLimitExport)).Get("/export", h.AuditExport)
			r.Get("/targets/{type}/{id}", h.AuditTargetHistory)
			r.Get("/users/{id}/activity", h.AuditUserActivity)
		})

		r.Get("/health", h.Health)
		r.Get("/health/live", h.Live)
		r.Get("/health/ready", h.Ready)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// limiter builds httprate middlewares, collapsing to no-ops when rate
// limiting is disabled.
type limiter struct {
	cfg RouterConfig
}

func newLimiter(cfg RouterConfig) *limiter {
	return &limiter{cfg: cfg}
}

func (l *limiter) standard() func(http.Handler) http.Handler {
	if l.cfg.RateLimitDisabled {
		return passthrough
	}
	return httprate.LimitByIP(l.cfg.RateLimitRequests, l.cfg.RateLimitWindow)
}

func (l *limiter) custom(rl rateLimit) func(http.Handler) http.Handler {
	if l.cfg.RateLimitDisabled {
		return passthrough
	}
	return httprate.LimitByIP(rl.requests, rl.window)
}

func passthrough(next http.Handler) http.Handler {
	return next
}
