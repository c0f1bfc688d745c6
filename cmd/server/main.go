// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package main is the entry point for the Flagwarden server.
//
// Flagwarden serves feature flag evaluation and management with a dual
// audit trail: every flag carries its own embedded change history, and
// every mutation is also recorded in a system-wide audit log.
//
// Components start in this order:
//
//  1. Configuration: layered load via Koanf v2 (defaults, config file,
//     environment variables)
//  2. Storage: DuckDB-backed stores, or in-memory stores when no
//     database path is configured
//  3. Directory: optional actor enrichment behind a circuit breaker
//  4. Notifications: Watermill publisher over NATS (external or
//     embedded) or an in-process channel
//  5. Supervisor tree: retention pruning, broker, and HTTP server under
//     Suture supervision
//
// The server shuts down gracefully on SIGINT and SIGTERM: the listener
// stops accepting connections, in-flight requests drain with a timeout,
// and the supervised services stop in reverse order.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flagwarden/flagwarden/internal/api"
	"github.com/flagwarden/flagwarden/internal/audit"
	"github.com/flagwarden/flagwarden/internal/cache"
	"github.com/flagwarden/flagwarden/internal/config"
	"github.com/flagwarden/flagwarden/internal/database"
	"github.com/flagwarden/flagwarden/internal/directory"
	"github.com/flagwarden/flagwarden/internal/flags"
	"github.com/flagwarden/flagwarden/internal/logging"
	"github.com/flagwarden/flagwarden/internal/notify"
	"github.com/flagwarden/flagwarden/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config is not available yet, the default logger has to do.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Bool("cache_enabled", cfg.Cache.Enabled).
		Msg("Starting Flagwarden")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage. An empty database path selects the in-memory stores, used
	// for development and ephemeral deployments.
	var (
		flagStore  flags.Store
		auditStore audit.Store
		pinger     api.Pinger
	)
	if cfg.Database.Path != "" {
		db, err := database.New(database.Config{
			Path:      cfg.Database.Path,
			MaxMemory: cfg.Database.MaxMemory,
			Threads:   cfg.Database.Threads,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer func() {
			if err := db.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing database")
			}
		}()

		fs := flags.NewDuckDBStore(db.Conn())
		if err := fs.CreateTable(ctx); err != nil {
			logging.Fatal().Err(err).Msg("Failed to create flags table")
		}
		as := audit.NewDuckDBStore(db.Conn())
		if err := as.CreateTable(ctx); err != nil {
			logging.Fatal().Err(err).Msg("Failed to create audit table")
		}

		flagStore, auditStore, pinger = fs, as, db
		logging.Info().Str("path", cfg.Database.Path).Msg("DuckDB stores initialized")
	} else {
		flagStore = flags.NewMemoryStore()
		auditStore = audit.NewMemoryStore(cfg.Audit.MemoryMaxEntries)
		logging.Warn().Msg("No database path configured, using in-memory stores")
	}

	// Optional actor enrichment from the user directory.
	var resolver audit.ActorResolver
	if cfg.Directory.BaseURL != "" {
		dir := directory.NewHTTPDirectory(directory.Config{
			BaseURL:          cfg.Directory.BaseURL,
			Timeout:          cfg.Directory.Timeout,
			FailureThreshold: uint32(cfg.Directory.FailureThreshold),
			OpenTimeout:      cfg.Directory.OpenTimeout,
		})
		resolver = directory.NewAuditResolver(dir)
		logging.Info().Str("base_url", cfg.Directory.BaseURL).Msg("Directory enrichment enabled")
	}

	recorder := audit.NewRecorder(auditStore, resolver)
	reporter := audit.NewReporter(auditStore)

	// The slog adapter bridges zerolog to sutureslog.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	notifier := buildNotifier(cfg, tree)
	defer func() {
		if err := notifier.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing notifier")
		}
	}()

	var flagCache flags.Cache
	if cfg.Cache.Enabled {
		flagCache = cache.New(cfg.Cache.TTL)
		logging.Info().Dur("ttl", cfg.Cache.TTL).Msg("Evaluation cache enabled")
	}

	flagSvc := flags.NewService(flagStore, recorder, notifier, flagCache)

	if cfg.Audit.RetentionDays > 0 {
		tree.AddDataService(audit.NewRetentionService(auditStore, cfg.Audit.Retention(), cfg.Audit.PruneInterval))
		logging.Info().Int("retention_days", cfg.Audit.RetentionDays).Msg("Audit retention pruning enabled")
	}

	handlers := api.NewHandlers(flagSvc, recorder, reporter, pinger)
	router := api.NewRouter(api.RouterConfig{
		CORSOrigins:       cfg.Security.CORSOrigins,
		RateLimitRequests: cfg.Security.RateLimitReqs,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		RateLimitDisabled: cfg.Security.RateLimitDisabled,
	}, handlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Flagwarden stopped gracefully")
}

// buildNotifier wires the change-notification publisher. NATS enabled
// selects the external broker, or an embedded one when configured.
// Disabled, notifications go over an in-process channel so local
// subscribers still work in single-binary deployments.
func buildNotifier(cfg *config.Config, tree *supervisor.Tree) *notify.Notifier {
	wmLogger := notify.NewWatermillLogger()

	if !cfg.NATS.Enabled {
		return notify.NewNotifier(notify.NewInProcessPublisher(wmLogger))
	}

	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		embedded, err := notify.NewEmbeddedServer(notify.ServerConfig{
			Host: cfg.NATS.EmbeddedHost,
			Port: cfg.NATS.EmbeddedPort,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		url = embedded.ClientURL()
		tree.AddMessagingService(supervisor.NewBrokerService(embedded, 10*time.Second))
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	publisher, err := notify.NewNATSPublisher(notify.NATSConfig{
		URL:           url,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect NATS publisher")
	}
	logging.Info().Str("url", url).Msg("NATS notifications enabled")
	return notify.NewNotifier(publisher)
}
