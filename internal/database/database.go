// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

// Package database manages the embedded DuckDB connection shared by the
// flag and audit stores. DuckDB runs in-process against a single file, so
// one *sql.DB pool serves the whole server.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/flagwarden/flagwarden/internal/logging"
)

// Config holds DuckDB connection settings.
type Config struct {
	// Path is the database file. ":memory:" opens an ephemeral database.
	Path string

	// MaxMemory caps DuckDB's memory usage, e.g. "512MB".
	MaxMemory string

	// Threads is the DuckDB worker thread count. Zero means NumCPU.
	Threads int
}

// DB wraps the DuckDB connection pool.
type DB struct {
	conn *sql.DB
	cfg  Config
}

// New opens the database file and configures the connection pool. The
// parent directory is created when missing.
func New(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		cfg.Path = "flagwarden.db"
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "512MB"
	}
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	// Auto-install/auto-load is disabled; nothing here needs extensions and
	// the probes hang in restricted network environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(runtime.NumCPU())
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", numThreads).Msg("Database opened")

	return &DB{conn: conn, cfg: cfg}, nil
}

// Conn exposes the pool for the store layers.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}
