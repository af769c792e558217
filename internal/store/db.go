// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists profiles, events, and anomaly findings in DuckDB.
//
// All JSON-shaped columns (metric maps, event payloads, affected metric
// lists) are stored as VARCHAR and round-tripped through goccy/go-json.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"

	"behaviord/internal/config"
	"behaviord/internal/logging"
)

// DB wraps the DuckDB connection and owns the schema.
type DB struct {
	conn *sql.DB
}

// New opens the DuckDB database at cfg.Path and initializes the schema.
// An empty path opens an in-memory database, used by tests.
func New(cfg config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure parent directory exists for the database file. Use 0750
	// permissions (owner: rwx, group: rx, other: none) per gosec G301.
	if cfg.Path != "" && cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	// Disable auto-install/auto-load to prevent hangs in restricted network
	// environments. No extensions are required by the schema.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Str("max_memory", cfg.MaxMemory).
		Msg("Database initialized")
	return db, nil
}

// Conn returns the underlying sql.DB for store construction.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if _, err := db.conn.Exec("CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	return db.conn.Close()
}

func (db *DB) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS behavioral_profiles (
			profile_id VARCHAR PRIMARY KEY,
			entity_id VARCHAR NOT NULL,
			entity_type VARCHAR NOT NULL,
			baseline_metrics VARCHAR NOT NULL DEFAULT '{}',
			current_metrics VARCHAR NOT NULL DEFAULT '{}',
			risk_score DOUBLE NOT NULL DEFAULT 0,
			confidence DOUBLE NOT NULL DEFAULT 0,
			status VARCHAR NOT NULL DEFAULT 'learning',
			created_at TIMESTAMP NOT NULL,
			last_updated TIMESTAMP NOT NULL,
			UNIQUE (entity_id, entity_type)
		)`,
		`CREATE TABLE IF NOT EXISTS behavioral_events (
			id VARCHAR PRIMARY KEY,
			entity_id VARCHAR NOT NULL,
			entity_type VARCHAR NOT NULL,
			event_type VARCHAR NOT NULL,
			event_data VARCHAR,
			timestamp TIMESTAMP NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT false,
			anomaly_score DOUBLE,
			risk_level VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON behavioral_events (entity_id, entity_type, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_unprocessed ON behavioral_events (processed, timestamp)`,
		`CREATE TABLE IF NOT EXISTS anomaly_detections (
			id VARCHAR PRIMARY KEY,
			entity_id VARCHAR NOT NULL,
			anomaly_type VARCHAR NOT NULL,
			severity VARCHAR NOT NULL,
			confidence DOUBLE NOT NULL DEFAULT 0,
			description VARCHAR,
			affected_metrics VARCHAR NOT NULL DEFAULT '[]',
			detection_method VARCHAR,
			timestamp TIMESTAMP NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT false,
			false_positive BOOLEAN NOT NULL DEFAULT false,
			investigation_notes VARCHAR
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_entity ON anomaly_detections (entity_id, timestamp)`,
	}
	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
