// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"behaviord/internal/behavior"
	"behaviord/internal/metrics"
)

// DuckDBStore implements behavior.ProfileStore, behavior.EventStore,
// behavior.AnomalyStore, and behavior.StatsStore on a DuckDB connection.
type DuckDBStore struct {
	db *sql.DB
}

// NewDuckDBStore creates a DuckDB-backed store over an initialized connection.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

var (
	_ behavior.ProfileStore = (*DuckDBStore)(nil)
	_ behavior.EventStore   = (*DuckDBStore)(nil)
	_ behavior.AnomalyStore = (*DuckDBStore)(nil)
	_ behavior.StatsStore   = (*DuckDBStore)(nil)
)

const profileSelectColumns = `
	profile_id,
	entity_id,
	entity_type,
	baseline_metrics,
	current_metrics,
	risk_score,
	confidence,
	status,
	created_at,
	last_updated`

const eventSelectColumns = `
	id,
	entity_id,
	entity_type,
	event_type,
	COALESCE(event_data, '{}') as event_data,
	timestamp,
	processed,
	anomaly_score,
	risk_level`

// UpsertProfile writes the profile, replacing any prior row for its entity.
func (s *DuckDBStore) UpsertProfile(ctx context.Context, profile *behavior.Profile) error {
	start := time.Now()

	baselineJSON, err := json.Marshal(profile.BaselineMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline metrics: %w", err)
	}
	currentJSON, err := json.Marshal(profile.CurrentMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal current metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO behavioral_profiles (
			profile_id, entity_id, entity_type, baseline_metrics, current_metrics,
			risk_score, confidence, status, created_at, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_id, entity_type) DO UPDATE SET
			baseline_metrics = EXCLUDED.baseline_metrics,
			current_metrics = EXCLUDED.current_metrics,
			risk_score = EXCLUDED.risk_score,
			confidence = EXCLUDED.confidence,
			status = EXCLUDED.status,
			last_updated = EXCLUDED.last_updated`,
		profile.ProfileID, profile.EntityID, string(profile.EntityType),
		string(baselineJSON), string(currentJSON),
		profile.RiskScore, profile.Confidence, string(profile.Status),
		profile.CreatedAt, profile.LastUpdated,
	)
	metrics.RecordDBQuery("upsert", "behavioral_profiles", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by entity reference. Returns
// behavior.ErrNotFound when no profile exists.
func (s *DuckDBStore) GetProfile(ctx context.Context, entityID string, entityType behavior.EntityType) (*behavior.Profile, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+profileSelectColumns+`
		FROM behavioral_profiles
		WHERE entity_id = ? AND entity_type = ?`,
		entityID, string(entityType),
	)
	profile, err := scanProfile(row)
	metrics.RecordDBQuery("select", "behavioral_profiles", time.Since(start), err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile for %s:%s", behavior.ErrNotFound, entityType, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

// ListProfiles retrieves all profiles, used for cache rehydration on startup.
func (s *DuckDBStore) ListProfiles(ctx context.Context) ([]*behavior.Profile, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileSelectColumns+`
		FROM behavioral_profiles
		ORDER BY entity_type, entity_id`)
	metrics.RecordDBQuery("select", "behavioral_profiles", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*behavior.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// SetProfileStatus updates only the lifecycle status of a stored profile.
// Operator-facing: the online path never demotes a profile on its own.
func (s *DuckDBStore) SetProfileStatus(ctx context.Context, entityID string, entityType behavior.EntityType, status behavior.ProfileStatus) error {
	start := time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE behavioral_profiles SET status = ?, last_updated = ?
		WHERE entity_id = ? AND entity_type = ?`,
		string(status), time.Now().UTC(), entityID, string(entityType))
	metrics.RecordDBQuery("update", "behavioral_profiles", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to update profile status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: profile for %s:%s", behavior.ErrNotFound, entityType, entityID)
	}
	return nil
}

// AppendEvent durably records a new event.
func (s *DuckDBStore) AppendEvent(ctx context.Context, event *behavior.Event) error {
	start := time.Now()

	dataJSON, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	var riskLevel interface{}
	if event.RiskLevel != nil {
		riskLevel = string(*event.RiskLevel)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO behavioral_events (
			id, entity_id, entity_type, event_type, event_data,
			timestamp, processed, anomaly_score, risk_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.EntityID, string(event.EntityType), event.EventType,
		string(dataJSON), event.Timestamp, event.Processed,
		event.AnomalyScore, riskLevel,
	)
	metrics.RecordDBQuery("insert", "behavioral_events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// MarkEventProcessed flips the processed flag for an event.
func (s *DuckDBStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	start := time.Now()

	result, err := s.db.ExecContext(ctx, `
		UPDATE behavioral_events SET processed = true WHERE id = ?`, eventID)
	metrics.RecordDBQuery("update", "behavioral_events", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: event %s", behavior.ErrNotFound, eventID)
	}
	return nil
}

// ListEvents retrieves events for an entity since the given timestamp,
// ordered by timestamp ascending.
func (s *DuckDBStore) ListEvents(ctx context.Context, entityID string, entityType behavior.EntityType, since time.Time) ([]*behavior.Event, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventSelectColumns+`
		FROM behavioral_events
		WHERE entity_id = ? AND entity_type = ? AND timestamp >= ?
		ORDER BY timestamp ASC`,
		entityID, string(entityType), since,
	)
	metrics.RecordDBQuery("select", "behavioral_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// ListUnprocessedEvents retrieves events whose drain step has not completed,
// ordered by timestamp ascending. A non-positive limit returns everything.
func (s *DuckDBStore) ListUnprocessedEvents(ctx context.Context, limit int) ([]*behavior.Event, error) {
	start := time.Now()

	query := `
		SELECT ` + eventSelectColumns + `
		FROM behavioral_events
		WHERE processed = false
		ORDER BY timestamp ASC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "behavioral_events", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// InsertAnomaly records a new finding.
func (s *DuckDBStore) InsertAnomaly(ctx context.Context, anomaly *behavior.Anomaly) error {
	start := time.Now()

	affectedJSON, err := json.Marshal(anomaly.AffectedMetrics)
	if err != nil {
		return fmt.Errorf("failed to marshal affected metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anomaly_detections (
			id, entity_id, anomaly_type, severity, confidence, description,
			affected_metrics, detection_method, timestamp, resolved,
			false_positive, investigation_notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		anomaly.ID, anomaly.EntityID, string(anomaly.AnomalyType),
		string(anomaly.Severity), anomaly.Confidence, anomaly.Description,
		string(affectedJSON), anomaly.DetectionMethod, anomaly.Timestamp,
		anomaly.Resolved, anomaly.FalsePositive, anomaly.InvestigationNotes,
	)
	metrics.RecordDBQuery("insert", "anomaly_detections", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

// ListAnomalies retrieves findings matching the filter, newest first.
func (s *DuckDBStore) ListAnomalies(ctx context.Context, filter behavior.AnomalyFilter) ([]*behavior.Anomaly, error) {
	start := time.Now()

	var conditions []string
	var args []interface{}

	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if len(filter.AnomalyTypes) > 0 {
		placeholders := make([]string, len(filter.AnomalyTypes))
		for i, t := range filter.AnomalyTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conditions = append(conditions, "anomaly_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Severities) > 0 {
		placeholders := make([]string, len(filter.Severities))
		for i, sev := range filter.Severities {
			placeholders[i] = "?"
			args = append(args, string(sev))
		}
		conditions = append(conditions, "severity IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Resolved != nil {
		conditions = append(conditions, "resolved = ?")
		args = append(args, *filter.Resolved)
	}
	if filter.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `
		SELECT id, entity_id, anomaly_type, severity, confidence,
			COALESCE(description, '') as description,
			affected_metrics,
			COALESCE(detection_method, '') as detection_method,
			timestamp, resolved, false_positive,
			COALESCE(investigation_notes, '') as investigation_notes
		FROM anomaly_detections`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.RecordDBQuery("select", "anomaly_detections", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var anomalies []*behavior.Anomaly
	for rows.Next() {
		anomaly, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, anomaly)
	}
	return anomalies, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(scanner rowScanner) (*behavior.Profile, error) {
	var profile behavior.Profile
	var entityType, status, baselineJSON, currentJSON string

	if err := scanner.Scan(
		&profile.ProfileID,
		&profile.EntityID,
		&entityType,
		&baselineJSON,
		&currentJSON,
		&profile.RiskScore,
		&profile.Confidence,
		&status,
		&profile.CreatedAt,
		&profile.LastUpdated,
	); err != nil {
		return nil, err
	}

	profile.EntityType = behavior.EntityType(entityType)
	profile.Status = behavior.ProfileStatus(status)
	if err := json.Unmarshal([]byte(baselineJSON), &profile.BaselineMetrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal baseline metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(currentJSON), &profile.CurrentMetrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current metrics: %w", err)
	}
	if profile.BaselineMetrics == nil {
		profile.BaselineMetrics = make(map[string]*behavior.Metric)
	}
	if profile.CurrentMetrics == nil {
		profile.CurrentMetrics = make(map[string]*behavior.Metric)
	}
	return &profile, nil
}

func scanEvent(scanner rowScanner) (*behavior.Event, error) {
	var event behavior.Event
	var entityType, dataJSON string
	var anomalyScore sql.NullFloat64
	var riskLevel sql.NullString

	if err := scanner.Scan(
		&event.ID,
		&event.EntityID,
		&entityType,
		&event.EventType,
		&dataJSON,
		&event.Timestamp,
		&event.Processed,
		&anomalyScore,
		&riskLevel,
	); err != nil {
		return nil, err
	}

	event.EntityType = behavior.EntityType(entityType)
	if err := json.Unmarshal([]byte(dataJSON), &event.EventData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
	}
	if anomalyScore.Valid {
		score := anomalyScore.Float64
		event.AnomalyScore = &score
	}
	if riskLevel.Valid && riskLevel.String != "" {
		level := behavior.Severity(riskLevel.String)
		event.RiskLevel = &level
	}
	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]*behavior.Event, error) {
	var events []*behavior.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanAnomaly(scanner rowScanner) (*behavior.Anomaly, error) {
	var anomaly behavior.Anomaly
	var anomalyType, severity, affectedJSON string

	if err := scanner.Scan(
		&anomaly.ID,
		&anomaly.EntityID,
		&anomalyType,
		&severity,
		&anomaly.Confidence,
		&anomaly.Description,
		&affectedJSON,
		&anomaly.DetectionMethod,
		&anomaly.Timestamp,
		&anomaly.Resolved,
		&anomaly.FalsePositive,
		&anomaly.InvestigationNotes,
	); err != nil {
		return nil, err
	}

	anomaly.AnomalyType = behavior.AnomalyType(anomalyType)
	anomaly.Severity = behavior.Severity(severity)
	if err := json.Unmarshal([]byte(affectedJSON), &anomaly.AffectedMetrics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal affected metrics: %w", err)
	}
	return &anomaly, nil
}
