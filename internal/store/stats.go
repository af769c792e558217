// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"time"

	"behaviord/internal/behavior"
	"behaviord/internal/metrics"
)

// GetStats aggregates counts and averages across all three tables in a single
// call. The counters are computed fresh per call; nothing is cached.
func (s *DuckDBStore) GetStats(ctx context.Context) (*behavior.Stats, error) {
	start := time.Now()
	stats, err := s.getStats(ctx)
	metrics.RecordDBQuery("aggregate", "stats", time.Since(start), err)
	return stats, err
}

func (s *DuckDBStore) getStats(ctx context.Context) (*behavior.Stats, error) {
	stats := &behavior.Stats{
		ProfilesByStatus:    make(map[behavior.ProfileStatus]int64),
		ProfilesByType:      make(map[behavior.EntityType]int64),
		AnomaliesByType:     make(map[behavior.AnomalyType]int64),
		AnomaliesBySeverity: make(map[behavior.Severity]int64),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(risk_score), 0)
		FROM behavioral_profiles`)
	if err := row.Scan(&stats.TotalProfiles, &stats.AverageRiskScore); err != nil {
		return nil, fmt.Errorf("failed to aggregate profiles: %w", err)
	}

	if err := s.countGrouped(ctx,
		`SELECT status, COUNT(*) FROM behavioral_profiles GROUP BY status`,
		func(key string, count int64) {
			stats.ProfilesByStatus[behavior.ProfileStatus(key)] = count
		}); err != nil {
		return nil, fmt.Errorf("failed to count profiles by status: %w", err)
	}
	if err := s.countGrouped(ctx,
		`SELECT entity_type, COUNT(*) FROM behavioral_profiles GROUP BY entity_type`,
		func(key string, count int64) {
			stats.ProfilesByType[behavior.EntityType(key)] = count
		}); err != nil {
		return nil, fmt.Errorf("failed to count profiles by type: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE processed)
		FROM behavioral_events`)
	if err := row.Scan(&stats.TotalEvents, &stats.ProcessedEvents); err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}
	if stats.TotalEvents > 0 {
		stats.ProcessedRatio = float64(stats.ProcessedEvents) / float64(stats.TotalEvents)
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT resolved)
		FROM anomaly_detections`)
	if err := row.Scan(&stats.TotalAnomalies, &stats.UnresolvedAnomalies); err != nil {
		return nil, fmt.Errorf("failed to aggregate anomalies: %w", err)
	}

	if err := s.countGrouped(ctx,
		`SELECT anomaly_type, COUNT(*) FROM anomaly_detections GROUP BY anomaly_type`,
		func(key string, count int64) {
			stats.AnomaliesByType[behavior.AnomalyType(key)] = count
		}); err != nil {
		return nil, fmt.Errorf("failed to count anomalies by type: %w", err)
	}
	if err := s.countGrouped(ctx,
		`SELECT severity, COUNT(*) FROM anomaly_detections GROUP BY severity`,
		func(key string, count int64) {
			stats.AnomaliesBySeverity[behavior.Severity(key)] = count
		}); err != nil {
		return nil, fmt.Errorf("failed to count anomalies by severity: %w", err)
	}

	return stats, nil
}

// countGrouped runs a two-column (key, count) GROUP BY query and feeds each
// row to collect.
func (s *DuckDBStore) countGrouped(ctx context.Context, query string, collect func(key string, count int64)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		collect(key, count)
	}
	return rows.Err()
}
