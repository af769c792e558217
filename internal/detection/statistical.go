// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"behaviord/internal/behavior"
)

// StatisticalConfig tunes the z-score detectors.
type StatisticalConfig struct {
	// Threshold is the z-score above which a finding is emitted.
	Threshold float64 `json:"threshold"`

	// MinDataPoints is the baseline maturity required before scoring.
	MinDataPoints int64 `json:"min_data_points"`
}

// DefaultStatisticalConfig returns the reference thresholds.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{
		Threshold:     behavior.DefaultStatisticalThreshold,
		MinDataPoints: behavior.DefaultMinDataPoints,
	}
}

func (c StatisticalConfig) validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive")
	}
	if c.MinDataPoints <= 0 {
		return fmt.Errorf("min_data_points must be positive")
	}
	return nil
}

// EventStatisticalDetector scores each feature of an incoming event against
// the entity's frozen baseline for that metric name.
type EventStatisticalDetector struct {
	config  StatisticalConfig
	enabled bool
	mu      sync.RWMutex
}

// NewEventStatisticalDetector creates a per-event z-score detector.
func NewEventStatisticalDetector() *EventStatisticalDetector {
	return &EventStatisticalDetector{
		config:  DefaultStatisticalConfig(),
		enabled: true,
	}
}

// Name returns the strategy name.
func (d *EventStatisticalDetector) Name() string { return "statistical_event" }

// Type returns the anomaly type.
func (d *EventStatisticalDetector) Type() behavior.AnomalyType { return behavior.AnomalyTypeStatistical }

// Detect compares each event feature against its frozen baseline.
// A baseline qualifies only once it has matured past MinDataPoints; a zero
// standard deviation falls back to 1 so a frozen-but-flat baseline still
// scores raw deviation from the mean.
func (d *EventStatisticalDetector) Detect(_ context.Context, profile *behavior.Profile, event *behavior.Event) ([]*behavior.Anomaly, error) {
	d.mu.RLock()
	config := d.config
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled || profile == nil || event == nil {
		return nil, nil
	}

	features := behavior.ExtractFeatures(event)
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []*behavior.Anomaly
	for _, name := range names {
		baseline, ok := profile.BaselineMetrics[name]
		if !ok || baseline.DataPoints < config.MinDataPoints {
			continue
		}

		stdDev := baseline.Baseline.StdDev
		if stdDev == 0 {
			stdDev = 1
		}
		value := features[name]
		zScore := math.Abs(value-baseline.Baseline.Mean) / stdDev
		if zScore <= config.Threshold {
			continue
		}

		findings = append(findings, &behavior.Anomaly{
			ID:          uuid.NewString(),
			EntityID:    event.EntityID,
			AnomalyType: behavior.AnomalyTypeStatistical,
			Severity:    severityForScore(zScore),
			Confidence:  confidenceForScore(zScore),
			Description: fmt.Sprintf(
				"%s deviates from baseline: value %.2f vs mean %.2f (z-score %.2f)",
				name, value, baseline.Baseline.Mean, zScore,
			),
			AffectedMetrics: []string{name},
			DetectionMethod: "z_score_baseline",
			Timestamp:       time.Now().UTC(),
		})
	}

	return findings, nil
}

// Configure updates the detector configuration.
func (d *EventStatisticalDetector) Configure(config json.RawMessage) error {
	var newConfig StatisticalConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := newConfig.validate(); err != nil {
		return err
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *EventStatisticalDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *EventStatisticalDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// AggregateStatisticalDetector scans all live metrics of a profile and flags
// any metric whose running anomaly score has crossed the threshold, provided
// a frozen baseline exists for that metric.
type AggregateStatisticalDetector struct {
	config  StatisticalConfig
	enabled bool
	mu      sync.RWMutex
}

// NewAggregateStatisticalDetector creates a profile-wide z-score detector.
func NewAggregateStatisticalDetector() *AggregateStatisticalDetector {
	return &AggregateStatisticalDetector{
		config:  DefaultStatisticalConfig(),
		enabled: true,
	}
}

// Name returns the strategy name.
func (d *AggregateStatisticalDetector) Name() string { return "statistical_aggregate" }

// Type returns the anomaly type.
func (d *AggregateStatisticalDetector) Type() behavior.AnomalyType {
	return behavior.AnomalyTypeStatistical
}

// Detect scans the profile's current metrics for threshold crossings.
func (d *AggregateStatisticalDetector) Detect(_ context.Context, profile *behavior.Profile, _ *behavior.Event) ([]*behavior.Anomaly, error) {
	d.mu.RLock()
	config := d.config
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled || profile == nil {
		return nil, nil
	}

	names := make([]string, 0, len(profile.CurrentMetrics))
	for name := range profile.CurrentMetrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []*behavior.Anomaly
	for _, name := range names {
		metric := profile.CurrentMetrics[name]
		if _, frozen := profile.BaselineMetrics[name]; !frozen {
			continue
		}
		if metric.AnomalyScore <= config.Threshold {
			continue
		}

		findings = append(findings, &behavior.Anomaly{
			ID:          uuid.NewString(),
			EntityID:    profile.EntityID,
			AnomalyType: behavior.AnomalyTypeStatistical,
			Severity:    severityForScore(metric.AnomalyScore),
			Confidence:  confidenceForScore(metric.AnomalyScore),
			Description: fmt.Sprintf(
				"%s running anomaly score %.2f exceeds threshold %.2f",
				name, metric.AnomalyScore, config.Threshold,
			),
			AffectedMetrics: []string{name},
			DetectionMethod: "aggregate_anomaly_score",
			Timestamp:       time.Now().UTC(),
		})
	}

	return findings, nil
}

// Configure updates the detector configuration.
func (d *AggregateStatisticalDetector) Configure(config json.RawMessage) error {
	var newConfig StatisticalConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := newConfig.validate(); err != nil {
		return err
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *AggregateStatisticalDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *AggregateStatisticalDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
