// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"behaviord/internal/behavior"
)

// BehavioralConfig tunes the whole-profile risk detector.
type BehavioralConfig struct {
	// RiskThreshold is the profile risk score above which a finding is
	// emitted.
	RiskThreshold float64 `json:"risk_threshold"`
}

// DefaultBehavioralConfig returns the reference threshold.
func DefaultBehavioralConfig() BehavioralConfig {
	return BehavioralConfig{RiskThreshold: 7}
}

// BehavioralDetector flags profiles whose aggregate risk score is elevated.
// It emits at most one finding per evaluation, referencing every current
// metric, with the profile's own confidence.
type BehavioralDetector struct {
	config  BehavioralConfig
	enabled bool
	mu      sync.RWMutex
}

// NewBehavioralDetector creates a profile risk detector.
func NewBehavioralDetector() *BehavioralDetector {
	return &BehavioralDetector{
		config:  DefaultBehavioralConfig(),
		enabled: true,
	}
}

// Name returns the strategy name.
func (d *BehavioralDetector) Name() string { return "behavioral_risk" }

// Type returns the anomaly type.
func (d *BehavioralDetector) Type() behavior.AnomalyType { return behavior.AnomalyTypeBehavioral }

// Detect emits a high-severity finding when the profile risk score exceeds
// the threshold. The profile status is not changed here; promotion to
// suspicious or compromised is an operator decision.
func (d *BehavioralDetector) Detect(_ context.Context, profile *behavior.Profile, _ *behavior.Event) ([]*behavior.Anomaly, error) {
	d.mu.RLock()
	config := d.config
	enabled := d.enabled
	d.mu.RUnlock()

	if !enabled || profile == nil {
		return nil, nil
	}
	if profile.RiskScore <= config.RiskThreshold {
		return nil, nil
	}

	affected := make([]string, 0, len(profile.CurrentMetrics))
	for name := range profile.CurrentMetrics {
		affected = append(affected, name)
	}
	sort.Strings(affected)

	return []*behavior.Anomaly{{
		ID:          uuid.NewString(),
		EntityID:    profile.EntityID,
		AnomalyType: behavior.AnomalyTypeBehavioral,
		Severity:    behavior.SeverityHigh,
		Confidence:  profile.Confidence,
		Description: fmt.Sprintf(
			"profile risk score %.2f exceeds threshold %.2f",
			profile.RiskScore, config.RiskThreshold,
		),
		AffectedMetrics: affected,
		DetectionMethod: "risk_score_threshold",
		Timestamp:       time.Now().UTC(),
	}}, nil
}

// Configure updates the detector configuration.
func (d *BehavioralDetector) Configure(config json.RawMessage) error {
	var newConfig BehavioralConfig
	if err := json.Unmarshal(config, &newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if newConfig.RiskThreshold <= 0 {
		return fmt.Errorf("risk_threshold must be positive")
	}

	d.mu.Lock()
	d.config = newConfig
	d.mu.Unlock()
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *BehavioralDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *BehavioralDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
