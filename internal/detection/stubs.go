// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"behaviord/internal/behavior"
)

// stubDetector is a registered no-op strategy. The pattern, temporal, and
// contextual families are declared extension points: they participate in the
// detector-set contract (registration, enable/disable, configuration) but
// produce no findings yet.
type stubDetector struct {
	name        string
	anomalyType behavior.AnomalyType
	enabled     bool
	config      json.RawMessage
	mu          sync.RWMutex
}

func newStubDetector(name string, anomalyType behavior.AnomalyType) *stubDetector {
	return &stubDetector{
		name:        name,
		anomalyType: anomalyType,
		enabled:     true,
	}
}

// NewPatternDetector returns the pattern-analysis extension point.
func NewPatternDetector() Detector {
	return newStubDetector("pattern_sequence", behavior.AnomalyTypePattern)
}

// NewTemporalDetector returns the temporal-analysis extension point.
func NewTemporalDetector() Detector {
	return newStubDetector("temporal_window", behavior.AnomalyTypeTemporal)
}

// NewContextualDetector returns the contextual-analysis extension point.
func NewContextualDetector() Detector {
	return newStubDetector("contextual_peer", behavior.AnomalyTypeContextual)
}

// Name returns the strategy name.
func (d *stubDetector) Name() string { return d.name }

// Type returns the anomaly type.
func (d *stubDetector) Type() behavior.AnomalyType { return d.anomalyType }

// Detect returns no findings.
func (d *stubDetector) Detect(_ context.Context, _ *behavior.Profile, _ *behavior.Event) ([]*behavior.Anomaly, error) {
	return nil, nil
}

// Configure stores the raw configuration for future strategy implementations.
func (d *stubDetector) Configure(config json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = config
	return nil
}

// Enabled returns whether this detector is enabled.
func (d *stubDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled enables or disables the detector.
func (d *stubDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
