// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detection implements the pluggable anomaly-detection strategy set.
//
// Each detector is a pure function over a profile and (optionally) the event
// being folded. Detectors are independent and composable: the engine invokes
// them in registration order and concatenates their findings.
package detection

import (
	"context"
	"math"

	"github.com/goccy/go-json"

	"behaviord/internal/behavior"
)

// Detector is the interface all detection strategies implement.
type Detector interface {
	// Name uniquely identifies the strategy within the engine.
	Name() string

	// Type returns the anomaly type this strategy produces.
	Type() behavior.AnomalyType

	// Detect evaluates the profile and, when non-nil, the incoming event.
	// It returns zero or more findings. Event is nil for on-demand scans
	// that are not tied to a single event.
	Detect(ctx context.Context, profile *behavior.Profile, event *behavior.Event) ([]*behavior.Anomaly, error)

	// Configure updates the detector configuration from JSON.
	Configure(config json.RawMessage) error

	// Enabled returns whether this detector is currently enabled.
	Enabled() bool

	// SetEnabled enables or disables the detector.
	SetEnabled(enabled bool)
}

// severityForScore maps a z-score-like value onto the severity ladder.
func severityForScore(score float64) behavior.Severity {
	switch {
	case score > 4:
		return behavior.SeverityCritical
	case score > 3:
		return behavior.SeverityHigh
	case score > 2:
		return behavior.SeverityMedium
	default:
		return behavior.SeverityLow
	}
}

// confidenceForScore scales a z-score into [0, 0.99].
func confidenceForScore(score float64) float64 {
	return math.Min(0.99, score/5)
}
