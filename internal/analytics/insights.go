// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package analytics

import (
	"context"
	"time"
)

// InsightType classifies a generated insight.
type InsightType string

// Declared insight families. All four are extension points: the generator
// participates in the public contract but produces nothing yet.
const (
	InsightTypeTrend       InsightType = "trend"
	InsightTypePattern     InsightType = "pattern"
	InsightTypeCorrelation InsightType = "correlation"
	InsightTypePrediction  InsightType = "prediction"
)

// Insight is a cross-entity observation derived from behavioral history.
type Insight struct {
	ID          string      `json:"id"`
	InsightType InsightType `json:"insight_type"`
	EntityIDs   []string    `json:"entity_ids"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Confidence  float64     `json:"confidence"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// GenerateInsights produces cross-entity insights for the given entities, or
// for all tracked entities when none are given. The current generator emits
// no insights; the empty slice is a valid, successful result.
func (r *Reader) GenerateInsights(_ context.Context, _ []string) ([]*Insight, error) {
	return []*Insight{}, nil
}
