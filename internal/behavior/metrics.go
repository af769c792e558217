// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package behavior

import (
	"math"
	"time"
)

// Tuning constants for the online metric update rule.
const (
	// EMAAlpha is the smoothing factor for the exponential moving average.
	// The mean is weighted 90% toward history, 10% toward the new value.
	EMAAlpha = 0.1

	// DefaultMinDataPoints is the observation count at which a metric's
	// baseline may be frozen and a profile may leave the learning state.
	DefaultMinDataPoints = 50

	// DefaultStatisticalThreshold is the anomaly-score level above which a
	// metric is considered anomalous.
	DefaultStatisticalThreshold = 2.5

	// trendBand is the relative band around the mean within which a metric's
	// trend reads as stable.
	trendBand = 0.1
)

// NewMetric creates a metric from its first observation. The first value
// seeds min, max, and the mean directly.
func NewMetric(name string, value float64) *Metric {
	return &Metric{
		Name:  name,
		Value: value,
		Baseline: Baseline{
			Mean: value,
			Min:  value,
			Max:  value,
		},
		Trend:      TrendStable,
		DataPoints: 1,
	}
}

// UpdateMetric folds a new observation into the metric's running state.
//
// The mean follows an exponential moving average; min and max widen
// monotonically. The anomaly score is recomputed against the updated mean
// only when a standard deviation is available — the online path never
// maintains StdDev incrementally, so scoring against a live (unfrozen)
// baseline is usually a no-op. That matches the reference behavior and must
// not be "fixed" by adding variance tracking here.
func UpdateMetric(m *Metric, value float64, now time.Time) {
	m.Value = value
	if value < m.Baseline.Min {
		m.Baseline.Min = value
	}
	if value > m.Baseline.Max {
		m.Baseline.Max = value
	}
	m.Baseline.Mean = m.Baseline.Mean*(1-EMAAlpha) + value*EMAAlpha

	if m.Baseline.StdDev > 0 {
		m.AnomalyScore = math.Abs(value-m.Baseline.Mean) / m.Baseline.StdDev
		if m.AnomalyScore > DefaultStatisticalThreshold {
			t := now
			m.LastAnomaly = &t
		}
	}

	m.Trend = classifyTrend(m)
	m.DataPoints++
}

// classifyTrend derives the trend label from the current value's position
// relative to the mean. An anomalous score reads as volatile regardless of
// direction.
func classifyTrend(m *Metric) Trend {
	if m.AnomalyScore > DefaultStatisticalThreshold {
		return TrendVolatile
	}
	mean := m.Baseline.Mean
	band := math.Abs(mean) * trendBand
	switch {
	case m.Value > mean+band:
		return TrendIncreasing
	case m.Value < mean-band:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
