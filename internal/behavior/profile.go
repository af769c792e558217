// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package behavior

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManagerConfig tunes the profile lifecycle rules.
type ManagerConfig struct {
	// MinDataPoints is the observation count required before a metric's
	// baseline freezes and counts toward the learning→active transition.
	MinDataPoints int64 `json:"min_data_points"`

	// StatisticalThreshold is the anomaly-score level above which a metric
	// contributes double weight to the risk score.
	StatisticalThreshold float64 `json:"statistical_threshold"`

	// ActivationMetricCount is the number of distinct matured metrics
	// required to promote a learning profile to active.
	ActivationMetricCount int `json:"activation_metric_count"`
}

// DefaultManagerConfig returns the reference lifecycle parameters.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MinDataPoints:         DefaultMinDataPoints,
		StatisticalThreshold:  DefaultStatisticalThreshold,
		ActivationMetricCount: 3,
	}
}

// Manager owns the lifecycle of per-entity behavioral profiles.
//
// It is the single writer for profile state: only the queue-drain routine
// calls ApplyEvent, so profile mutation needs no per-profile locking beyond
// the cache map lock. Every mutation is mirrored to the durable store
// (write-through, not transactional).
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]*Profile

	store ProfileStore
	cfg   ManagerConfig
}

// NewManager creates a profile manager backed by the given store.
func NewManager(store ProfileStore, cfg ManagerConfig) *Manager {
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = DefaultMinDataPoints
	}
	if cfg.StatisticalThreshold <= 0 {
		cfg.StatisticalThreshold = DefaultStatisticalThreshold
	}
	if cfg.ActivationMetricCount <= 0 {
		cfg.ActivationMetricCount = 3
	}
	return &Manager{
		profiles: make(map[string]*Profile),
		store:    store,
		cfg:      cfg,
	}
}

// Rehydrate loads all persisted profiles into the cache. Must complete before
// the service answers reads that depend on profiles.
func (mgr *Manager) Rehydrate(ctx context.Context) error {
	profiles, err := mgr.store.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate profiles: %w", err)
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for _, p := range profiles {
		mgr.profiles[p.Key()] = p
	}
	return nil
}

// Get returns a copy of the cached profile for the entity reference, or nil
// when the entity has never been seen.
func (mgr *Manager) Get(entityID string, entityType EntityType) *Profile {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	p, ok := mgr.profiles[ProfileKey(entityID, entityType)]
	if !ok {
		return nil
	}
	return p.Clone()
}

// Count returns the number of cached profiles.
func (mgr *Manager) Count() int {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	return len(mgr.profiles)
}

// ApplyEvent folds one event's features into the entity's profile and
// mirrors the result to the durable store. It returns a copy of the updated
// profile for detector evaluation.
//
// Entities are created implicitly: the first event for an unseen entity
// reference creates a profile in the learning state.
func (mgr *Manager) ApplyEvent(ctx context.Context, event *Event, features map[string]float64) (*Profile, error) {
	mgr.mu.Lock()
	key := ProfileKey(event.EntityID, event.EntityType)
	p, ok := mgr.profiles[key]
	if !ok {
		p = newProfile(event.EntityID, event.EntityType, event.Timestamp)
		mgr.profiles[key] = p
	}

	// Deterministic fold order: feature maps iterate randomly in Go.
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := features[name]
		if m, exists := p.CurrentMetrics[name]; exists {
			UpdateMetric(m, value, event.Timestamp)
		} else {
			p.CurrentMetrics[name] = NewMetric(name, value)
		}
	}

	if p.Status == StatusLearning {
		mgr.freezeBaselines(p)
		mgr.maybeActivate(p)
	}

	mgr.recomputeRiskScore(p)
	mgr.recomputeConfidence(p)
	p.LastUpdated = event.Timestamp

	snapshot := p.Clone()
	mgr.mu.Unlock()

	// Write-through outside the cache lock: persistence must not serialize
	// readers behind store I/O.
	if err := mgr.store.UpsertProfile(ctx, snapshot); err != nil {
		return snapshot, fmt.Errorf("%w: upsert profile %s: %w", ErrPersistence, snapshot.ProfileID, err)
	}
	return snapshot, nil
}

func newProfile(entityID string, entityType EntityType, now time.Time) *Profile {
	return &Profile{
		ProfileID:       uuid.NewString(),
		EntityID:        entityID,
		EntityType:      entityType,
		BaselineMetrics: make(map[string]*Metric),
		CurrentMetrics:  make(map[string]*Metric),
		Status:          StatusLearning,
		CreatedAt:       now,
		LastUpdated:     now,
	}
}

// freezeBaselines snapshots every matured metric into the baseline map.
// Each learning-phase update overwrites the prior snapshot for that metric;
// snapshots stop once the profile leaves learning.
func (mgr *Manager) freezeBaselines(p *Profile) {
	for name, m := range p.CurrentMetrics {
		if m.DataPoints >= mgr.cfg.MinDataPoints {
			p.BaselineMetrics[name] = m.Clone()
		}
	}
}

// maybeActivate promotes a learning profile once enough distinct metrics
// have matured.
func (mgr *Manager) maybeActivate(p *Profile) {
	matured := 0
	for _, m := range p.CurrentMetrics {
		if m.DataPoints >= mgr.cfg.MinDataPoints {
			matured++
		}
	}
	if matured >= mgr.cfg.ActivationMetricCount {
		p.Status = StatusActive
	}
}

// recomputeRiskScore averages metric anomaly scores, double-weighting any
// metric above the statistical threshold, clamped to [0, 10].
func (mgr *Manager) recomputeRiskScore(p *Profile) {
	if len(p.CurrentMetrics) == 0 {
		p.RiskScore = 0
		return
	}
	var total float64
	for _, m := range p.CurrentMetrics {
		score := m.AnomalyScore
		if score > mgr.cfg.StatisticalThreshold {
			score *= 2
		}
		total += score
	}
	risk := total / float64(len(p.CurrentMetrics))
	if risk > 10 {
		risk = 10
	}
	if risk < 0 {
		risk = 0
	}
	p.RiskScore = risk
}

// recomputeConfidence scales with total observations across all metrics,
// saturating at five times the maturity requirement.
func (mgr *Manager) recomputeConfidence(p *Profile) {
	var total int64
	for _, m := range p.CurrentMetrics {
		total += m.DataPoints
	}
	confidence := float64(total) / float64(mgr.cfg.MinDataPoints*5)
	if confidence > 1 {
		confidence = 1
	}
	p.Confidence = confidence
}
