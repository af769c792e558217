// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"behaviord/internal/behavior"
	"behaviord/internal/logging"
	"behaviord/internal/metrics"
)

// AnomalyBroadcaster pushes findings to connected observers.
type AnomalyBroadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// EngineMetrics tracks detection engine performance.
type EngineMetrics struct {
	EventsProcessed  int64
	AnomaliesEmitted int64
	DetectionErrors  int64
	ProcessingTimeMs int64
	LastProcessedAt  time.Time
	DetectorMetrics  map[string]*DetectorMetrics
	mu               sync.RWMutex
}

// DetectorMetrics tracks individual detector performance.
type DetectorMetrics struct {
	Checks           int64
	AnomaliesEmitted int64
	Errors           int64
	LastTriggeredAt  *time.Time
}

// Engine coordinates the detector set. It runs every enabled strategy
// against a profile snapshot in registration order, persists the findings,
// and broadcasts them to observers. A failing detector never prevents the
// remaining strategies from running.
type Engine struct {
	mu          sync.RWMutex
	detectors   []Detector // registration order is evaluation order
	byName      map[string]Detector
	enabled     bool
	store       behavior.AnomalyStore
	broadcaster AnomalyBroadcaster
	stats       *EngineMetrics
}

// NewEngine creates a detection engine backed by the given anomaly store.
// The broadcaster may be nil.
func NewEngine(store behavior.AnomalyStore, broadcaster AnomalyBroadcaster) *Engine {
	return &Engine{
		byName:      make(map[string]Detector),
		enabled:     true,
		store:       store,
		broadcaster: broadcaster,
		stats: &EngineMetrics{
			DetectorMetrics: make(map[string]*DetectorMetrics),
		},
	}
}

// NewDefaultEngine creates an engine with the reference strategy set
// registered in evaluation order.
func NewDefaultEngine(store behavior.AnomalyStore, broadcaster AnomalyBroadcaster) *Engine {
	e := NewEngine(store, broadcaster)
	e.Register(NewEventStatisticalDetector())
	e.Register(NewAggregateStatisticalDetector())
	e.Register(NewBehavioralDetector())
	e.Register(NewPatternDetector())
	e.Register(NewTemporalDetector())
	e.Register(NewContextualDetector())
	return e
}

// Register appends a detector to the evaluation order. Registering a name
// twice replaces the previous detector in place.
func (e *Engine) Register(d Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := d.Name()
	if _, exists := e.byName[name]; exists {
		logging.Warn().Str("detector", name).Msg("detector already registered, replacing")
		for i, existing := range e.detectors {
			if existing.Name() == name {
				e.detectors[i] = d
				break
			}
		}
	} else {
		e.detectors = append(e.detectors, d)
	}
	e.byName[name] = d

	e.stats.mu.Lock()
	e.stats.DetectorMetrics[name] = &DetectorMetrics{}
	e.stats.mu.Unlock()

	logging.Info().
		Str("detector", name).
		Str("anomaly_type", string(d.Type())).
		Msg("registered detector")
}

// Process runs every enabled detector against the profile and optional
// event, persists the findings, and broadcasts them. Findings from healthy
// detectors are returned even when other detectors fail; a combined error
// reports the failures.
func (e *Engine) Process(ctx context.Context, profile *behavior.Profile, event *behavior.Event) ([]*behavior.Anomaly, error) {
	detectors := e.enabledDetectors()
	if detectors == nil {
		return nil, nil
	}

	start := time.Now()
	var findings []*behavior.Anomaly
	var errs []error

	for _, d := range detectors {
		anomalies, err := e.runDetector(ctx, d, profile, event)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		findings = append(findings, anomalies...)
	}

	e.stats.mu.Lock()
	e.stats.EventsProcessed++
	e.stats.AnomaliesEmitted += int64(len(findings))
	e.stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	e.stats.LastProcessedAt = time.Now()
	e.stats.mu.Unlock()

	e.persist(ctx, findings)
	e.broadcast(findings)

	if len(errs) > 0 {
		return findings, fmt.Errorf("detection errors: %v", errs)
	}
	return findings, nil
}

// enabledDetectors snapshots the enabled detectors in evaluation order, or
// nil when the engine is disabled or nothing is enabled.
func (e *Engine) enabledDetectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.enabled {
		return nil
	}
	detectors := make([]Detector, 0, len(e.detectors))
	for _, d := range e.detectors {
		if d.Enabled() {
			detectors = append(detectors, d)
		}
	}
	if len(detectors) == 0 {
		return nil
	}
	return detectors
}

func (e *Engine) runDetector(ctx context.Context, d Detector, profile *behavior.Profile, event *behavior.Event) ([]*behavior.Anomaly, error) {
	name := d.Name()

	e.stats.mu.Lock()
	if dm, ok := e.stats.DetectorMetrics[name]; ok {
		dm.Checks++
	}
	e.stats.mu.Unlock()
	metrics.RecordDetectorCheck(name)

	anomalies, err := d.Detect(ctx, profile, event)
	if err != nil {
		e.stats.mu.Lock()
		if dm, ok := e.stats.DetectorMetrics[name]; ok {
			dm.Errors++
		}
		e.stats.DetectionErrors++
		e.stats.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if len(anomalies) > 0 {
		now := time.Now()
		e.stats.mu.Lock()
		if dm, ok := e.stats.DetectorMetrics[name]; ok {
			dm.AnomaliesEmitted += int64(len(anomalies))
			dm.LastTriggeredAt = &now
		}
		e.stats.mu.Unlock()
		for _, a := range anomalies {
			metrics.RecordAnomaly(string(a.AnomalyType), string(a.Severity))
		}
	}

	return anomalies, nil
}

// persist saves findings to the anomaly store. A failed insert is logged
// and counted, never fatal to the evaluation.
func (e *Engine) persist(ctx context.Context, findings []*behavior.Anomaly) {
	for _, a := range findings {
		if err := e.store.InsertAnomaly(ctx, a); err != nil {
			logging.Error().
				Err(err).
				Str("anomaly_id", a.ID).
				Str("entity_id", a.EntityID).
				Msg("failed to persist anomaly")
		}
	}
}

func (e *Engine) broadcast(findings []*behavior.Anomaly) {
	if e.broadcaster == nil {
		return
	}
	for _, a := range findings {
		e.broadcaster.BroadcastJSON("behavior_anomaly", a)
	}
}

// SetEnabled enables or disables the whole engine.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled returns whether the engine is enabled.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Detector returns a registered detector by name.
func (e *Engine) Detector(name string) (Detector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.byName[name]
	return d, ok
}

// Detectors returns the registered detectors in evaluation order.
func (e *Engine) Detectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Detector, len(e.detectors))
	copy(out, e.detectors)
	return out
}

// ConfigureDetector updates a registered detector's configuration.
func (e *Engine) ConfigureDetector(name string, config json.RawMessage) error {
	d, ok := e.Detector(name)
	if !ok {
		return fmt.Errorf("detector not found: %s", name)
	}
	return d.Configure(config)
}

// Metrics returns a copy of the engine metrics.
func (e *Engine) Metrics() EngineMetrics {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	detectorMetrics := make(map[string]*DetectorMetrics, len(e.stats.DetectorMetrics))
	for name, dm := range e.stats.DetectorMetrics {
		c := *dm
		detectorMetrics[name] = &c
	}
	return EngineMetrics{
		EventsProcessed:  e.stats.EventsProcessed,
		AnomaliesEmitted: e.stats.AnomaliesEmitted,
		DetectionErrors:  e.stats.DetectionErrors,
		ProcessingTimeMs: e.stats.ProcessingTimeMs,
		LastProcessedAt:  e.stats.LastProcessedAt,
		DetectorMetrics:  detectorMetrics,
	}
}

// RunWithContext blocks until the context is canceled. The engine has no
// background work of its own; this method lets it sit under supervision
// alongside the scheduler.
func (e *Engine) RunWithContext(ctx context.Context) error {
	logging.Info().Int("detectors", len(e.Detectors())).Msg("detection engine started")
	<-ctx.Done()
	logging.Info().Msg("detection engine shutting down")
	return ctx.Err()
}
