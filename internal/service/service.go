// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package service is the public facade over the behavioral engine. Every
// operation guards the initialized flag, recovers panics into errors, and
// never lets an internal failure escape unwrapped.
package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"behaviord/internal/analytics"
	"behaviord/internal/behavior"
	"behaviord/internal/detection"
	"behaviord/internal/logging"
	"behaviord/internal/scheduler"
)

// Service exposes the behavioral engine operations to the API layer.
type Service struct {
	queue    *scheduler.Queue
	manager  *behavior.Manager
	engine   *detection.Engine
	reader   *analytics.Reader
	profiles behavior.ProfileStore
	stats    behavior.StatsStore

	initialized atomic.Bool
}

// New assembles the facade. The service starts uninitialized; call MarkReady
// once the durable store and caches are rehydrated. When initialization
// fails the service stays in degraded mode and every operation returns
// ErrNotInitialized instead of touching unready state.
func New(
	queue *scheduler.Queue,
	manager *behavior.Manager,
	engine *detection.Engine,
	reader *analytics.Reader,
	profiles behavior.ProfileStore,
	stats behavior.StatsStore,
) *Service {
	return &Service{
		queue:    queue,
		manager:  manager,
		engine:   engine,
		reader:   reader,
		profiles: profiles,
		stats:    stats,
	}
}

// MarkReady flips the service into serving mode.
func (s *Service) MarkReady() {
	s.initialized.Store(true)
	logging.Info().Msg("behavior service ready")
}

// Ready reports whether the service has completed initialization.
func (s *Service) Ready() bool {
	return s.initialized.Load()
}

func (s *Service) guard() error {
	if !s.initialized.Load() {
		return behavior.ErrNotInitialized
	}
	return nil
}

// recoverTo converts a panic in an operation into ErrProcessing.
func recoverTo(errp *error) {
	if r := recover(); r != nil {
		logging.Error().Interface("panic", r).Msg("recovered panic in service operation")
		*errp = fmt.Errorf("%w: panic: %v", behavior.ErrProcessing, r)
	}
}

// RecordEvent validates and ingests a new behavioral event. The caller
// supplies the event without ID or processed state; the assigned event ID is
// returned.
func (s *Service) RecordEvent(ctx context.Context, event *behavior.Event) (_ string, err error) {
	defer recoverTo(&err)
	if err := s.guard(); err != nil {
		return "", err
	}
	if event == nil {
		return "", fmt.Errorf("%w: nil event", behavior.ErrProcessing)
	}
	if event.EntityID == "" {
		return "", fmt.Errorf("%w: entity_id is required", behavior.ErrProcessing)
	}
	if !behavior.ValidEntityType(event.EntityType) {
		return "", fmt.Errorf("%w: unknown entity type %q", behavior.ErrProcessing, event.EntityType)
	}
	if event.EventType == "" {
		return "", fmt.Errorf("%w: event_type is required", behavior.ErrProcessing)
	}

	if err := s.queue.Ingest(ctx, event); err != nil {
		return "", err
	}
	return event.ID, nil
}

// AnalyzeUserBehavior builds the historical behavior report for one user.
func (s *Service) AnalyzeUserBehavior(ctx context.Context, userID string, periodDays int) (_ *analytics.BehaviorAnalysis, err error) {
	defer recoverTo(&err)
	if err := s.guard(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", behavior.ErrProcessing)
	}
	return s.reader.AnalyzeUserBehavior(ctx, userID, periodDays)
}

// DetectAnomalies runs an on-demand detection scan over the entity's current
// profile. No event is folded; only the profile-wide strategies can fire.
func (s *Service) DetectAnomalies(ctx context.Context, entityID string, entityType behavior.EntityType) (_ []*behavior.Anomaly, err error) {
	defer recoverTo(&err)
	if err := s.guard(); err != nil {
		return nil, err
	}
	if !behavior.ValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: unknown entity type %q", behavior.ErrProcessing, entityType)
	}

	profile := s.manager.Get(entityID, entityType)
	if profile == nil {
		return nil, fmt.Errorf("%w: no profile for %s:%s", behavior.ErrNotFound, entityType, entityID)
	}

	findings, err := s.engine.Process(ctx, profile, nil)
	if err != nil {
		// Per-detector failures are already isolated inside the engine;
		// surface whatever findings the healthy strategies produced.
		logging.Ctx(ctx).Warn().Err(err).
			Str("entity_id", entityID).
			Msg("partial detection failure during on-demand scan")
	}
	if findings == nil {
		findings = []*behavior.Anomaly{}
	}
	return findings, nil
}

// GenerateInsights produces cross-entity insights. The generator may return
// an empty list; that is a successful result.
func (s *Service) GenerateInsights(ctx context.Context, entityIDs []string) (_ []*analytics.Insight, err error) {
	defer recoverTo(&err)
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.reader.GenerateInsights(ctx, entityIDs)
}

// GetProfile returns the cached behavioral profile for an entity, or nil when
// none exists. Absence is not an error.
func (s *Service) GetProfile(_ context.Context, entityID string, entityType behavior.EntityType) (_ *behavior.Profile, err error) {
	defer recoverTo(&err)
	if err := s.guard(); err != nil {
		return nil, err
	}
	if !behavior.ValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: unknown entity type %q", behavior.ErrProcessing, entityType)
	}
	return s.manager.Get(entityID, entityType), nil
}

// GetStats returns the aggregate counters from the durable store.
func (s *Service) GetStats(ctx context.Context) (_ *behavior.Stats, err error) {
	defer recoverTo(&err)
	if err := s.guard(); err != nil {
		return nil, err
	}
	stats, err := s.stats.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: stats query: %v", behavior.ErrPersistence, err)
	}
	return stats, nil
}

// QueueDepth reports the current in-memory backlog, used by health checks.
// In degraded mode there is no queue; the backlog is zero by definition.
func (s *Service) QueueDepth() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Depth()
}
