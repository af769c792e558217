// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scheduler implements the buffered event-processing pipeline.
//
// Events are persisted first, then queued in memory. A periodic ticker
// drains the queue in bounded batches; a backlog past the threshold forces
// an immediate synchronous drain of everything queued so the buffer cannot
// grow without bound. Drains are serialized, so profile mutation is
// single-writer by construction.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"behaviord/internal/behavior"
	"behaviord/internal/detection"
	"behaviord/internal/logging"
	"behaviord/internal/metrics"
)

// Drain triggers, used as metric labels.
const (
	triggerTicker  = "ticker"
	triggerBacklog = "backlog"
)

// Config tunes the event queue.
type Config struct {
	// BacklogThreshold is the queue depth above which ingestion triggers a
	// synchronous full drain.
	BacklogThreshold int

	// BatchSize is the maximum number of events drained per ticker cycle.
	BatchSize int

	// DrainInterval is the period of the background drain ticker.
	DrainInterval time.Duration
}

// DefaultConfig returns the reference queue tuning.
func DefaultConfig() Config {
	return Config{
		BacklogThreshold: 100,
		BatchSize:        50,
		DrainInterval:    15 * time.Minute,
	}
}

// Queue is the buffered event pipeline. Ingestion persists the event, then
// appends it to an in-memory FIFO; processing folds each event into its
// profile and runs the detection engine over the result.
type Queue struct {
	mu     sync.Mutex
	events []*behavior.Event

	drainMu sync.Mutex // serializes drains

	cfg     Config
	store   behavior.EventStore
	manager *behavior.Manager
	engine  *detection.Engine
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// New creates an event queue. Zero config values fall back to defaults.
func New(store behavior.EventStore, manager *behavior.Manager, engine *detection.Engine, cfg Config) *Queue {
	if cfg.BacklogThreshold <= 0 {
		cfg.BacklogThreshold = DefaultConfig().BacklogThreshold
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultConfig().DrainInterval
	}

	return &Queue{
		cfg:     cfg,
		store:   store,
		manager: manager,
		engine:  engine,
		breaker: newStoreBreaker(),
	}
}

// newStoreBreaker builds the circuit breaker guarding event persistence.
func newStoreBreaker() *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "event_store",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.UpdateCircuitBreakerState(name, float64(to))
		},
	})
}

// Ingest persists the event and appends it to the queue. If the backlog has
// grown past the threshold the whole queue is drained synchronously before
// returning, applying back-pressure to the caller.
func (q *Queue) Ingest(ctx context.Context, event *behavior.Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", behavior.ErrProcessing)
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if _, err := q.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, q.store.AppendEvent(ctx, event)
	}); err != nil {
		metrics.RecordCircuitBreakerRequest("event_store", "failure")
		return fmt.Errorf("%w: append event: %v", behavior.ErrPersistence, err)
	}
	metrics.RecordCircuitBreakerRequest("event_store", "success")
	metrics.RecordEventIngested()

	q.mu.Lock()
	q.events = append(q.events, event)
	depth := len(q.events)
	q.mu.Unlock()
	metrics.UpdateQueueDepth(depth)

	if depth > q.cfg.BacklogThreshold {
		logging.Warn().
			Int("depth", depth).
			Int("threshold", q.cfg.BacklogThreshold).
			Msg("event backlog past threshold, draining synchronously")
		q.drain(ctx, depth, triggerBacklog)
	}
	return nil
}

// Rehydrate reloads unprocessed events from the store into the queue. Events
// that were queued but unprocessed when the process stopped are picked up
// again on the next drain, which gives at-least-once processing.
func (q *Queue) Rehydrate(ctx context.Context) error {
	events, err := q.store.ListUnprocessedEvents(ctx, 0)
	if err != nil {
		return fmt.Errorf("%w: list unprocessed events: %v", behavior.ErrPersistence, err)
	}

	q.mu.Lock()
	q.events = append(q.events, events...)
	depth := len(q.events)
	q.mu.Unlock()
	metrics.UpdateQueueDepth(depth)

	logging.Info().Int("events", len(events)).Msg("rehydrated unprocessed events")
	return nil
}

// Depth returns the current queue depth.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drain processes up to the configured batch size. Exposed for on-demand
// flushing; the background ticker calls the same path.
func (q *Queue) Drain(ctx context.Context) int {
	return q.drain(ctx, q.cfg.BatchSize, triggerTicker)
}

// drain pops up to max events and processes them in FIFO order. Events whose
// processing fails are re-queued at the tail for a later attempt; only the
// snapshot taken at entry is processed, so a persistently failing event
// cannot loop a single drain forever.
func (q *Queue) drain(ctx context.Context, max int, trigger string) int {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	n := len(q.events)
	if n == 0 {
		q.mu.Unlock()
		return 0
	}
	if n > max {
		n = max
	}
	batch := make([]*behavior.Event, n)
	copy(batch, q.events[:n])
	q.events = q.events[n:]
	q.mu.Unlock()

	start := time.Now()
	processed := 0
	for _, event := range batch {
		if err := q.processEvent(ctx, event); err != nil {
			logging.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("entity_id", event.EntityID).
				Msg("event processing failed, re-queued")
			metrics.RecordEventProcessed(err)

			q.mu.Lock()
			q.events = append(q.events, event)
			q.mu.Unlock()
			continue
		}
		metrics.RecordEventProcessed(nil)
		processed++
	}

	metrics.RecordQueueDrain(trigger, time.Since(start))
	metrics.UpdateQueueDepth(q.Depth())
	metrics.UpdateProfilesTracked(q.manager.Count())

	logging.Debug().
		Str("trigger", trigger).
		Int("batch", len(batch)).
		Int("processed", processed).
		Msg("queue drained")
	return processed
}

// processEvent folds one event into its profile, runs detection over the
// updated snapshot, and marks the event processed. A panic in any stage is
// recovered and reported as a processing failure so one malformed event
// cannot take down the drain loop.
func (q *Queue) processEvent(ctx context.Context, event *behavior.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", behavior.ErrProcessing, r)
		}
	}()

	features := behavior.ExtractFeatures(event)
	profile, err := q.manager.ApplyEvent(ctx, event, features)
	if err != nil {
		return err
	}

	findings, err := q.engine.Process(ctx, profile, event)
	if err != nil {
		// Detector errors are isolated inside the engine; the surviving
		// findings are already persisted, so the event still completes.
		logging.Warn().Err(err).Str("event_id", event.ID).Msg("partial detection failure")
	}

	score := profile.RiskScore
	event.AnomalyScore = &score
	if len(findings) > 0 {
		level := findings[0].Severity
		for _, f := range findings[1:] {
			level = behavior.MaxSeverity(level, f.Severity)
		}
		event.RiskLevel = &level
	}
	event.Processed = true

	if _, err := q.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, q.store.MarkEventProcessed(ctx, event.ID)
	}); err != nil {
		metrics.RecordCircuitBreakerRequest("event_store", "failure")
		return fmt.Errorf("%w: mark event processed: %v", behavior.ErrPersistence, err)
	}
	metrics.RecordCircuitBreakerRequest("event_store", "success")
	return nil
}

// Serve runs the background drain ticker until the context is canceled.
// It implements suture.Service.
func (q *Queue) Serve(ctx context.Context) error {
	queueLogger := logging.WithComponent("event-queue")
	queueLogger.Info().
		Dur("interval", q.cfg.DrainInterval).
		Int("batch_size", q.cfg.BatchSize).
		Int("backlog_threshold", q.cfg.BacklogThreshold).
		Msg("event queue started")

	ticker := time.NewTicker(q.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Int("remaining", q.Depth()).Msg("event queue shutting down")
			return ctx.Err()
		case <-ticker.C:
			q.drain(ctx, q.cfg.BatchSize, triggerTicker)
		}
	}
}

// String identifies the service in supervisor logs.
func (q *Queue) String() string {
	return "event-queue"
}
