// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"behaviord/internal/behavior"
	"behaviord/internal/detection"
)

// memEventStore is an in-memory EventStore for tests.
type memEventStore struct {
	mu          sync.Mutex
	appended    []*behavior.Event
	processed   map[string]int
	appendErr   error
	markErrFor  map[string]error
	unprocessed []*behavior.Event
}

func newMemEventStore() *memEventStore {
	return &memEventStore{
		processed:  make(map[string]int),
		markErrFor: make(map[string]error),
	}
}

func (s *memEventStore) AppendEvent(_ context.Context, e *behavior.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, e)
	return nil
}

func (s *memEventStore) MarkEventProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markErrFor[eventID]; err != nil {
		return err
	}
	s.processed[eventID]++
	return nil
}

func (s *memEventStore) ListEvents(_ context.Context, _ string, _ behavior.EntityType, _ time.Time) ([]*behavior.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appended, nil
}

func (s *memEventStore) ListUnprocessedEvents(_ context.Context, _ int) ([]*behavior.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unprocessed, nil
}

// memProfileStore is a no-op ProfileStore for tests.
type memProfileStore struct{}

func (memProfileStore) UpsertProfile(context.Context, *behavior.Profile) error { return nil }
func (memProfileStore) GetProfile(context.Context, string, behavior.EntityType) (*behavior.Profile, error) {
	return nil, behavior.ErrNotFound
}
func (memProfileStore) ListProfiles(context.Context) ([]*behavior.Profile, error) { return nil, nil }

// memAnomalyStore is a no-op AnomalyStore for tests.
type memAnomalyStore struct{}

func (memAnomalyStore) InsertAnomaly(context.Context, *behavior.Anomaly) error { return nil }
func (memAnomalyStore) ListAnomalies(context.Context, behavior.AnomalyFilter) ([]*behavior.Anomaly, error) {
	return nil, nil
}

func newTestQueue(store behavior.EventStore, cfg Config) (*Queue, *behavior.Manager) {
	manager := behavior.NewManager(memProfileStore{}, behavior.DefaultManagerConfig())
	engine := detection.NewDefaultEngine(memAnomalyStore{}, nil)
	return New(store, manager, engine, cfg), manager
}

func testEvent(id, entityID string) *behavior.Event {
	return &behavior.Event{
		ID:         id,
		EntityID:   entityID,
		EntityType: behavior.EntityTypeUser,
		EventType:  behavior.EventTypeLogin,
		Timestamp:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestIngest_PersistsAndQueues(t *testing.T) {
	store := newMemEventStore()
	q, _ := newTestQueue(store, DefaultConfig())

	event := testEvent("", "alice")
	if err := q.Ingest(context.Background(), event); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if event.ID == "" {
		t.Error("Ingest should assign an event ID")
	}
	if len(store.appended) != 1 {
		t.Errorf("appended = %d, want 1 (persist before queue)", len(store.appended))
	}
	if q.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", q.Depth())
	}
}

func TestIngest_PersistenceFailureRejectsEvent(t *testing.T) {
	store := newMemEventStore()
	store.appendErr = errors.New("disk full")
	q, _ := newTestQueue(store, DefaultConfig())

	err := q.Ingest(context.Background(), testEvent("ev-1", "alice"))
	if !errors.Is(err, behavior.ErrPersistence) {
		t.Errorf("error = %v, want ErrPersistence", err)
	}
	if q.Depth() != 0 {
		t.Errorf("Depth = %d, want 0 after rejected ingest", q.Depth())
	}
}

func TestIngest_BacklogTriggersSynchronousDrain(t *testing.T) {
	store := newMemEventStore()
	cfg := DefaultConfig()
	cfg.BacklogThreshold = 10
	q, _ := newTestQueue(store, cfg)

	ctx := context.Background()
	for i := 0; i < 11; i++ {
		if err := q.Ingest(ctx, testEvent("", "alice")); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	// The 11th ingest pushed the depth past 10 and drained everything
	// before returning.
	if q.Depth() != 0 {
		t.Errorf("Depth = %d, want 0 after backlog drain", q.Depth())
	}
	store.mu.Lock()
	processedCount := len(store.processed)
	store.mu.Unlock()
	if processedCount != 11 {
		t.Errorf("processed events = %d, want 11", processedCount)
	}
}

func TestDrain_FIFOOrder(t *testing.T) {
	store := newMemEventStore()
	cfg := DefaultConfig()
	q, manager := newTestQueue(store, cfg)

	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		event := testEvent("", "alice")
		event.Timestamp = base.Add(time.Duration(i) * time.Hour)
		if err := q.Ingest(ctx, event); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	q.Drain(ctx)

	// Events fold in arrival order, so the profile's LastUpdated carries
	// the timestamp of the last event ingested.
	p := manager.Get("alice", behavior.EntityTypeUser)
	if p == nil {
		t.Fatal("profile should exist after drain")
	}
	if !p.LastUpdated.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("LastUpdated = %v, want %v", p.LastUpdated, base.Add(2*time.Hour))
	}
}

func TestDrain_RespectsBatchSize(t *testing.T) {
	store := newMemEventStore()
	cfg := DefaultConfig()
	cfg.BatchSize = 5
	cfg.BacklogThreshold = 100
	q, _ := newTestQueue(store, cfg)

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if err := q.Ingest(ctx, testEvent("", "alice")); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	if n := q.Drain(ctx); n != 5 {
		t.Errorf("first drain processed %d, want 5", n)
	}
	if q.Depth() != 3 {
		t.Errorf("Depth = %d, want 3", q.Depth())
	}
	if n := q.Drain(ctx); n != 3 {
		t.Errorf("second drain processed %d, want 3", n)
	}
}

func TestDrain_FailedEventRequeued(t *testing.T) {
	store := newMemEventStore()
	store.markErrFor["ev-bad"] = errors.New("write failed")
	q, manager := newTestQueue(store, DefaultConfig())

	ctx := context.Background()
	if err := q.Ingest(ctx, testEvent("ev-bad", "alice")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := q.Ingest(ctx, testEvent("ev-good", "bob")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if n := q.Drain(ctx); n != 1 {
		t.Errorf("processed = %d, want 1 (failure isolated)", n)
	}
	if q.Depth() != 1 {
		t.Errorf("Depth = %d, want 1 (failed event re-queued)", q.Depth())
	}
	if manager.Get("bob", behavior.EntityTypeUser) == nil {
		t.Error("healthy event should still reach its profile")
	}

	// The failure happens after the profile fold, so the retry folds the
	// event a second time. Processing is at-least-once, not idempotent.
	store.mu.Lock()
	delete(store.markErrFor, "ev-bad")
	store.mu.Unlock()

	if n := q.Drain(ctx); n != 1 {
		t.Errorf("retry processed = %d, want 1", n)
	}
	p := manager.Get("alice", behavior.EntityTypeUser)
	if p == nil {
		t.Fatal("profile should exist after retry")
	}
	if got := p.CurrentMetrics["login_frequency"].DataPoints; got != 2 {
		t.Errorf("login_frequency DataPoints = %d, want 2 (event folded twice)", got)
	}
}

func TestRehydrate_ReloadsUnprocessedEvents(t *testing.T) {
	store := newMemEventStore()
	store.unprocessed = []*behavior.Event{
		testEvent("ev-1", "alice"),
		testEvent("ev-2", "alice"),
	}
	q, _ := newTestQueue(store, DefaultConfig())

	if err := q.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	if q.Depth() != 2 {
		t.Errorf("Depth = %d, want 2", q.Depth())
	}
}

func TestProcessEvent_SetsEventOutcome(t *testing.T) {
	store := newMemEventStore()
	q, _ := newTestQueue(store, DefaultConfig())

	ctx := context.Background()
	event := testEvent("ev-1", "alice")
	if err := q.Ingest(ctx, event); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	q.Drain(ctx)

	if !event.Processed {
		t.Error("event should be marked processed")
	}
	if event.AnomalyScore == nil {
		t.Error("event should carry the profile risk score")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.processed["ev-1"] != 1 {
		t.Errorf("MarkEventProcessed calls = %d, want 1", store.processed["ev-1"])
	}
}

func TestDrain_EmptyQueueNoop(t *testing.T) {
	q, _ := newTestQueue(newMemEventStore(), DefaultConfig())
	if n := q.Drain(context.Background()); n != 0 {
		t.Errorf("Drain on empty queue = %d, want 0", n)
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	q, _ := newTestQueue(newMemEventStore(), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
