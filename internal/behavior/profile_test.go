// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package behavior

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

// mockProfileStore records upserts and serves canned profiles.
type mockProfileStore struct {
	upserts   int
	lastSaved *Profile
	profiles  []*Profile
	failWith  error
}

func (s *mockProfileStore) UpsertProfile(_ context.Context, p *Profile) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.upserts++
	s.lastSaved = p
	return nil
}

func (s *mockProfileStore) GetProfile(_ context.Context, entityID string, entityType EntityType) (*Profile, error) {
	for _, p := range s.profiles {
		if p.EntityID == entityID && p.EntityType == entityType {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (s *mockProfileStore) ListProfiles(_ context.Context) ([]*Profile, error) {
	return s.profiles, nil
}

func loginEvent(entityID string, ts time.Time) *Event {
	return &Event{
		ID:         fmt.Sprintf("ev-%d", ts.UnixNano()),
		EntityID:   entityID,
		EntityType: EntityTypeUser,
		EventType:  EventTypeLogin,
		Timestamp:  ts,
	}
}

func applyLogins(t *testing.T, mgr *Manager, entityID string, n int) *Profile {
	t.Helper()
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var p *Profile
	var err error
	for i := 0; i < n; i++ {
		event := loginEvent(entityID, ts.Add(time.Duration(i)*time.Minute))
		p, err = mgr.ApplyEvent(context.Background(), event, ExtractFeatures(event))
		if err != nil {
			t.Fatalf("ApplyEvent %d: %v", i, err)
		}
	}
	return p
}

func TestApplyEvent_CreatesLearningProfile(t *testing.T) {
	store := &mockProfileStore{}
	mgr := NewManager(store, DefaultManagerConfig())

	event := loginEvent("alice", time.Now())
	p, err := mgr.ApplyEvent(context.Background(), event, ExtractFeatures(event))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.Status != StatusLearning {
		t.Errorf("Status = %v, want learning", p.Status)
	}
	if p.ProfileID == "" {
		t.Error("ProfileID should be assigned")
	}
	if len(p.CurrentMetrics) != 3 {
		t.Errorf("metric count = %d, want 3", len(p.CurrentMetrics))
	}
	if len(p.BaselineMetrics) != 0 {
		t.Errorf("baseline count = %d, want 0 before maturity", len(p.BaselineMetrics))
	}
	if store.upserts != 1 {
		t.Errorf("upserts = %d, want 1 (write-through)", store.upserts)
	}
}

func TestApplyEvent_LearningToActiveTransition(t *testing.T) {
	// 50 login events co-update three metrics; all three mature together,
	// promoting the profile and freezing baselines. Total observations are
	// 150, so confidence lands at min(1, 150/250) = 0.6.
	store := &mockProfileStore{}
	mgr := NewManager(store, DefaultManagerConfig())

	p := applyLogins(t, mgr, "alice", 50)

	if p.Status != StatusActive {
		t.Fatalf("Status = %v, want active after 50 logins", p.Status)
	}
	if math.Abs(p.Confidence-0.6) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.6", p.Confidence)
	}
	for _, name := range []string{"login_frequency", "login_hour", "login_day_of_week"} {
		if _, ok := p.BaselineMetrics[name]; !ok {
			t.Errorf("baseline missing for %s", name)
		}
	}
}

func TestApplyEvent_StaysLearningBelowActivation(t *testing.T) {
	store := &mockProfileStore{}
	mgr := NewManager(store, DefaultManagerConfig())

	p := applyLogins(t, mgr, "bob", 49)

	if p.Status != StatusLearning {
		t.Errorf("Status = %v, want learning at 49 events", p.Status)
	}
}

func TestApplyEvent_BaselineOverwrittenDuringLearning(t *testing.T) {
	// While still learning, each update past maturity overwrites the frozen
	// snapshot rather than merging into it.
	cfg := DefaultManagerConfig()
	cfg.MinDataPoints = 2
	cfg.ActivationMetricCount = 5 // keep the profile in learning
	store := &mockProfileStore{}
	mgr := NewManager(store, cfg)

	ctx := context.Background()
	ts := time.Now()
	ev := &Event{EntityID: "carol", EntityType: EntityTypeUser, EventType: EventTypePageView, Timestamp: ts}

	for i := 0; i < 3; i++ {
		if _, err := mgr.ApplyEvent(ctx, ev, map[string]float64{"page_views": float64(i + 1)}); err != nil {
			t.Fatalf("ApplyEvent: %v", err)
		}
	}

	p := mgr.Get("carol", EntityTypeUser)
	if p.Status != StatusLearning {
		t.Fatalf("Status = %v, want learning", p.Status)
	}
	baseline := p.BaselineMetrics["page_views"]
	current := p.CurrentMetrics["page_views"]
	if baseline == nil {
		t.Fatal("baseline should be frozen once matured")
	}
	if baseline.DataPoints != current.DataPoints || baseline.Value != current.Value {
		t.Errorf("baseline snapshot = %+v, want overwrite matching current %+v", baseline, current)
	}
}

func TestApplyEvent_NoFreezeAfterActive(t *testing.T) {
	store := &mockProfileStore{}
	mgr := NewManager(store, DefaultManagerConfig())

	p := applyLogins(t, mgr, "dave", 50)
	frozen := p.BaselineMetrics["login_frequency"].DataPoints

	p = applyLogins(t, mgr, "dave", 10)
	if p.BaselineMetrics["login_frequency"].DataPoints != frozen {
		t.Error("baseline must not refresh once the profile is active")
	}
}

func TestRiskScore_DoubleWeightsAnomalousMetrics(t *testing.T) {
	mgr := NewManager(&mockProfileStore{}, DefaultManagerConfig())
	p := newProfile("erin", EntityTypeUser, time.Now())
	p.CurrentMetrics["a"] = &Metric{Name: "a", AnomalyScore: 1}
	p.CurrentMetrics["b"] = &Metric{Name: "b", AnomalyScore: 3} // above threshold, counts double

	mgr.recomputeRiskScore(p)

	want := (1.0 + 6.0) / 2.0
	if math.Abs(p.RiskScore-want) > 1e-9 {
		t.Errorf("RiskScore = %v, want %v", p.RiskScore, want)
	}
}

func TestRiskScore_ClampedToTen(t *testing.T) {
	mgr := NewManager(&mockProfileStore{}, DefaultManagerConfig())
	p := newProfile("frank", EntityTypeUser, time.Now())
	p.CurrentMetrics["a"] = &Metric{Name: "a", AnomalyScore: 50}

	mgr.recomputeRiskScore(p)

	if p.RiskScore != 10 {
		t.Errorf("RiskScore = %v, want clamp at 10", p.RiskScore)
	}
}

func TestApplyEvent_PersistenceFailureWrapped(t *testing.T) {
	store := &mockProfileStore{failWith: errors.New("disk full")}
	mgr := NewManager(store, DefaultManagerConfig())

	event := loginEvent("grace", time.Now())
	_, err := mgr.ApplyEvent(context.Background(), event, ExtractFeatures(event))
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("error = %v, want ErrPersistence", err)
	}
}

func TestRehydrate_PopulatesCache(t *testing.T) {
	saved := newProfile("heidi", EntityTypeSystem, time.Now())
	store := &mockProfileStore{profiles: []*Profile{saved}}
	mgr := NewManager(store, DefaultManagerConfig())

	if err := mgr.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	got := mgr.Get("heidi", EntityTypeSystem)
	if got == nil || got.ProfileID != saved.ProfileID {
		t.Errorf("Get after rehydrate = %+v, want profile %s", got, saved.ProfileID)
	}
	if mgr.Count() != 1 {
		t.Errorf("Count = %d, want 1", mgr.Count())
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := &mockProfileStore{}
	mgr := NewManager(store, DefaultManagerConfig())
	applyLogins(t, mgr, "ivan", 1)

	p1 := mgr.Get("ivan", EntityTypeUser)
	p1.CurrentMetrics["login_frequency"].Value = 999

	p2 := mgr.Get("ivan", EntityTypeUser)
	if p2.CurrentMetrics["login_frequency"].Value == 999 {
		t.Error("Get must return an independent copy")
	}
}

func TestGet_UnknownEntityReturnsNil(t *testing.T) {
	mgr := NewManager(&mockProfileStore{}, DefaultManagerConfig())
	if p := mgr.Get("nobody", EntityTypeUser); p != nil {
		t.Errorf("Get(nobody) = %+v, want nil", p)
	}
}
