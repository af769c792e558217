// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"behaviord/internal/analytics"
	"behaviord/internal/behavior"
	"behaviord/internal/config"
	"behaviord/internal/detection"
	"behaviord/internal/scheduler"
	"behaviord/internal/service"
	"behaviord/internal/websocket"
)

type memEventStore struct {
	appended  []*behavior.Event
	processed map[string]bool
}

func (s *memEventStore) AppendEvent(_ context.Context, event *behavior.Event) error {
	s.appended = append(s.appended, event)
	return nil
}

func (s *memEventStore) MarkEventProcessed(_ context.Context, eventID string) error {
	s.processed[eventID] = true
	return nil
}

func (s *memEventStore) ListEvents(_ context.Context, entityID string, entityType behavior.EntityType, since time.Time) ([]*behavior.Event, error) {
	var out []*behavior.Event
	for _, ev := range s.appended {
		if ev.EntityID == entityID && ev.EntityType == entityType && !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memEventStore) ListUnprocessedEvents(_ context.Context, _ int) ([]*behavior.Event, error) {
	return nil, nil
}

type memProfileStore struct {
	profiles map[string]*behavior.Profile
}

func (s *memProfileStore) UpsertProfile(_ context.Context, p *behavior.Profile) error {
	s.profiles[p.Key()] = p.Clone()
	return nil
}

func (s *memProfileStore) GetProfile(_ context.Context, entityID string, entityType behavior.EntityType) (*behavior.Profile, error) {
	p, ok := s.profiles[behavior.ProfileKey(entityID, entityType)]
	if !ok {
		return nil, behavior.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memProfileStore) ListProfiles(_ context.Context) ([]*behavior.Profile, error) {
	var out []*behavior.Profile
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return out, nil
}

type memAnomalyStore struct {
	inserted []*behavior.Anomaly
}

func (s *memAnomalyStore) InsertAnomaly(_ context.Context, a *behavior.Anomaly) error {
	s.inserted = append(s.inserted, a)
	return nil
}

func (s *memAnomalyStore) ListAnomalies(_ context.Context, filter behavior.AnomalyFilter) ([]*behavior.Anomaly, error) {
	var out []*behavior.Anomaly
	for _, a := range s.inserted {
		if filter.EntityID != "" && a.EntityID != filter.EntityID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type memStatsStore struct{}

func (s *memStatsStore) GetStats(_ context.Context) (*behavior.Stats, error) {
	return &behavior.Stats{TotalProfiles: 2, TotalEvents: 7}, nil
}

type apiEnv struct {
	server    *httptest.Server
	svc       *service.Service
	events    *memEventStore
	profiles  *memProfileStore
	anomalies *memAnomalyStore
	manager   *behavior.Manager
}

func newAPIEnv(t *testing.T, ready bool) *apiEnv {
	t.Helper()

	events := &memEventStore{processed: make(map[string]bool)}
	profiles := &memProfileStore{profiles: make(map[string]*behavior.Profile)}
	anomalies := &memAnomalyStore{}

	manager := behavior.NewManager(profiles, behavior.DefaultManagerConfig())
	engine := detection.NewDefaultEngine(anomalies, nil)
	queue := scheduler.New(events, manager, engine, scheduler.DefaultConfig())
	reader := analytics.NewReader(events)

	svc := service.New(queue, manager, engine, reader, profiles, &memStatsStore{})
	if ready {
		svc.MarkReady()
	}

	hub := websocket.NewHub()
	handler := NewHandler(svc, anomalies, hub, []string{"*"})
	router := NewRouter(handler, config.SecurityConfig{
		RateLimitDisabled: true,
		CORSOrigins:       []string{"*"},
	})

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &apiEnv{
		server:    server,
		svc:       svc,
		events:    events,
		profiles:  profiles,
		anomalies: anomalies,
		manager:   manager,
	}
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, envelope
}

func TestRecordEvent_Accepted(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, envelope := doJSON(t, http.MethodPost, env.server.URL+"/api/v1/events", map[string]interface{}{
		"entity_id":   "alice",
		"entity_type": "user",
		"event_type":  "login",
		"event_data":  map[string]interface{}{"location": "berlin"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if !envelope.Success {
		t.Fatalf("success = false, error: %s", envelope.Error)
	}
	data := envelope.Data.(map[string]interface{})
	if data["event_id"] == "" {
		t.Error("event_id missing from response")
	}
	if len(env.events.appended) != 1 {
		t.Errorf("appended %d events, want 1", len(env.events.appended))
	}
}

func TestRecordEvent_ValidationFailure(t *testing.T) {
	env := newAPIEnv(t, true)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing entity id", map[string]interface{}{"entity_type": "user", "event_type": "login"}},
		{"bad entity type", map[string]interface{}{"entity_id": "a", "entity_type": "robot", "event_type": "login"}},
		{"missing event type", map[string]interface{}{"entity_id": "a", "entity_type": "user"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, envelope := doJSON(t, http.MethodPost, env.server.URL+"/api/v1/events", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if envelope.Success || envelope.Error == "" {
				t.Errorf("expected error envelope, got %+v", envelope)
			}
		})
	}
}

func TestRecordEvent_MalformedJSON(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, err := http.Post(env.server.URL+"/api/v1/events", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDegradedMode_Returns503(t *testing.T) {
	env := newAPIEnv(t, false)

	resp, envelope := doJSON(t, http.MethodPost, env.server.URL+"/api/v1/events", map[string]interface{}{
		"entity_id":   "alice",
		"entity_type": "user",
		"event_type":  "login",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if envelope.Success {
		t.Error("expected error envelope in degraded mode")
	}

	healthResp, healthEnv := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/health", nil)
	if healthResp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", healthResp.StatusCode)
	}
	health := healthEnv.Data.(map[string]interface{})
	if health["status"] != "degraded" {
		t.Errorf("health state = %v, want degraded", health["status"])
	}
}

func TestDegradedMode_NilCollaborators(t *testing.T) {
	// Mirrors the startup fallback when the database cannot be opened: the
	// service is built with no queue, stores, or engine at all. Every
	// endpoint must still answer, not panic into the recoverer.
	svc := service.New(nil, nil, nil, nil, nil, nil)
	handler := NewHandler(svc, nil, websocket.NewHub(), []string{"*"})
	router := NewRouter(handler, config.SecurityConfig{
		RateLimitDisabled: true,
		CORSOrigins:       []string{"*"},
	})
	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	healthResp, healthEnv := doJSON(t, http.MethodGet, server.URL+"/api/v1/health", nil)
	if healthResp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want 503", healthResp.StatusCode)
	}
	health := healthEnv.Data.(map[string]interface{})
	if health["status"] != "degraded" {
		t.Errorf("health state = %v, want degraded", health["status"])
	}
	if depth, ok := health["queue_depth"].(float64); !ok || depth != 0 {
		t.Errorf("queue_depth = %v, want 0 without a queue", health["queue_depth"])
	}

	for _, url := range []string{
		server.URL + "/api/v1/anomalies",
		server.URL + "/api/v1/stats",
		server.URL + "/api/v1/profiles/user/alice",
	} {
		resp, envelope := doJSON(t, http.MethodGet, url, nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", url, resp.StatusCode)
		}
		if envelope.Success {
			t.Errorf("GET %s returned success in degraded mode", url)
		}
	}
}

func TestGetProfile_NullWhenAbsent(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, envelope := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/profiles/user/nobody", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !envelope.Success {
		t.Fatalf("success = false: %s", envelope.Error)
	}
	if envelope.Data != nil {
		t.Errorf("data = %#v, want null for absent profile", envelope.Data)
	}
}

func TestGetProfile_BadEntityType(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, _ := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/profiles/robot/alice", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func seedProfile(t *testing.T, env *apiEnv, profile *behavior.Profile) {
	t.Helper()
	if err := env.profiles.UpsertProfile(context.Background(), profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	if err := env.manager.Rehydrate(context.Background()); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
}

func TestGetProfile_ReturnsProfile(t *testing.T) {
	env := newAPIEnv(t, true)
	seedProfile(t, env, &behavior.Profile{
		ProfileID:       "prof-alice",
		EntityID:        "alice",
		EntityType:      behavior.EntityTypeUser,
		BaselineMetrics: map[string]*behavior.Metric{},
		CurrentMetrics:  map[string]*behavior.Metric{},
		RiskScore:       1.25,
		Status:          behavior.StatusLearning,
		CreatedAt:       time.Now().UTC(),
		LastUpdated:     time.Now().UTC(),
	})

	resp, envelope := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/profiles/user/alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	profile := envelope.Data.(map[string]interface{})
	if profile["profile_id"] != "prof-alice" {
		t.Errorf("profile_id = %v, want prof-alice", profile["profile_id"])
	}
	if profile["risk_score"] != 1.25 {
		t.Errorf("risk_score = %v, want 1.25", profile["risk_score"])
	}
}

func TestDetectAnomalies_NotFound(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, envelope := doJSON(t, http.MethodPost, env.server.URL+"/api/v1/anomalies/detect", map[string]interface{}{
		"entity_id":   "ghost",
		"entity_type": "user",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if envelope.Success {
		t.Error("expected error envelope for unknown entity")
	}
}

func TestDetectAnomalies_ReturnsFindings(t *testing.T) {
	env := newAPIEnv(t, true)
	seedProfile(t, env, &behavior.Profile{
		ProfileID:  "prof-alice",
		EntityID:   "alice",
		EntityType: behavior.EntityTypeUser,
		CurrentMetrics: map[string]*behavior.Metric{
			"login_hour": {Name: "login_hour", Value: 3, DataPoints: 80},
		},
		BaselineMetrics: map[string]*behavior.Metric{},
		RiskScore:       9.4,
		Confidence:      0.9,
		Status:          behavior.StatusActive,
		CreatedAt:       time.Now().UTC(),
		LastUpdated:     time.Now().UTC(),
	})

	resp, envelope := doJSON(t, http.MethodPost, env.server.URL+"/api/v1/anomalies/detect", map[string]interface{}{
		"entity_id":   "alice",
		"entity_type": "user",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := envelope.Data.(map[string]interface{})
	findings := data["anomalies"].([]interface{})
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	finding := findings[0].(map[string]interface{})
	if finding["anomaly_type"] != "behavioral" {
		t.Errorf("anomaly_type = %v, want behavioral", finding["anomaly_type"])
	}
}

func TestListAnomalies(t *testing.T) {
	env := newAPIEnv(t, true)
	env.anomalies.inserted = []*behavior.Anomaly{
		{ID: "an-1", EntityID: "alice", AnomalyType: behavior.AnomalyTypeStatistical, Severity: behavior.SeverityHigh, AffectedMetrics: []string{"login_hour"}, Timestamp: time.Now().UTC()},
		{ID: "an-2", EntityID: "bob", AnomalyType: behavior.AnomalyTypeBehavioral, Severity: behavior.SeverityMedium, AffectedMetrics: []string{"page_views"}, Timestamp: time.Now().UTC()},
	}

	resp, envelope := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/anomalies?entity_id=alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := envelope.Data.(map[string]interface{})
	anomalies := data["anomalies"].([]interface{})
	if len(anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1 for alice", len(anomalies))
	}
}

func TestListAnomalies_BadQuery(t *testing.T) {
	env := newAPIEnv(t, true)

	for _, query := range []string{"?limit=0", "?limit=9999", "?resolved=maybe", "?since=yesterday"} {
		resp, _ := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/anomalies"+query, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("query %s: status = %d, want 400", query, resp.StatusCode)
		}
	}
}

func TestAnalyzeUser_InsufficientData(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, envelope := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/analytics/users/alice", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
	if envelope.Success {
		t.Error("expected error envelope for insufficient history")
	}
}

func TestAnalyzeUser_Success(t *testing.T) {
	env := newAPIEnv(t, true)
	base := time.Now().UTC().Add(-2 * time.Hour)
	for i := 0; i < 12; i++ {
		env.events.appended = append(env.events.appended, &behavior.Event{
			ID:         "ev",
			EntityID:   "alice",
			EntityType: behavior.EntityTypeUser,
			EventType:  behavior.EventTypeLogin,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	resp, envelope := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/analytics/users/alice?days=7", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (error: %s)", resp.StatusCode, envelope.Error)
	}
	analysis := envelope.Data.(map[string]interface{})
	if analysis["event_count"] != float64(12) {
		t.Errorf("event_count = %v, want 12", analysis["event_count"])
	}
	if analysis["period_days"] != float64(7) {
		t.Errorf("period_days = %v, want 7", analysis["period_days"])
	}
}

func TestAnalyzeUser_BadDays(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, _ := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/analytics/users/alice?days=9000", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInsights_EmptyListIsSuccess(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, envelope := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/insights?entity_ids=alice,bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := envelope.Data.(map[string]interface{})
	insights := data["insights"].([]interface{})
	if len(insights) != 0 {
		t.Errorf("got %d insights, want 0", len(insights))
	}
}

func TestStats(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, envelope := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	stats := envelope.Data.(map[string]interface{})
	if stats["total_profiles"] != float64(2) {
		t.Errorf("total_profiles = %v, want 2", stats["total_profiles"])
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
