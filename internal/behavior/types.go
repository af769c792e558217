// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package behavior

import (
	"context"
	"time"
)

// EntityType identifies the kind of subject being tracked.
type EntityType string

const (
	EntityTypeUser        EntityType = "user"
	EntityTypeSystem      EntityType = "system"
	EntityTypeApplication EntityType = "application"
	EntityTypeProcess     EntityType = "process"
)

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeUser, EntityTypeSystem, EntityTypeApplication, EntityTypeProcess:
		return true
	}
	return false
}

// ProfileStatus is the lifecycle state of a behavioral profile.
//
// Profiles start in learning and promote to active once enough metrics have
// accumulated observations. There is no automatic downgrade path; the
// suspicious and compromised states are set by an external reviewing process.
type ProfileStatus string

const (
	StatusLearning    ProfileStatus = "learning"
	StatusActive      ProfileStatus = "active"
	StatusSuspicious  ProfileStatus = "suspicious"
	StatusCompromised ProfileStatus = "compromised"
)

// Trend describes the recent direction of a metric relative to its mean.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendVolatile   Trend = "volatile"
)

// AnomalyType identifies the detection strategy family that produced a finding.
type AnomalyType string

const (
	AnomalyTypeStatistical AnomalyType = "statistical"
	AnomalyTypePattern     AnomalyType = "pattern"
	AnomalyTypeBehavioral  AnomalyType = "behavioral"
	AnomalyTypeTemporal    AnomalyType = "temporal"
	AnomalyTypeContextual  AnomalyType = "contextual"
)

// Severity indicates the severity level of an anomaly finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for max comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// EventData is the opaque key/value payload attached to an event.
// Values are scalars only (string, number, bool); nested structures are not
// interpreted by the engine.
type EventData map[string]any

// Float returns the numeric value for key if present and numeric.
// JSON decoding yields float64 for all numbers, but int values are accepted
// for events constructed in-process.
func (d EventData) Float(key string) (float64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// FloatOr returns the numeric value for key, or fallback when absent or
// non-numeric.
func (d EventData) FloatOr(key string, fallback float64) float64 {
	if v, ok := d.Float(key); ok {
		return v
	}
	return fallback
}

// String returns the string value for key if present.
func (d EventData) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Baseline is a frozen reference distribution for one metric.
//
// StdDev and Percentiles are carried for compatibility with the reference
// algorithm but are not maintained by the online update path; see the notes
// on UpdateMetric.
type Baseline struct {
	Mean        float64            `json:"mean"`
	StdDev      float64            `json:"std_dev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
}

// Metric is the running statistical state for one named feature of one entity.
type Metric struct {
	Name         string     `json:"name"`
	Value        float64    `json:"value"`
	Baseline     Baseline   `json:"baseline"`
	Trend        Trend      `json:"trend"`
	AnomalyScore float64    `json:"anomaly_score"`
	DataPoints   int64      `json:"data_points"`
	LastAnomaly  *time.Time `json:"last_anomaly,omitempty"`
}

// Clone returns a deep copy of the metric.
func (m *Metric) Clone() *Metric {
	out := *m
	if m.Baseline.Percentiles != nil {
		out.Baseline.Percentiles = make(map[string]float64, len(m.Baseline.Percentiles))
		for k, v := range m.Baseline.Percentiles {
			out.Baseline.Percentiles[k] = v
		}
	}
	if m.LastAnomaly != nil {
		t := *m.LastAnomaly
		out.LastAnomaly = &t
	}
	return &out
}

// Profile is the evolving statistical summary of one entity's behavior.
//
// BaselineMetrics holds frozen snapshots copied from CurrentMetrics while the
// profile is learning; CurrentMetrics is the live running state. The profile
// manager is the single writer for all mutable fields.
type Profile struct {
	ProfileID       string             `json:"profile_id"`
	EntityID        string             `json:"entity_id"`
	EntityType      EntityType         `json:"entity_type"`
	BaselineMetrics map[string]*Metric `json:"baseline_metrics"`
	CurrentMetrics  map[string]*Metric `json:"current_metrics"`
	RiskScore       float64            `json:"risk_score"`
	Confidence      float64            `json:"confidence"`
	Status          ProfileStatus      `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	LastUpdated     time.Time          `json:"last_updated"`
}

// Clone returns a deep copy of the profile. Readers outside the single-writer
// drain path must operate on copies.
func (p *Profile) Clone() *Profile {
	out := *p
	out.BaselineMetrics = cloneMetricMap(p.BaselineMetrics)
	out.CurrentMetrics = cloneMetricMap(p.CurrentMetrics)
	return &out
}

func cloneMetricMap(in map[string]*Metric) map[string]*Metric {
	if in == nil {
		return nil
	}
	out := make(map[string]*Metric, len(in))
	for name, m := range in {
		out[name] = m.Clone()
	}
	return out
}

// Key returns the cache key for the profile's entity reference.
func (p *Profile) Key() string {
	return ProfileKey(p.EntityID, p.EntityType)
}

// ProfileKey builds the cache key for an entity reference.
func ProfileKey(entityID string, entityType EntityType) string {
	return string(entityType) + ":" + entityID
}

// Event is an immutable activity fact for one entity.
//
// Processed flips to true only after the batch drain step completes for this
// event; it is never reset to false.
type Event struct {
	ID           string     `json:"id"`
	EntityID     string     `json:"entity_id"`
	EntityType   EntityType `json:"entity_type"`
	EventType    string     `json:"event_type"`
	EventData    EventData  `json:"event_data,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	Processed    bool       `json:"processed"`
	AnomalyScore *float64   `json:"anomaly_score,omitempty"`
	RiskLevel    *Severity  `json:"risk_level,omitempty"`
}

// Anomaly is a detection finding produced by one strategy.
//
// The engine never mutates a persisted anomaly; the Resolved, FalsePositive,
// and InvestigationNotes fields are owned by an external reviewing process.
type Anomaly struct {
	ID                 string      `json:"id"`
	EntityID           string      `json:"entity_id"`
	AnomalyType        AnomalyType `json:"anomaly_type"`
	Severity           Severity    `json:"severity"`
	Confidence         float64     `json:"confidence"`
	Description        string      `json:"description"`
	AffectedMetrics    []string    `json:"affected_metrics"`
	DetectionMethod    string      `json:"detection_method"`
	Timestamp          time.Time   `json:"timestamp"`
	Resolved           bool        `json:"resolved"`
	FalsePositive      bool        `json:"false_positive"`
	InvestigationNotes string      `json:"investigation_notes,omitempty"`
}

// AnomalyFilter defines filtering options for anomaly queries.
type AnomalyFilter struct {
	EntityID     string       `json:"entity_id,omitempty"`
	AnomalyTypes []AnomalyType `json:"anomaly_types,omitempty"`
	Severities   []Severity   `json:"severities,omitempty"`
	Resolved     *bool        `json:"resolved,omitempty"`
	Since        *time.Time   `json:"since,omitempty"`
	Limit        int          `json:"limit,omitempty"`
}

// Stats is the aggregate counter view exposed by the stats operation.
type Stats struct {
	TotalProfiles       int64                `json:"total_profiles"`
	ProfilesByStatus    map[ProfileStatus]int64 `json:"profiles_by_status"`
	ProfilesByType      map[EntityType]int64 `json:"profiles_by_type"`
	AverageRiskScore    float64              `json:"average_risk_score"`
	TotalEvents         int64                `json:"total_events"`
	ProcessedEvents     int64                `json:"processed_events"`
	ProcessedRatio      float64              `json:"processed_ratio"`
	TotalAnomalies      int64                `json:"total_anomalies"`
	AnomaliesByType     map[AnomalyType]int64 `json:"anomalies_by_type"`
	AnomaliesBySeverity map[Severity]int64   `json:"anomalies_by_severity"`
	UnresolvedAnomalies int64                `json:"unresolved_anomalies"`
}

// ProfileStore persists behavioral profiles.
type ProfileStore interface {
	// UpsertProfile writes the profile, replacing any prior row for its ID.
	UpsertProfile(ctx context.Context, profile *Profile) error

	// GetProfile retrieves a profile by entity reference.
	// Returns ErrNotFound when no profile exists.
	GetProfile(ctx context.Context, entityID string, entityType EntityType) (*Profile, error)

	// ListProfiles retrieves all profiles, used for cache rehydration.
	ListProfiles(ctx context.Context) ([]*Profile, error)
}

// EventStore persists behavioral events.
type EventStore interface {
	// AppendEvent durably records a new event.
	AppendEvent(ctx context.Context, event *Event) error

	// MarkEventProcessed flips the processed flag for an event.
	MarkEventProcessed(ctx context.Context, eventID string) error

	// ListEvents retrieves events for an entity since the given timestamp,
	// ordered by timestamp ascending.
	ListEvents(ctx context.Context, entityID string, entityType EntityType, since time.Time) ([]*Event, error)

	// ListUnprocessedEvents retrieves events whose drain step has not
	// completed, ordered by timestamp ascending. A non-positive limit
	// returns everything. Used on restart.
	ListUnprocessedEvents(ctx context.Context, limit int) ([]*Event, error)
}

// AnomalyStore persists anomaly findings.
type AnomalyStore interface {
	// InsertAnomaly records a new finding.
	InsertAnomaly(ctx context.Context, anomaly *Anomaly) error

	// ListAnomalies retrieves findings matching the filter, newest first.
	ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]*Anomaly, error)
}

// StatsStore provides aggregate count and average queries.
type StatsStore interface {
	GetStats(ctx context.Context) (*Stats, error)
}
