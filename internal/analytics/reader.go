// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analytics aggregates raw historical events into per-user behavior
// reports. The reader works from the durable event log, not from the live
// profile, so its numbers reflect the selected window exactly.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"behaviord/internal/behavior"
	"behaviord/internal/logging"
)

// MinEventsForAnalysis is the history floor below which analysis is refused.
const MinEventsForAnalysis = 10

// DefaultPeriodDays is the analysis window when the caller does not give one.
const DefaultPeriodDays = 30

// Off-hours boundaries: activity before 06:00 or after 22:00 counts as
// off-hours access.
const (
	offHoursMorning = 6
	offHoursEvening = 22
)

// Event types recognized by the risk and collaboration counters beyond the
// core feature-extraction set.
const (
	EventTypeDataExfiltration = "data_exfiltration"
	EventTypeFileShare        = "file_share"
	EventTypeTeamMessage      = "team_message"
)

// LoginPatterns summarizes when and from where a user logs in.
type LoginPatterns struct {
	ByHour      [24]int64 `json:"by_hour"`
	ByDayOfWeek [7]int64  `json:"by_day_of_week"`
	Locations   []string  `json:"locations"`
	Devices     []string  `json:"devices"`
	TotalLogins int64     `json:"total_logins"`
}

// ActivityMetrics summarizes how active the user was over the window. The
// running summaries reuse the profile metric primitive, so mean and extrema
// follow the same EMA rules as live profiles.
type ActivityMetrics struct {
	SessionDuration *behavior.Metric            `json:"session_duration,omitempty"`
	PageViews       *behavior.Metric            `json:"page_views,omitempty"`
	Actions         map[string]*behavior.Metric `json:"actions"`
}

// RiskBehaviors counts the security-relevant behaviors in the window and the
// derived user risk score.
type RiskBehaviors struct {
	FailedLogins         int64   `json:"failed_logins"`
	PrivilegeEscalations int64   `json:"privilege_escalations"`
	DataExfiltration     int64   `json:"data_exfiltration"`
	OffHoursAccess       int64   `json:"off_hours_access"`
	DataAccessCount      int64   `json:"data_access_count"`
	RiskScore            float64 `json:"risk_score"`
}

// CollaborationMetrics counts sharing and messaging behavior.
type CollaborationMetrics struct {
	FileShares   int64    `json:"file_shares"`
	TeamMessages int64    `json:"team_messages"`
	Peers        []string `json:"peers"`
}

// BehaviorAnalysis is the full report for one user over one window.
type BehaviorAnalysis struct {
	UserID        string               `json:"user_id"`
	PeriodDays    int                  `json:"period_days"`
	EventCount    int                  `json:"event_count"`
	GeneratedAt   time.Time            `json:"generated_at"`
	LoginPatterns LoginPatterns        `json:"login_patterns"`
	Activity      ActivityMetrics      `json:"activity"`
	RiskBehaviors RiskBehaviors        `json:"risk_behaviors"`
	Collaboration CollaborationMetrics `json:"collaboration"`
}

// Reader aggregates historical events into behavior reports.
type Reader struct {
	store         behavior.EventStore
	defaultPeriod int
}

// NewReader creates an analytics reader over the event store.
func NewReader(store behavior.EventStore) *Reader {
	return &Reader{store: store, defaultPeriod: DefaultPeriodDays}
}

// SetDefaultPeriod overrides the trailing window used when a caller does not
// supply one. Non-positive values are ignored.
func (r *Reader) SetDefaultPeriod(days int) {
	if days > 0 {
		r.defaultPeriod = days
	}
}

// AnalyzeUserBehavior builds the report for one user over the trailing
// window. It requires at least MinEventsForAnalysis historical events and
// fails with ErrInsufficientData below that.
func (r *Reader) AnalyzeUserBehavior(ctx context.Context, userID string, periodDays int) (*BehaviorAnalysis, error) {
	if periodDays <= 0 {
		periodDays = r.defaultPeriod
	}
	since := time.Now().UTC().AddDate(0, 0, -periodDays)

	events, err := r.store.ListEvents(ctx, userID, behavior.EntityTypeUser, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %v", behavior.ErrPersistence, err)
	}
	if len(events) < MinEventsForAnalysis {
		return nil, fmt.Errorf("%w: %d events in the last %d days, need at least %d",
			behavior.ErrInsufficientData, len(events), periodDays, MinEventsForAnalysis)
	}

	analysis := &BehaviorAnalysis{
		UserID:      userID,
		PeriodDays:  periodDays,
		EventCount:  len(events),
		GeneratedAt: time.Now().UTC(),
		Activity: ActivityMetrics{
			Actions: make(map[string]*behavior.Metric),
		},
	}

	locations := make(map[string]struct{})
	devices := make(map[string]struct{})
	peers := make(map[string]struct{})

	for _, event := range events {
		r.foldLogin(analysis, event, locations, devices)
		r.foldActivity(analysis, event)
		r.foldRisk(analysis, event)
		r.foldCollaboration(analysis, event, peers)
	}

	analysis.LoginPatterns.Locations = sortedKeys(locations)
	analysis.LoginPatterns.Devices = sortedKeys(devices)
	analysis.Collaboration.Peers = sortedKeys(peers)
	analysis.RiskBehaviors.RiskScore = r.riskScore(analysis)

	logging.Debug().
		Str("user_id", userID).
		Int("events", len(events)).
		Float64("risk_score", analysis.RiskBehaviors.RiskScore).
		Msg("behavior analysis generated")
	return analysis, nil
}

func (r *Reader) foldLogin(a *BehaviorAnalysis, event *behavior.Event, locations, devices map[string]struct{}) {
	if event.EventType != behavior.EventTypeLogin {
		return
	}
	a.LoginPatterns.TotalLogins++
	a.LoginPatterns.ByHour[event.Timestamp.Hour()]++
	a.LoginPatterns.ByDayOfWeek[int(event.Timestamp.Weekday())]++
	if loc, ok := event.EventData.String("location"); ok {
		locations[loc] = struct{}{}
	}
	if dev, ok := event.EventData.String("device"); ok {
		devices[dev] = struct{}{}
	}
}

func (r *Reader) foldActivity(a *BehaviorAnalysis, event *behavior.Event) {
	now := event.Timestamp
	if dur, ok := event.EventData.Float("session_duration"); ok {
		if a.Activity.SessionDuration == nil {
			a.Activity.SessionDuration = behavior.NewMetric("session_duration", dur)
		} else {
			behavior.UpdateMetric(a.Activity.SessionDuration, dur, now)
		}
	}
	if event.EventType == behavior.EventTypePageView {
		count := event.EventData.FloatOr("count", 1)
		if a.Activity.PageViews == nil {
			a.Activity.PageViews = behavior.NewMetric("page_views", count)
		} else {
			behavior.UpdateMetric(a.Activity.PageViews, count, now)
		}
	}

	if m, ok := a.Activity.Actions[event.EventType]; ok {
		behavior.UpdateMetric(m, 1, now)
	} else {
		a.Activity.Actions[event.EventType] = behavior.NewMetric(event.EventType, 1)
	}
}

func (r *Reader) foldRisk(a *BehaviorAnalysis, event *behavior.Event) {
	switch event.EventType {
	case behavior.EventTypeFailedLogin:
		a.RiskBehaviors.FailedLogins++
	case behavior.EventTypePrivilegeEscalation:
		a.RiskBehaviors.PrivilegeEscalations++
	case EventTypeDataExfiltration:
		a.RiskBehaviors.DataExfiltration++
	case behavior.EventTypeRiskAccess:
		a.RiskBehaviors.DataAccessCount++
	}

	hour := event.Timestamp.Hour()
	if hour < offHoursMorning || hour > offHoursEvening {
		a.RiskBehaviors.OffHoursAccess++
	}
}

func (r *Reader) foldCollaboration(a *BehaviorAnalysis, event *behavior.Event, peers map[string]struct{}) {
	switch event.EventType {
	case EventTypeFileShare:
		a.Collaboration.FileShares++
	case EventTypeTeamMessage:
		a.Collaboration.TeamMessages++
	default:
		return
	}
	if peer, ok := event.EventData.String("peer"); ok {
		peers[peer] = struct{}{}
	}
}

// riskScore derives the fixed linear user risk score, clamped to [0, 10]:
// 2 per failed login, 5 per privilege escalation, 10 per data exfiltration,
// 0.5 per off-hours access, +2 for a mean session duration above 12, +1 for
// more than 100 data accesses.
func (r *Reader) riskScore(a *BehaviorAnalysis) float64 {
	score := 2*float64(a.RiskBehaviors.FailedLogins) +
		5*float64(a.RiskBehaviors.PrivilegeEscalations) +
		10*float64(a.RiskBehaviors.DataExfiltration) +
		0.5*float64(a.RiskBehaviors.OffHoursAccess)

	if a.Activity.SessionDuration != nil && a.Activity.SessionDuration.Baseline.Mean > 12 {
		score += 2
	}
	if a.RiskBehaviors.DataAccessCount > 100 {
		score++
	}

	if score > 10 {
		score = 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
