// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package behavior

// Well-known event types with dedicated feature mappings. Any other event
// type folds into the generic activity feature.
const (
	EventTypeLogin               = "login"
	EventTypePageView            = "page_view"
	EventTypeRiskAccess          = "risk_access"
	EventTypeComplianceAction    = "compliance_action"
	EventTypeFailedLogin         = "failed_login"
	EventTypePrivilegeEscalation = "privilege_escalation"
)

// ExtractFeatures maps a raw event to named numeric features.
//
// The mapping is a fixed compatibility contract: downstream baselines are
// keyed by these feature names, so changing a name or value derivation
// invalidates every stored profile.
func ExtractFeatures(event *Event) map[string]float64 {
	switch event.EventType {
	case EventTypeLogin:
		return map[string]float64{
			"login_frequency":   1,
			"login_hour":        float64(event.Timestamp.Hour()),
			"login_day_of_week": float64(event.Timestamp.Weekday()),
		}
	case EventTypePageView:
		return map[string]float64{
			"page_views":       1,
			"session_activity": 1,
		}
	case EventTypeRiskAccess:
		return map[string]float64{
			"risk_interactions": 1,
			"data_access":       event.EventData.FloatOr("sensitivity", 1),
		}
	case EventTypeComplianceAction:
		return map[string]float64{
			"compliance_activity": 1,
			"compliance_score":    event.EventData.FloatOr("score", 0),
		}
	case EventTypeFailedLogin:
		return map[string]float64{
			"failed_logins":   1,
			"security_events": 1,
		}
	case EventTypePrivilegeEscalation:
		return map[string]float64{
			"privilege_events": 1,
			"security_risk":    event.EventData.FloatOr("risk_level", 5),
		}
	default:
		return map[string]float64{
			"general_activity": 1,
		}
	}
}
