// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"time"

	"behaviord/internal/behavior"
)

// recordEventRequest is the POST /api/v1/events body. The caller never
// supplies an event ID or processed state; those are engine-owned.
type recordEventRequest struct {
	EntityID   string             `json:"entity_id" validate:"required,max=255"`
	EntityType string             `json:"entity_type" validate:"required,oneof=user system application process"`
	EventType  string             `json:"event_type" validate:"required,max=100"`
	EventData  behavior.EventData `json:"event_data"`
	Timestamp  *time.Time         `json:"timestamp"`
}

// detectAnomaliesRequest is the POST /api/v1/anomalies/detect body.
type detectAnomaliesRequest struct {
	EntityID   string `json:"entity_id" validate:"required,max=255"`
	EntityType string `json:"entity_type" validate:"required,oneof=user system application process"`
}
