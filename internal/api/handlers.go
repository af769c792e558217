// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP surface over the behavior service using the
// Chi router. Every endpoint responds with the success/error envelope; no
// handler ever returns a partial payload alongside an error.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"behaviord/internal/behavior"
	"behaviord/internal/logging"
	"behaviord/internal/service"
	"behaviord/internal/validation"
	"behaviord/internal/websocket"
)

// Response is the envelope for every API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Handler serves the HTTP endpoints.
type Handler struct {
	svc       *service.Service
	anomalies behavior.AnomalyStore
	hub       *websocket.Hub
	upgrader  gorillaws.Upgrader
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *service.Service, anomalies behavior.AnomalyStore, hub *websocket.Hub, corsOrigins []string) *Handler {
	return &Handler{
		svc:       svc,
		anomalies: anomalies,
		hub:       hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(corsOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func respondJSON(w http.ResponseWriter, status int, response *Response) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, &Response{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &Response{Success: false, Error: message})
}

// respondServiceError maps the engine's error taxonomy onto HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, behavior.ErrNotInitialized):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, behavior.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, behavior.ErrInsufficientData):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, behavior.ErrProcessing):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		logging.Error().Err(err).Msg("API error")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// RecordEvent handles POST /api/v1/events.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, verr.ToAPIError().Message)
		return
	}

	event := &behavior.Event{
		EntityID:   req.EntityID,
		EntityType: behavior.EntityType(req.EntityType),
		EventType:  req.EventType,
		EventData:  req.EventData,
	}
	if req.Timestamp != nil {
		event.Timestamp = req.Timestamp.UTC()
	}

	eventID, err := h.svc.RecordEvent(r.Context(), event)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusAccepted, map[string]string{"event_id": eventID})
}

// GetProfile handles GET /api/v1/profiles/{entityType}/{entityID}.
// A missing profile is not an error; the data field is null.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	entityType := behavior.EntityType(chi.URLParam(r, "entityType"))
	entityID := chi.URLParam(r, "entityID")

	profile, err := h.svc.GetProfile(r.Context(), entityID, entityType)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, profile)
}

// DetectAnomalies handles POST /api/v1/anomalies/detect.
func (h *Handler) DetectAnomalies(w http.ResponseWriter, r *http.Request) {
	var req detectAnomaliesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondError(w, http.StatusBadRequest, verr.ToAPIError().Message)
		return
	}

	findings, err := h.svc.DetectAnomalies(r.Context(), req.EntityID, behavior.EntityType(req.EntityType))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"anomalies": findings})
}

// ListAnomalies handles GET /api/v1/anomalies.
// Supported query parameters: entity_id, type, severity, resolved, since
// (RFC3339), limit.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Ready() {
		respondServiceError(w, behavior.ErrNotInitialized)
		return
	}

	filter, err := anomalyFilterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	anomalies, err := h.anomalies.ListAnomalies(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []*behavior.Anomaly{}
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"anomalies": anomalies})
}

// AnalyzeUser handles GET /api/v1/analytics/users/{userID}.
func (h *Handler) AnalyzeUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	periodDays := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			respondError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
			return
		}
		periodDays = parsed
	}

	analysis, err := h.svc.AnalyzeUserBehavior(r.Context(), userID, periodDays)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, analysis)
}

// Insights handles GET /api/v1/insights. The entity_ids query parameter is a
// comma-separated list; empty means all tracked entities.
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	var entityIDs []string
	if raw := r.URL.Query().Get("entity_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				entityIDs = append(entityIDs, id)
			}
		}
	}

	insights, err := h.svc.GenerateInsights(r.Context(), entityIDs)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"insights": insights})
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondSuccess(w, http.StatusOK, stats)
}

// Health handles GET /api/v1/health. Degraded mode reports 503 so load
// balancers stop routing writes to an uninitialized instance.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if !h.svc.Ready() {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	respondJSON(w, status, &Response{
		Success: status == http.StatusOK,
		Data: map[string]interface{}{
			"status":      state,
			"queue_depth": h.svc.QueueDepth(),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// WebSocket handles GET /api/v1/ws, upgrading the connection and attaching
// the client to the broadcast hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

func anomalyFilterFromQuery(r *http.Request) (behavior.AnomalyFilter, error) {
	var filter behavior.AnomalyFilter
	q := r.URL.Query()

	filter.EntityID = q.Get("entity_id")
	for _, raw := range splitCSV(q.Get("type")) {
		filter.AnomalyTypes = append(filter.AnomalyTypes, behavior.AnomalyType(raw))
	}
	for _, raw := range splitCSV(q.Get("severity")) {
		filter.Severities = append(filter.Severities, behavior.Severity(raw))
	}
	if raw := q.Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, errors.New("resolved must be true or false")
		}
		filter.Resolved = &resolved
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("since must be an RFC3339 timestamp")
		}
		filter.Since = &since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			return filter, errors.New("limit must be an integer between 1 and 1000")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
