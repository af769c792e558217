// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"behaviord/internal/config"
)

// Router wires handlers and middleware into the HTTP surface.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates the router.
func NewRouter(handler *Handler, cfg config.SecurityConfig) *Router {
	return &Router{
		handler:    handler,
		middleware: NewMiddleware(cfg),
	}
}

// Setup builds the full route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RealIP)
	r.Use(RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	// Health gets its own permissive rate budget so probes are never
	// starved by dashboard traffic.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.middleware.RateLimitHealth())
		r.Get("/", router.handler.Health)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.middleware.RateLimit())
		r.Use(PrometheusMetrics)
		r.Use(RequestLogger)

		r.Post("/events", router.handler.RecordEvent)
		r.Get("/profiles/{entityType}/{entityID}", router.handler.GetProfile)
		r.Post("/anomalies/detect", router.handler.DetectAnomalies)
		r.Get("/anomalies", router.handler.ListAnomalies)
		r.Get("/analytics/users/{userID}", router.handler.AnalyzeUser)
		r.Get("/insights", router.handler.Insights)
		r.Get("/stats", router.handler.Stats)
		r.Get("/ws", router.handler.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
