// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command server runs the behavioral anomaly detection engine: an HTTP API
// over a DuckDB-backed event pipeline, with profile learning, anomaly
// detection, and WebSocket fan-out supervised by a suture tree.
//
// If the database cannot be opened at startup the process does not exit; it
// serves in degraded mode where every data endpoint answers 503 until the
// operator fixes storage and restarts.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"behaviord/internal/analytics"
	"behaviord/internal/api"
	"behaviord/internal/behavior"
	"behaviord/internal/config"
	"behaviord/internal/detection"
	"behaviord/internal/logging"
	"behaviord/internal/metrics"
	"behaviord/internal/scheduler"
	"behaviord/internal/service"
	"behaviord/internal/store"
	"behaviord/internal/supervisor"
	"behaviord/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Init(logging.DefaultConfig())
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("go_version", runtime.Version()).
		Int("port", cfg.Server.Port).
		Msg("Starting behaviord")

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go trackUptime(ctx)

	hub := websocket.NewHub()

	svc, queue, anomalies, cleanup := initService(ctx, cfg, hub)
	defer cleanup()

	handler := api.NewHandler(svc, anomalies, hub, cfg.Security.CORSOrigins)
	router := api.NewRouter(handler, cfg.Security)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if queue != nil {
		tree.AddProcessingService(queue)
	}
	tree.AddMessagingService(hub)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))

	if svc.Ready() {
		go broadcastStats(ctx, svc, hub)
	}

	logging.Info().Str("addr", server.Addr).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
	}
	logging.Info().Msg("Shutdown complete")
}

// initService builds the full processing stack. On any storage failure it
// logs the cause and returns a service that was never marked ready, so the
// API surface stays up and reports 503 instead of the process dying.
func initService(ctx context.Context, cfg *config.Config, hub *websocket.Hub) (*service.Service, *scheduler.Queue, behavior.AnomalyStore, func()) {
	degraded := func(err error, msg string) (*service.Service, *scheduler.Queue, behavior.AnomalyStore, func()) {
		logging.Error().Err(err).Msg(msg + "; continuing in degraded mode")
		return service.New(nil, nil, nil, nil, nil, nil), nil, nil, func() {}
	}

	db, err := store.New(cfg.Database)
	if err != nil {
		return degraded(err, "Failed to open database")
	}

	st := store.NewDuckDBStore(db.Conn())

	manager := behavior.NewManager(st, behavior.ManagerConfig{
		MinDataPoints:         cfg.Profile.MinDataPoints,
		StatisticalThreshold:  cfg.Profile.StatisticalThreshold,
		ActivationMetricCount: cfg.Profile.ActivationMetricCount,
	})

	engine := detection.NewDefaultEngine(st, hub)
	engine.SetEnabled(cfg.Detection.Enabled)
	if cfg.Detection.RiskThreshold > 0 {
		raw, _ := json.Marshal(detection.BehavioralConfig{RiskThreshold: cfg.Detection.RiskThreshold})
		if err := engine.ConfigureDetector("behavioral_risk", raw); err != nil {
			logging.Warn().Err(err).Msg("Failed to configure behavioral risk detector")
		}
	}

	queue := scheduler.New(st, manager, engine, scheduler.Config{
		BacklogThreshold: cfg.Queue.BacklogThreshold,
		BatchSize:        cfg.Queue.BatchSize,
		DrainInterval:    cfg.Queue.DrainInterval,
	})

	// Profiles must be in memory before the queue replays unprocessed
	// events, otherwise replayed events would re-create empty profiles.
	if err := manager.Rehydrate(ctx); err != nil {
		_ = db.Close()
		return degraded(err, "Failed to rehydrate profiles")
	}
	if err := queue.Rehydrate(ctx); err != nil {
		_ = db.Close()
		return degraded(err, "Failed to rehydrate event queue")
	}

	reader := analytics.NewReader(st)
	reader.SetDefaultPeriod(cfg.Analytics.DefaultPeriodDays)

	svc := service.New(queue, manager, engine, reader, st, st)
	svc.MarkReady()

	logging.Info().
		Int("profiles", manager.Count()).
		Int("queued_events", queue.Depth()).
		Msg("Service initialized")

	cleanup := func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}
	return svc, queue, st, cleanup
}

// trackUptime updates the uptime gauge until shutdown.
func trackUptime(ctx context.Context) {
	start := time.Now()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.AppUptime.Set(time.Since(start).Seconds())
		}
	}
}

// broadcastStats pushes engine statistics to WebSocket subscribers on a
// fixed cadence so dashboards stay current without polling.
func broadcastStats(ctx context.Context, svc *service.Service, hub *websocket.Hub) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.GetClientCount() == 0 {
				continue
			}
			stats, err := svc.GetStats(ctx)
			if err != nil {
				logging.Debug().Err(err).Msg("Skipping stats broadcast")
				continue
			}
			hub.BroadcastStatsUpdate(stats)
		}
	}
}
