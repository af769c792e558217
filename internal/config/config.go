// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the service configuration.
//
// Configuration is layered with clear precedence: environment variables
// override the optional YAML config file, which overrides built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Queue     QueueConfig     `koanf:"queue"`
	Profile   ProfileConfig   `koanf:"profile"`
	Detection DetectionConfig `koanf:"detection"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port    int           `koanf:"port"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`                  // 0 = use runtime.NumCPU()
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"` // DuckDB default is true
}

// QueueConfig holds event queue tuning.
type QueueConfig struct {
	BacklogThreshold int           `koanf:"backlog_threshold"`
	BatchSize        int           `koanf:"batch_size"`
	DrainInterval    time.Duration `koanf:"drain_interval"`
}

// ProfileConfig holds profile state machine tuning.
type ProfileConfig struct {
	MinDataPoints         int64   `koanf:"min_data_points"`
	StatisticalThreshold  float64 `koanf:"statistical_threshold"`
	ActivationMetricCount int     `koanf:"activation_metric_count"`
}

// DetectionConfig holds detection engine tuning.
type DetectionConfig struct {
	Enabled       bool    `koanf:"enabled"`
	RiskThreshold float64 `koanf:"risk_threshold"`
}

// AnalyticsConfig holds analytics reader tuning.
type AnalyticsConfig struct {
	DefaultPeriodDays int `koanf:"default_period_days"`
}

// SecurityConfig holds rate limiting and CORS settings.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would misbehave at
// runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", c.Server.Timeout)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("database.threads must not be negative, got %d", c.Database.Threads)
	}
	if c.Queue.BacklogThreshold <= 0 {
		return fmt.Errorf("queue.backlog_threshold must be positive, got %d", c.Queue.BacklogThreshold)
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be positive, got %d", c.Queue.BatchSize)
	}
	if c.Queue.DrainInterval <= 0 {
		return fmt.Errorf("queue.drain_interval must be positive, got %v", c.Queue.DrainInterval)
	}
	if c.Profile.MinDataPoints <= 0 {
		return fmt.Errorf("profile.min_data_points must be positive, got %d", c.Profile.MinDataPoints)
	}
	if c.Profile.StatisticalThreshold <= 0 {
		return fmt.Errorf("profile.statistical_threshold must be positive, got %v", c.Profile.StatisticalThreshold)
	}
	if c.Profile.ActivationMetricCount <= 0 {
		return fmt.Errorf("profile.activation_metric_count must be positive, got %d", c.Profile.ActivationMetricCount)
	}
	if c.Detection.RiskThreshold <= 0 {
		return fmt.Errorf("detection.risk_threshold must be positive, got %v", c.Detection.RiskThreshold)
	}
	if c.Analytics.DefaultPeriodDays <= 0 {
		return fmt.Errorf("analytics.default_period_days must be positive, got %d", c.Analytics.DefaultPeriodDays)
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs <= 0 {
			return fmt.Errorf("security.rate_limit_reqs must be positive, got %d", c.Security.RateLimitReqs)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("security.rate_limit_window must be positive, got %v", c.Security.RateLimitWindow)
		}
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, fatal; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
