// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package behavior contains the core domain model for behavioral anomaly
// detection: entity profiles, running metrics, events, and anomaly findings.
//
// errors.go - Sentinel errors shared across the engine
package behavior

import "errors"

// Sentinel errors for the engine's failure taxonomy. Callers wrap these with
// fmt.Errorf("...: %w", err) and check with errors.Is.
var (
	// ErrNotInitialized indicates the durable store is unavailable and the
	// service is running in degraded read-only mode.
	ErrNotInitialized = errors.New("behavioral service not initialized")

	// ErrInsufficientData indicates fewer observations or events exist than
	// the analysis requires.
	ErrInsufficientData = errors.New("insufficient data for analysis")

	// ErrNotFound indicates no profile or anomaly exists for the given key.
	ErrNotFound = errors.New("not found")

	// ErrPersistence indicates a durable read or write failed.
	ErrPersistence = errors.New("persistence failure")

	// ErrProcessing indicates an individual event's fold-and-detect step failed.
	ErrProcessing = errors.New("event processing failure")
)
