// Behaviord - Behavioral Anomaly Detection Engine
// Copyright 2026 The Behaviord Authors
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"behaviord/internal/logging"
)

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if seen == "" {
		t.Fatal("no request ID in handler context")
	}
	if echoed := rec.Header().Get(RequestIDHeader); echoed != seen {
		t.Errorf("header %s = %q, want %q", RequestIDHeader, echoed, seen)
	}
}

func TestRequestID_HonorsClientHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "client-supplied-7" {
		t.Errorf("context request ID = %q, want client-supplied-7", seen)
	}
	if echoed := rec.Header().Get(RequestIDHeader); echoed != "client-supplied-7" {
		t.Errorf("header %s = %q, want client-supplied-7", RequestIDHeader, echoed)
	}
}

func TestRouter_SetsRequestIDHeader(t *testing.T) {
	env := newAPIEnv(t, true)

	resp, _ := doJSON(t, http.MethodGet, env.server.URL+"/api/v1/stats", nil)
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Errorf("response missing %s header", RequestIDHeader)
	}
}
