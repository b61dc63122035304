// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/valtterimelkko/moltbot/services/lifecycle/coordinator"
	"github.com/valtterimelkko/moltbot/services/lifecycle/registry"
)

type noopBridge struct{}

func (noopBridge) RequestRestart(ctx context.Context, reason string) error { return nil }

func newTestRouter(t *testing.T) (*gin.Engine, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New(registry.Options{
		MaxRunAge: time.Minute,
		Scheduler: registry.NewManualScheduler(),
	})
	t.Cleanup(reg.Close)

	coord := coordinator.New(reg, noopBridge{}, nil)
	router := gin.New()
	SetupRoutes(router, coord)
	return router, reg
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("healthz returned %d, want 200", w.Code)
	}
}

func TestGetLifecycleStatus(t *testing.T) {
	router, reg := newTestRouter(t)
	if err := reg.Register("tg:42", registry.RunMetadata{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/lifecycle/status", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status returned %d, want 200", w.Code)
	}

	var status coordinator.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.ActiveRunCount != 1 {
		t.Errorf("activeRunCount = %d, want 1", status.ActiveRunCount)
	}
	if len(status.ActiveRunIDs) != 1 || status.ActiveRunIDs[0] != "tg:42" {
		t.Errorf("activeRunIds = %v, want [tg:42]", status.ActiveRunIDs)
	}
	if status.State != "idle" {
		t.Errorf("state = %q, want idle", status.State)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("metrics returned %d, want 200", w.Code)
	}
}
