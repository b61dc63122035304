// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"
	"sync"

	"github.com/valtterimelkko/moltbot/pkg/logging"
	"github.com/valtterimelkko/moltbot/services/lifecycle/configstore"
	"github.com/valtterimelkko/moltbot/services/lifecycle/coordinator"
	"github.com/valtterimelkko/moltbot/services/lifecycle/registry"
	"github.com/valtterimelkko/moltbot/services/lifecycle/watcher"
)

// hotApplier pushes every hot-appliable field of a settled config into the
// running component that consumes it.
//
// # Description
//
// A field classified hot-appliable must actually take effect in-process;
// moving the planner baseline alone would leave the old value live and the
// change silently dropped. The applier compares previous and next configs
// field by field and rewires only what changed: logger verbosity, the
// registry's eviction bound, the watcher's quiescence window, the store's
// write throttle, and the supervisor bridge.
//
// # Thread Safety
//
// Safe for concurrent use, though in practice apply is serialized by the
// coordinator's evaluate lock.
type hotApplier struct {
	mu        sync.Mutex
	logger    *logging.Logger
	newLogger func(verbosity string) *logging.Logger
	reg       *registry.Registry
	store     *configstore.Store
	watcher   *watcher.Watcher
	coord     *coordinator.Coordinator
}

// apply rewires the components whose hot-appliable fields changed between
// prev and next. Fields with no consumer wired yet (nil component) are
// skipped; bot.command_prefix is consumed from the applied snapshot by the
// command dispatch path and needs no rewiring here.
func (h *hotApplier) apply(prev, next configstore.BotConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if next.Bot.Verbosity != prev.Bot.Verbosity && h.newLogger != nil {
		replacement := h.newLogger(next.Bot.Verbosity)
		replacement.Install()
		if h.logger != nil {
			if err := h.logger.Close(); err != nil {
				slog.Warn("closing replaced logger failed", "error", err)
			}
		}
		h.logger = replacement
		slog.Info("log verbosity changed", "verbosity", next.Bot.Verbosity)
	}

	if next.Lifecycle.MaxRunDurationMS != prev.Lifecycle.MaxRunDurationMS && h.reg != nil {
		h.reg.SetMaxRunAge(next.Lifecycle.MaxRunDuration())
	}
	if next.Lifecycle.QuiescenceWindowMS != prev.Lifecycle.QuiescenceWindowMS && h.watcher != nil {
		h.watcher.SetQuiescenceWindow(next.Lifecycle.QuiescenceWindow())
	}
	if next.Lifecycle.MinWriteIntervalMS != prev.Lifecycle.MinWriteIntervalMS && h.store != nil {
		h.store.SetMinWriteInterval(next.Lifecycle.MinWriteInterval())
	}

	if (next.Gateway.SupervisorPIDFile != prev.Gateway.SupervisorPIDFile ||
		next.Gateway.SupervisorURL != prev.Gateway.SupervisorURL) && h.coord != nil {
		h.coord.SetBridge(selectBridge(next.Gateway))
	}

	return nil
}

// activeLogger returns the logger currently installed by the applier.
func (h *hotApplier) activeLogger() *logging.Logger {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logger
}
