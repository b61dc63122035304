// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/valtterimelkko/moltbot/services/lifecycle/configstore"
	"github.com/valtterimelkko/moltbot/services/lifecycle/observability"
	"github.com/valtterimelkko/moltbot/services/lifecycle/plan"
)

// =============================================================================
// States
// =============================================================================

// State is the coordinator's position in the restart-queueing machine.
type State int

const (
	// StateIdle: no restart pending.
	StateIdle State = iota

	// StatePlanQueued: a restart-required plan is waiting for the
	// registry to drain.
	StatePlanQueued

	// StateApplying: the restart request has been handed to the
	// lifecycle bridge. Terminal — the restart replaces the process.
	StateApplying
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanQueued:
		return "plan-queued"
	case StateApplying:
		return "applying"
	default:
		return "unknown"
	}
}

// =============================================================================
// Coordinator
// =============================================================================

// RunCounter is the registry view the coordinator needs: current occupancy
// and the ids behind it, for decisions and the status query.
type RunCounter interface {
	Count() int
	ListIDs() []string
}

// HotApplyFunc applies a hot-appliable snapshot in-process.
type HotApplyFunc func(snap configstore.Snapshot) error

// Status is the read-only observability view of the coordinator.
type Status struct {
	ActiveRunCount    int      `json:"activeRunCount"`
	ActiveRunIDs      []string `json:"activeRunIds"`
	QueuedPlanPresent bool     `json:"queuedPlanPresent"`
	State             string   `json:"state"`
}

// Coordinator decides when reload plans are applied.
//
// # Description
//
// Evaluate and the registry-completion recheck are the only two inputs.
// Both run under one mutex, and the registry count used for a decision is
// always read inside that critical section — a zero-crossing observed
// before a plan was queued can never satisfy the apply condition.
//
// # Thread Safety
//
// Safe for concurrent use. The bridge is invoked at most once for the
// lifetime of the coordinator.
type Coordinator struct {
	runs     RunCounter
	bridge   Bridge
	hotApply HotApplyFunc
	metrics  *observability.LifecycleMetrics

	mu     sync.Mutex
	state  State
	queued *plan.ReloadPlan
}

// New creates a Coordinator in StateIdle.
//
// # Inputs
//
//   - runs: Registry view for occupancy decisions. Required.
//   - bridge: Restart delivery to the supervisor. Required.
//   - hotApply: Callback for hot-appliable plans. May be nil, in which
//     case hot-apply plans are logged and dropped.
func New(runs RunCounter, bridge Bridge, hotApply HotApplyFunc) *Coordinator {
	return &Coordinator{
		runs:     runs,
		bridge:   bridge,
		hotApply: hotApply,
		metrics:  observability.Lifecycle(),
		state:    StateIdle,
	}
}

// Evaluate feeds one classified plan into the state machine.
//
// # Description
//
// no-op and rejected plans are discarded with a log line. hot-apply plans
// invoke the injected callback immediately; no restart is requested and
// any queued restart stays queued. restart-required plans apply
// immediately when the registry is empty, and otherwise overwrite the
// queued plan (last-write-wins, supersession logged).
func (c *Coordinator) Evaluate(ctx context.Context, p plan.ReloadPlan) {
	c.metrics.PlansTotal.WithLabelValues(p.Class.String()).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateApplying {
		slog.Info("plan ignored, restart already applying", "class", p.Class.String())
		return
	}

	switch p.Class {
	case plan.ClassNoop:
		slog.Debug("no-op plan discarded", "reason", p.Reason)

	case plan.ClassRejected:
		slog.Error("rejected plan discarded, previous config stays authoritative",
			"reason", p.Reason,
			"invalid_paths", p.ChangedPaths,
		)

	case plan.ClassHotApply:
		if c.hotApply == nil {
			slog.Warn("hot-apply plan dropped, no hot-apply callback installed",
				"changed_paths", p.ChangedPaths,
			)
			return
		}
		if err := c.hotApply(p.Snapshot); err != nil {
			slog.Error("hot-apply failed", "error", err, "changed_paths", p.ChangedPaths)
			return
		}
		slog.Info("config hot-applied", "changed_paths", p.ChangedPaths)

	case plan.ClassRestartRequired:
		c.handleRestartRequiredLocked(ctx, p)
	}
}

// RunCompleted is the registry completion signal.
//
// # Description
//
// Wire it as a completion subscriber:
//
//	reg.OnCompletion(func(id string) {
//	    coord.RunCompleted(context.Background(), id)
//	})
//
// If a plan is queued and the registry has drained to zero, the restart is
// applied now. The count is re-read under the coordinator lock, so a
// concurrent registration between the clear and this check correctly
// keeps the plan queued.
func (c *Coordinator) RunCompleted(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlanQueued {
		return
	}
	if count := c.runs.Count(); count > 0 {
		slog.Debug("run completed, restart still deferred",
			"run_id", id,
			"active_runs", count,
		)
		return
	}

	queued := *c.queued
	c.queued = nil
	slog.Info("registry drained, applying queued restart", "reason", queued.Reason)
	c.applyLocked(ctx, queued)
}

// SetBridge swaps the restart delivery target.
//
// # Description
//
// Supervisor endpoints are hot-appliable configuration, so a settled
// change to the PID file or URL rewires delivery without a restart. The
// swap is serialized with Evaluate and RunCompleted; a restart mid-flight
// uses whichever bridge was installed when applyLocked ran. A nil bridge
// is ignored.
func (c *Coordinator) SetBridge(b Bridge) {
	if b == nil {
		return
	}
	c.mu.Lock()
	c.bridge = b
	c.mu.Unlock()
	slog.Info("lifecycle bridge updated")
}

// Status returns the read-only coordinator view for the status endpoint.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		ActiveRunCount:    c.runs.Count(),
		ActiveRunIDs:      c.runs.ListIDs(),
		QueuedPlanPresent: c.queued != nil,
		State:             c.state.String(),
	}
}

// State returns the current state. Exposed for tests and diagnostics.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// =============================================================================
// Internal Methods
// =============================================================================

// handleRestartRequiredLocked queues or applies a restart-required plan.
// Caller holds c.mu.
func (c *Coordinator) handleRestartRequiredLocked(ctx context.Context, p plan.ReloadPlan) {
	if count := c.runs.Count(); count > 0 {
		if c.queued != nil {
			c.metrics.PlanSupersessionsTotal.Inc()
			slog.Info("queued restart plan superseded",
				"old_reason", c.queued.Reason,
				"new_reason", p.Reason,
			)
		} else {
			slog.Info("restart queued behind active runs",
				"active_runs", count,
				"reason", p.Reason,
			)
		}
		c.state = StatePlanQueued
		c.queued = &p
		return
	}

	c.applyLocked(ctx, p)
}

// applyLocked transitions to Applying and invokes the bridge exactly once.
// Caller holds c.mu; the bridge call stays inside the critical section so
// the evaluate-then-maybe-restart sequence is indivisible.
func (c *Coordinator) applyLocked(ctx context.Context, p plan.ReloadPlan) {
	c.state = StateApplying
	c.queued = nil

	if err := c.bridge.RequestRestart(ctx, p.Reason); err != nil {
		c.metrics.RestartRequestsTotal.WithLabelValues("error").Inc()
		slog.Error("supervisor unreachable, restart request not delivered",
			"error", err,
			"reason", p.Reason,
		)
		// Stay in Applying: recovery is the supervisor's restart/backoff
		// job, not an internal retry.
		return
	}

	c.metrics.RestartRequestsTotal.WithLabelValues("ok").Inc()
	slog.Info("restart requested", "reason", p.Reason)
}
