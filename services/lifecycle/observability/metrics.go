// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// lifecycle core.
//
// # Description
//
// This package implements Prometheus metrics for monitoring reload and
// restart coordination. Metrics include:
//   - Active run gauge and register/clear counters
//   - Settle events and plan classifications
//   - Queued plan supersessions and stale evictions
//   - Restart requests by outcome
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint on the daemon's HTTP
// surface. Use with Prometheus + Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "moltbot"

// Subsystem for lifecycle coordination metrics
const lifecycleSubsystem = "lifecycle"

// LifecycleMetrics holds all Prometheus metrics for reload/restart
// coordination.
//
// # Description
//
// Provides counters and gauges for monitoring run registry occupancy and
// the reload decision pipeline. Initialize once via Lifecycle().
//
// # Thread Safety
//
// All operations are thread-safe.
type LifecycleMetrics struct {
	// ActiveRuns tracks the current number of registered in-flight runs.
	ActiveRuns prometheus.Gauge

	// RunsRegisteredTotal counts new run registrations (re-registrations
	// of an existing id are not counted).
	RunsRegisteredTotal prometheus.Counter

	// RunsClearedTotal counts run removals by reason.
	// Labels: reason (cleared, stale-run-evicted)
	RunsClearedTotal *prometheus.CounterVec

	// SettleEventsTotal counts debounced config settle events.
	SettleEventsTotal prometheus.Counter

	// PlansTotal counts reload plans by classification.
	// Labels: class (no-op, hot-apply, restart-required, rejected)
	PlansTotal *prometheus.CounterVec

	// PlanSupersessionsTotal counts queued restart plans overwritten by a
	// newer restart-required plan before they could be applied.
	PlanSupersessionsTotal prometheus.Counter

	// RestartRequestsTotal counts lifecycle bridge invocations by outcome.
	// Labels: outcome (ok, error)
	RestartRequestsTotal *prometheus.CounterVec

	// ConfigReadRetriesTotal counts transient config read retries after a
	// settle event.
	ConfigReadRetriesTotal prometheus.Counter

	// ConfigWritesTotal counts governed self-write attempts by outcome.
	// Labels: outcome (written, skipped, throttled, error)
	ConfigWritesTotal *prometheus.CounterVec
}

var (
	lifecycleMetrics *LifecycleMetrics
	lifecycleOnce    sync.Once
)

// Lifecycle returns the singleton LifecycleMetrics instance.
//
// # Description
//
// Metrics are registered with the default Prometheus registry on first
// call. Subsequent calls return the same instance, so components and tests
// can share it without double-registration panics.
//
// # Outputs
//
//   - *LifecycleMetrics: Registered metrics ready for use.
func Lifecycle() *LifecycleMetrics {
	lifecycleOnce.Do(func() {
		lifecycleMetrics = newLifecycleMetrics()
	})
	return lifecycleMetrics
}

// newLifecycleMetrics constructs and registers all lifecycle metrics.
func newLifecycleMetrics() *LifecycleMetrics {
	return &LifecycleMetrics{
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "active_runs",
			Help:      "Current number of registered in-flight runs.",
		}),

		RunsRegisteredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "runs_registered_total",
			Help:      "Total new run registrations.",
		}),

		RunsClearedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "runs_cleared_total",
			Help:      "Total run removals by reason.",
		}, []string{"reason"}),

		SettleEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "settle_events_total",
			Help:      "Total debounced config settle events.",
		}),

		PlansTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "plans_total",
			Help:      "Total reload plans by classification.",
		}, []string{"class"}),

		PlanSupersessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "plan_supersessions_total",
			Help:      "Total queued restart plans overwritten by a newer plan.",
		}),

		RestartRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "restart_requests_total",
			Help:      "Total lifecycle bridge restart requests by outcome.",
		}, []string{"outcome"}),

		ConfigReadRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "config_read_retries_total",
			Help:      "Total transient config read retries after settle.",
		}),

		ConfigWritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: lifecycleSubsystem,
			Name:      "config_writes_total",
			Help:      "Total governed config self-writes by outcome.",
		}, []string{"outcome"}),
	}
}
