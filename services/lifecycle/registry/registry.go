// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valtterimelkko/moltbot/pkg/validation"
	"github.com/valtterimelkko/moltbot/services/lifecycle/observability"
)

// =============================================================================
// Run Records and Metadata
// =============================================================================

// RunRecord describes one in-flight agent run.
//
// # Fields
//
//   - ID: Opaque run token supplied by the originating channel adapter.
//   - SessionKey: Optional conversation/session key for diagnostics.
//   - Verbosity: Log verbosity requested for this run (0 = inherit).
//   - Heartbeat: True if the originator emits progress heartbeats.
//   - RegisteredAt: When the run was first registered.
type RunRecord struct {
	ID           string
	SessionKey   string
	Verbosity    int
	Heartbeat    bool
	RegisteredAt time.Time
}

// RunMetadata carries the mergeable fields of a registration call.
//
// # Description
//
// Pointer fields distinguish "absent from the call" (nil, leave the stored
// value unchanged) from "present with a zero value". Re-registering an
// existing id merges only the non-nil fields.
type RunMetadata struct {
	SessionKey *string
	Verbosity  *int
	Heartbeat  *bool
}

// CompletionFunc is invoked after a run has been removed from the registry,
// whether by an explicit Clear or by stale eviction.
type CompletionFunc func(id string)

// =============================================================================
// Registry
// =============================================================================

// Options configures a Registry.
//
// # Fields
//
//   - MaxRunAge: Upper bound on a run's lifetime before forced eviction.
//     Default: 10 minutes.
//   - Clock: Time source. Default: NewSystemClock().
//   - Scheduler: Timer source for eviction. Default: NewSystemScheduler().
type Options struct {
	MaxRunAge time.Duration
	Clock     Clock
	Scheduler Scheduler
}

// DefaultOptions returns production-ready registry options.
func DefaultOptions() Options {
	return Options{
		MaxRunAge: 10 * time.Minute,
		Clock:     NewSystemClock(),
		Scheduler: NewSystemScheduler(),
	}
}

type runEntry struct {
	record RunRecord
	cancel CancelTimer
}

// Registry tracks in-flight runs and notifies subscribers on completion.
//
// # Description
//
// Each registered run carries a stale-eviction timer bounding its maximum
// lifetime, so a leaked run (an adapter that forgot to Clear) can defer a
// queued restart by at most MaxRunAge.
//
// # Thread Safety
//
// Safe for concurrent producers. Completion callbacks run outside the
// registry lock on the goroutine that removed the run; subscribers must
// not assume any particular goroutine.
type Registry struct {
	mu        lockedState
	maxRunAge time.Duration
	clock     Clock
	scheduler Scheduler
	metrics   *observability.LifecycleMetrics
}

// lockedState groups everything guarded by the registry mutex.
type lockedState struct {
	sync.Mutex
	runs        map[string]*runEntry
	order       []string
	subscribers map[string]CompletionFunc
	closed      bool
}

// New creates a Registry with the given options. Zero-valued option fields
// fall back to DefaultOptions().
func New(opts Options) *Registry {
	defaults := DefaultOptions()
	if opts.MaxRunAge <= 0 {
		opts.MaxRunAge = defaults.MaxRunAge
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	if opts.Scheduler == nil {
		opts.Scheduler = defaults.Scheduler
	}

	r := &Registry{
		maxRunAge: opts.MaxRunAge,
		clock:     opts.Clock,
		scheduler: opts.Scheduler,
		metrics:   observability.Lifecycle(),
	}
	r.mu.runs = make(map[string]*runEntry)
	r.mu.subscribers = make(map[string]CompletionFunc)
	return r
}

// GenerateRunID returns a fresh opaque run token for adapters that have no
// natural message id to use.
func GenerateRunID() string {
	return uuid.NewString()
}

// Register records a run as in-flight.
//
// # Description
//
// If id is new, inserts a record and starts its stale-eviction timer. If id
// already exists, merges only the metadata fields present in the call; the
// record keeps its original RegisteredAt and eviction timer, and the
// registry size does not change.
//
// # Inputs
//
//   - id: Opaque run token. Must be a valid token (see pkg/validation).
//   - meta: Mergeable metadata; nil fields are left unchanged.
//
// # Outputs
//
//   - error: ErrEmptyRunID for an empty id, ErrInvalidRunID for a malformed
//     one, ErrClosed after Close. Nil otherwise.
func (r *Registry) Register(id string, meta RunMetadata) error {
	if id == "" {
		return ErrEmptyRunID
	}
	if err := validation.ValidateRunID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRunID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mu.closed {
		return ErrClosed
	}

	if entry, ok := r.mu.runs[id]; ok {
		mergeMetadata(&entry.record, meta)
		slog.Debug("run re-registered, metadata merged", "run_id", id)
		return nil
	}

	record := RunRecord{
		ID:           id,
		RegisteredAt: r.clock.Now(),
	}
	mergeMetadata(&record, meta)

	entry := &runEntry{record: record}
	entry.cancel = r.scheduler.AfterFunc(r.maxRunAge, func() {
		r.evictStale(id)
	})
	r.mu.runs[id] = entry
	r.mu.order = append(r.mu.order, id)

	r.metrics.ActiveRuns.Set(float64(len(r.mu.runs)))
	r.metrics.RunsRegisteredTotal.Inc()

	slog.Info("run registered",
		"run_id", id,
		"active_runs", len(r.mu.runs),
	)
	return nil
}

// Clear removes a run and notifies completion subscribers.
//
// # Description
//
// Cancels the run's stale-eviction timer and, if the id existed,
// synchronously invokes every completion subscriber after the removal.
// Clearing an unknown id is a no-op and fires no subscribers.
//
// # Outputs
//
//   - bool: True if the id was registered and has now been removed.
func (r *Registry) Clear(id string) bool {
	subscribers, removed := r.remove(id, "cleared")
	if !removed {
		return false
	}
	for _, cb := range subscribers {
		cb(id)
	}
	return true
}

// SetMaxRunAge changes the eviction bound applied to runs registered from
// now on. Runs already in flight keep the eviction deadline they were
// registered with. Non-positive values are ignored.
func (r *Registry) SetMaxRunAge(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.maxRunAge = d
	r.mu.Unlock()
	slog.Info("max run age updated", "max_run_age", d.String())
}

// Count returns the current number of registered runs. O(1).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mu.runs)
}

// ListIDs returns a snapshot of registered run ids in insertion order.
func (r *Registry) ListIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.mu.order))
	copy(ids, r.mu.order)
	return ids
}

// Get returns a copy of the record for id, if registered.
func (r *Registry) Get(id string) (RunRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.mu.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return entry.record, true
}

// OnCompletion subscribes to run-completion events.
//
// # Description
//
// The callback fires once per removed run, after the removal, for both
// explicit clears and stale evictions. The returned function removes the
// subscription and is safe to call more than once.
func (r *Registry) OnCompletion(cb CompletionFunc) (unsubscribe func()) {
	key := uuid.NewString()

	r.mu.Lock()
	r.mu.subscribers[key] = cb
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.mu.subscribers, key)
		r.mu.Unlock()
	}
}

// Close cancels all eviction timers and rejects further registrations.
// Registered runs are dropped without firing completion subscribers; Close
// is for process shutdown, not for completing work.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mu.closed {
		return
	}
	r.mu.closed = true

	for _, entry := range r.mu.runs {
		if entry.cancel != nil {
			entry.cancel()
		}
	}
	r.mu.runs = make(map[string]*runEntry)
	r.mu.order = nil
	r.metrics.ActiveRuns.Set(0)
}

// =============================================================================
// Internal Methods
// =============================================================================

// evictStale force-clears a run whose age exceeded MaxRunAge.
//
// # Description
//
// Behaves exactly like Clear, with a distinct log classification so
// operators can spot adapters that violate the clear-on-every-exit-path
// contract. Subscribers still fire: this is what guarantees a queued
// restart cannot be blocked forever by a leaked run.
func (r *Registry) evictStale(id string) {
	subscribers, removed := r.remove(id, "stale-run-evicted")
	if !removed {
		return
	}
	for _, cb := range subscribers {
		cb(id)
	}
}

// remove deletes a run under the lock and returns the subscriber snapshot
// to notify. Callbacks are invoked by the caller, outside the lock, so a
// subscriber can safely call Count or ListIDs.
func (r *Registry) remove(id, reason string) ([]CompletionFunc, bool) {
	r.mu.Lock()

	entry, ok := r.mu.runs[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}

	if entry.cancel != nil {
		entry.cancel()
	}
	delete(r.mu.runs, id)
	for i, oid := range r.mu.order {
		if oid == id {
			r.mu.order = append(r.mu.order[:i], r.mu.order[i+1:]...)
			break
		}
	}

	remaining := len(r.mu.runs)
	age := r.clock.Now().Sub(entry.record.RegisteredAt)
	maxAge := r.maxRunAge

	subscribers := make([]CompletionFunc, 0, len(r.mu.subscribers))
	for _, cb := range r.mu.subscribers {
		subscribers = append(subscribers, cb)
	}
	r.mu.Unlock()

	r.metrics.ActiveRuns.Set(float64(remaining))
	r.metrics.RunsClearedTotal.WithLabelValues(reason).Inc()

	if reason == "stale-run-evicted" {
		slog.Warn("stale-run-evicted",
			"run_id", id,
			"age", age.String(),
			"max_run_age", maxAge.String(),
			"active_runs", remaining,
		)
	} else {
		slog.Info("run cleared",
			"run_id", id,
			"age", age.String(),
			"active_runs", remaining,
		)
	}

	return subscribers, true
}

// mergeMetadata applies the non-nil fields of meta onto record.
func mergeMetadata(record *RunRecord, meta RunMetadata) {
	if meta.SessionKey != nil {
		record.SessionKey = *meta.SessionKey
	}
	if meta.Verbosity != nil {
		record.Verbosity = *meta.Verbosity
	}
	if meta.Heartbeat != nil {
		record.Heartbeat = *meta.Heartbeat
	}
}
