// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watcher turns noisy filesystem notifications for the config file
// into settle events.
//
// # Description
//
// Editors and the store's own atomic write path replace the config file as
// temp-file create, original unlink, rename-to-original — two or three raw
// events for one logical change. The watcher coalesces each burst behind a
// reset-on-activity quiescence window and emits at most one snapshot per
// burst.
//
// # Thread Safety
//
// Safe for concurrent use. The settle handler is called from a single
// goroutine.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/valtterimelkko/moltbot/services/lifecycle/configstore"
	"github.com/valtterimelkko/moltbot/services/lifecycle/observability"
	"github.com/valtterimelkko/moltbot/services/lifecycle/registry"
)

// ChangeEvent is one raw notification from the filesystem watcher.
// Ephemeral: consumed by the debounce loop, never persisted.
type ChangeEvent struct {
	// Path is the path the notification names.
	Path string

	// Kind is the raw operation string (create/write/remove/rename).
	Kind string

	// Time is when the event was observed.
	Time time.Time
}

// SettleHandler receives the snapshot produced by a settle event.
type SettleHandler func(snap configstore.Snapshot)

// Options configures the Watcher.
type Options struct {
	// QuiescenceWindow is the idle duration required before a settle
	// event fires. Each raw event resets the countdown.
	// Default: 2000ms
	QuiescenceWindow time.Duration

	// ReadRetries is how many read attempts follow a settle event before
	// the failure is surfaced. Default: 3
	ReadRetries int

	// RetryBackoff is the base delay between read attempts, doubled per
	// attempt. Default: 100ms
	RetryBackoff time.Duration

	// BufferSize is the raw event channel capacity. Default: 64
	BufferSize int

	// Scheduler drives the quiescence timer. Default:
	// registry.NewSystemScheduler(). Tests inject a
	// registry.ManualScheduler to advance the window without real delays.
	Scheduler registry.Scheduler
}

// DefaultOptions returns production defaults matching the documented
// configuration surface.
func DefaultOptions() Options {
	return Options{
		QuiescenceWindow: 2000 * time.Millisecond,
		ReadRetries:      3,
		RetryBackoff:     100 * time.Millisecond,
		BufferSize:       64,
		Scheduler:        registry.NewSystemScheduler(),
	}
}

// Watcher watches one config file and emits debounced snapshots.
type Watcher struct {
	store     *configstore.Store
	handler   SettleHandler
	opts      Options
	scheduler registry.Scheduler
	fsw       *fsnotify.Watcher
	metrics   *observability.LifecycleMetrics
	events    chan ChangeEvent
	settleCh  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once

	mu       sync.Mutex
	watching bool
	window   time.Duration
	pending  registry.CancelTimer
}

// New creates a Watcher for the store's config file.
//
// # Inputs
//
//   - store: Config store whose file is watched; settle reads go through
//     its Load path so read classification stays in one place.
//   - handler: Called with the snapshot after each successful settle.
//   - opts: Optional configuration (nil uses defaults).
//
// # Outputs
//
//   - *Watcher: Ready to Start.
//   - error: Non-nil if the underlying fsnotify watcher could not be
//     created.
func New(store *configstore.Store, handler SettleHandler, opts *Options) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	defaults := DefaultOptions()
	if opts.QuiescenceWindow <= 0 {
		opts.QuiescenceWindow = defaults.QuiescenceWindow
	}
	if opts.ReadRetries <= 0 {
		opts.ReadRetries = defaults.ReadRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaults.RetryBackoff
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.Scheduler == nil {
		opts.Scheduler = defaults.Scheduler
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		store:     store,
		handler:   handler,
		opts:      *opts,
		scheduler: opts.Scheduler,
		fsw:       fsw,
		metrics:   observability.Lifecycle(),
		events:    make(chan ChangeEvent, opts.BufferSize),
		settleCh:  make(chan struct{}, 1),
		done:      make(chan struct{}),
		window:    opts.QuiescenceWindow,
	}, nil
}

// Start begins watching.
//
// # Description
//
// Watches the config file's parent directory rather than the file itself:
// an atomic replace swaps the inode, and a watch on the old inode would go
// silent after the first change. Spawns the event processor and the
// debounce loop; both exit on Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil // Already watching
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.fsw.Add(filepath.Dir(w.store.Path())); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	slog.Info("config watcher started",
		"path", w.store.Path(),
		"quiescence_window", w.QuiescenceWindow().String(),
	)
	return nil
}

// QuiescenceWindow returns the current idle duration required before a
// settle event fires.
func (w *Watcher) QuiescenceWindow() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.window
}

// SetQuiescenceWindow changes the idle duration applied to subsequent
// bursts. A pending countdown keeps its original deadline; the next raw
// event picks up the new window. Non-positive values are ignored.
func (w *Watcher) SetQuiescenceWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.window = d
	w.mu.Unlock()
	slog.Info("quiescence window updated", "quiescence_window", d.String())
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

// =============================================================================
// Internal Loops
// =============================================================================

// relevant reports whether a notification path concerns the watched file.
// Atomic replaces surface under temp names derived from the target
// ("moltbot.yaml.tmp-123"), so base-name prefix matching catches the whole
// burst.
func (w *Watcher) relevant(path string) bool {
	base := filepath.Base(path)
	target := filepath.Base(w.store.Path())
	return base == target || strings.HasPrefix(base, target+".")
}

// processEvents converts fsnotify events into ChangeEvents on the debounce
// channel.
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name) {
				continue
			}

			change := ChangeEvent{
				Path: event.Name,
				Kind: event.Op.String(),
				Time: time.Now(),
			}
			select {
			case w.events <- change:
			default:
				// Buffer full; the burst is already pending, dropping
				// an event cannot lose the settle.
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

// debounceLoop owns the quiescence countdown: every raw event resets it,
// and expiry triggers exactly one settle for the burst. The countdown runs
// on the injected scheduler so tests can drive it without real delays.
func (w *Watcher) debounceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return
		case <-w.done:
			w.cancelPending()
			return
		case change := <-w.events:
			slog.Debug("raw config change observed",
				"path", change.Path,
				"kind", change.Kind,
			)
			w.reschedule()

		case <-w.settleCh:
			w.clearPending()
			w.settle(ctx)
		}
	}
}

// reschedule cancels any pending countdown and starts a fresh one at the
// current quiescence window.
func (w *Watcher) reschedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending()
	}
	w.pending = w.scheduler.AfterFunc(w.window, func() {
		select {
		case w.settleCh <- struct{}{}:
		default:
			// A settle is already queued for the loop.
		}
	})
}

func (w *Watcher) clearPending() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	if w.pending != nil {
		w.pending()
		w.pending = nil
	}
	w.mu.Unlock()
}

// settle reads and checksums the resource after quiescence, retrying
// transient failures with bounded backoff.
func (w *Watcher) settle(ctx context.Context) {
	w.metrics.SettleEventsTotal.Inc()

	var snap configstore.Snapshot
	var err error
	backoff := w.opts.RetryBackoff

	for attempt := 1; attempt <= w.opts.ReadRetries; attempt++ {
		snap, err = w.store.Load(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, configstore.ErrCorruptConfig) {
			slog.Error("config unparseable after settle, keeping previous config",
				"error", err,
			)
			return
		}
		if !errors.Is(err, configstore.ErrTransientRead) {
			slog.Error("config read failed after settle", "error", err)
			return
		}
		if attempt < w.opts.ReadRetries {
			w.metrics.ConfigReadRetriesTotal.Inc()
			slog.Warn("transient config read failure, retrying",
				"attempt", attempt,
				"max_attempts", w.opts.ReadRetries,
				"backoff", backoff.String(),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}
			backoff *= 2
		}
	}
	if err != nil {
		slog.Error("config unreadable after retries, settle dropped",
			"error", err,
			"attempts", w.opts.ReadRetries,
		)
		return
	}

	slog.Info("config settled",
		"checksum", snap.Checksum,
		"mod_time", snap.ModTime.Format(time.RFC3339),
	)
	if w.handler != nil {
		w.handler(snap)
	}
}
