// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package configstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/valtterimelkko/moltbot/services/lifecycle/observability"
)

// =============================================================================
// Snapshots
// =============================================================================

// Snapshot is an immutable view of the configuration file at one point in
// time.
//
// # Fields
//
//   - Config: Parsed configuration content.
//   - Checksum: Hex sha256 of the raw file bytes. Two snapshots with equal
//     checksums carry identical content regardless of mod time.
//   - ModTime: Source file modification time.
type Snapshot struct {
	Config   BotConfig
	Checksum string
	ModTime  time.Time
}

// =============================================================================
// Store
// =============================================================================

// Store reads and writes the daemon configuration file.
//
// # Description
//
// Load produces immutable Snapshots. Write is the governed self-write
// path: rate-limited, checksum-comparing, and atomic (temp file + rename),
// so a write of unchanged content is skipped entirely and a real write
// appears to watchers as the standard atomic-replace burst.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	path    string
	limiter *rate.Limiter
	metrics *observability.LifecycleMetrics

	mu                  sync.Mutex
	lastWrittenChecksum string
}

// New creates a Store for the config file at path.
//
// # Inputs
//
//   - path: Absolute path of the YAML config file.
//   - minWriteInterval: Minimum spacing between self-initiated writes.
//
// # Outputs
//
//   - *Store: Ready for Load/Write. The file need not exist yet; use
//     EnsureDefault for first-run creation.
func New(path string, minWriteInterval time.Duration) *Store {
	if minWriteInterval <= 0 {
		minWriteInterval = 5 * time.Second
	}
	return &Store{
		path:    path,
		limiter: rate.NewLimiter(rate.Every(minWriteInterval), 1),
		metrics: observability.Lifecycle(),
	}
}

// SetMinWriteInterval changes the minimum spacing between self-initiated
// writes. Takes effect for the next Write call. Non-positive values reset
// to the 5-second default.
func (s *Store) SetMinWriteInterval(minWriteInterval time.Duration) {
	if minWriteInterval <= 0 {
		minWriteInterval = 5 * time.Second
	}
	s.limiter.SetLimit(rate.Every(minWriteInterval))
	slog.Info("min write interval updated", "min_write_interval", minWriteInterval.String())
}

// Path returns the absolute path of the managed config file.
func (s *Store) Path() string {
	return s.path
}

// EnsureDefault creates the config file with DefaultConfig content if it
// does not exist yet. Returns true if the file was created.
func (s *Store) EnsureDefault() (bool, error) {
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return false, fmt.Errorf("marshal default config: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}

	slog.Info("first run detected, default config created", "path", s.path)
	return true, nil
}

// Load reads the file and returns an immutable Snapshot.
//
// # Description
//
// Read failures are classified as ErrTransientRead (the file may be mid
// replace); unparseable YAML is ErrCorruptConfig. Schema-level validation
// is deliberately not performed here — that is the reload planner's job,
// so a schema-invalid file still yields a snapshot that the planner can
// reject with field-level detail.
//
// # Outputs
//
//   - Snapshot: Parsed content + checksum + mod time.
//   - error: ErrTransientRead or ErrCorruptConfig wrapped with detail.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrTransientRead, err)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrTransientRead, err)
	}

	var cfg BotConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptConfig, err)
	}

	return Snapshot{
		Config:   cfg,
		Checksum: checksum(data),
		ModTime:  info.ModTime(),
	}, nil
}

// Write persists cfg through the governed self-write path.
//
// # Description
//
// Steps, in order:
//  1. Marshal and checksum the candidate content.
//  2. Skip the write entirely if the checksum matches the last write or
//     the file's current content (no watcher feedback loop).
//  3. Enforce the minimum write interval; a too-soon write fails with
//     ErrWriteThrottled rather than queueing.
//  4. Atomically replace the file (temp write + rename).
//
// # Outputs
//
//   - error: ErrWriteThrottled, or a wrapped I/O error. Nil on success and
//     on a checksum-identical skip.
func (s *Store) Write(ctx context.Context, cfg BotConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	sum := checksum(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sum == s.lastWrittenChecksum {
		s.metrics.ConfigWritesTotal.WithLabelValues("skipped").Inc()
		slog.Debug("config write skipped, content unchanged", "checksum", sum)
		return nil
	}
	if current, err := os.ReadFile(s.path); err == nil && checksum(current) == sum {
		s.lastWrittenChecksum = sum
		s.metrics.ConfigWritesTotal.WithLabelValues("skipped").Inc()
		slog.Debug("config write skipped, file already has content", "checksum", sum)
		return nil
	}

	if !s.limiter.Allow() {
		s.metrics.ConfigWritesTotal.WithLabelValues("throttled").Inc()
		return fmt.Errorf("%w: minimum interval not elapsed", ErrWriteThrottled)
	}

	if err := writeAtomic(s.path, data); err != nil {
		s.metrics.ConfigWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("write config: %w", err)
	}

	s.lastWrittenChecksum = sum
	s.metrics.ConfigWritesTotal.WithLabelValues("written").Inc()
	slog.Info("config written", "path", s.path, "checksum", sum)
	return nil
}

// LastWrittenChecksum returns the checksum of the most recent successful
// self-write, or "" if the store has not written yet.
func (s *Store) LastWrittenChecksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrittenChecksum
}

// =============================================================================
// Helpers
// =============================================================================

// writeAtomic replaces path with data via a temp file in the same
// directory plus rename. Watchers observe this as the standard
// create/remove/rename burst that the change detector coalesces.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// checksum returns the hex sha256 of data.
func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
