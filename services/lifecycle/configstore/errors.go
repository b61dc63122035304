// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package configstore owns reading, validating, checksumming, and writing
// the daemon's configuration file.
//
// The store is the only component allowed to write the watched file. Its
// write path is rate-limited and checksum-comparing so the daemon never
// re-triggers its own change detector in a feedback loop.
//
// # Ownership Model
//
// Snapshots are immutable values; callers may hold them indefinitely.
// The Store itself is one owned instance passed by handle — there is no
// package-level singleton.
package configstore

import "errors"

// Sentinel errors for config store operations.
var (
	// ErrTransientRead is returned when the config file cannot be read,
	// typically because an editor or the store itself is mid-way through
	// an atomic replace. Callers retry with bounded backoff.
	ErrTransientRead = errors.New("transient config read failure")

	// ErrCorruptConfig is returned when the file's content cannot be
	// parsed as YAML. A corrupt file never produces a snapshot; the
	// previously loaded snapshot stays authoritative.
	ErrCorruptConfig = errors.New("corrupt config")

	// ErrWriteThrottled is returned when a self-initiated write arrives
	// faster than the configured minimum interval allows.
	ErrWriteThrottled = errors.New("config write throttled")
)
