// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry tracks in-flight agent runs for the lifecycle core.
//
// The registry is the single source of truth for "is work in flight right
// now". Channel adapters register a run before starting a unit of work and
// clear it on every exit path; the restart coordinator consults the count
// and subscribes to completion events to decide when a pending restart is
// safe to apply.
//
// # Ownership Model
//
// Run records are owned exclusively by the registry. Callers receive
// copies; mutating a returned RunRecord has no effect on registry state.
//
// # Thread Safety
//
// Registry is safe for concurrent use by many producers. Completion
// subscribers are invoked synchronously after a removal, outside the
// registry lock, from the goroutine that triggered the removal.
package registry

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrEmptyRunID is returned when Register is called with an empty id.
	// An empty id would make the run impossible to clear.
	ErrEmptyRunID = errors.New("run id is empty")

	// ErrInvalidRunID is returned when a run id fails token validation
	// (bad charset or over-length). See pkg/validation.ValidateRunID.
	ErrInvalidRunID = errors.New("run id is invalid")

	// ErrClosed is returned when registering against a closed registry.
	ErrClosed = errors.New("registry is closed")
)
