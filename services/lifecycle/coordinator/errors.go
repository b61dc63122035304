// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator implements the restart-queueing state machine.
//
// The coordinator ties run registry occupancy to reload plan application:
// a restart-required plan is applied immediately when no runs are in
// flight, and otherwise queued (last-write-wins) until the registry's
// completion signal reports zero active runs.
//
// # Thread Safety
//
// One mutex serializes Evaluate and the completion-triggered recheck, so a
// plan arriving concurrently with a run clearing can never race into two
// restart requests or a lost restart.
package coordinator

import "errors"

// Sentinel errors for coordinator operations.
var (
	// ErrSupervisorUnreachable is returned by bridges when the restart
	// request could not be delivered. The coordinator logs it and stays
	// in Applying; recovery belongs to the supervisor's own backoff.
	ErrSupervisorUnreachable = errors.New("supervisor unreachable")
)
