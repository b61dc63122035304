// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

// FieldPolicy marks how a configuration field path may be applied.
type FieldPolicy int

const (
	// HotAppliable fields take effect in-process without a restart.
	HotAppliable FieldPolicy = iota

	// RestartRequired fields only take effect on a fresh process.
	RestartRequired
)

// String returns the string representation of the policy.
func (p FieldPolicy) String() string {
	switch p {
	case HotAppliable:
		return "hot-appliable"
	case RestartRequired:
		return "restart-required"
	default:
		return "unknown"
	}
}

// PolicyTable maps configuration field paths (dot-joined yaml tag names)
// to their apply policy.
//
// # Description
//
// This table is the single authority on which changes need a restart. A
// changed path missing from the table is treated as restart-required — the
// conservative default for fields added faster than the table.
type PolicyTable map[string]FieldPolicy

// DefaultPolicy is the production policy table.
//
// Restart-required paths are the ones consumed exactly once at boot:
// the bot's registered identity, adapter construction, the HTTP listener,
// and the inference backend wiring. Everything read on the request path
// is hot-appliable.
var DefaultPolicy = PolicyTable{
	"bot.name":           RestartRequired,
	"bot.command_prefix": HotAppliable,
	"bot.verbosity":      HotAppliable,
	"bot.workspace_dir":  RestartRequired,

	"channels.telegram": RestartRequired,
	"channels.discord":  RestartRequired,
	"channels.slack":    RestartRequired,

	"gateway.listen_addr":         RestartRequired,
	"gateway.supervisor_pid_file": HotAppliable,
	"gateway.supervisor_url":      HotAppliable,

	"lifecycle.quiescence_window_ms":  HotAppliable,
	"lifecycle.max_run_duration_ms":   HotAppliable,
	"lifecycle.min_write_interval_ms": HotAppliable,

	"model_backend.type":     RestartRequired,
	"model_backend.base_url": RestartRequired,
}

// PolicyFor returns the policy for a field path, defaulting unknown paths
// to RestartRequired.
func (t PolicyTable) PolicyFor(path string) FieldPolicy {
	if p, ok := t[path]; ok {
		return p
	}
	return RestartRequired
}
