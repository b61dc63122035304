// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan classifies configuration changes into reload plans.
//
// The planner is a pure function over two config snapshots: no I/O, no
// side effects, deterministic given identical inputs. All decisions flow
// from the checksum comparison, schema validation, and the static
// PolicyTable.
package plan

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/valtterimelkko/moltbot/services/lifecycle/configstore"
)

// =============================================================================
// Plan Types
// =============================================================================

// Class is a reload plan classification.
type Class int

const (
	// ClassNoop: content is unchanged; nothing to do.
	ClassNoop Class = iota

	// ClassHotApply: every changed field is hot-appliable.
	ClassHotApply

	// ClassRestartRequired: at least one changed field needs a restart.
	ClassRestartRequired

	// ClassRejected: the new snapshot fails schema validation; the
	// previous snapshot stays authoritative.
	ClassRejected
)

// String returns the string representation of the classification.
func (c Class) String() string {
	switch c {
	case ClassNoop:
		return "no-op"
	case ClassHotApply:
		return "hot-apply"
	case ClassRestartRequired:
		return "restart-required"
	case ClassRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ReloadPlan is the classified outcome of one snapshot evaluation.
//
// # Fields
//
//   - Class: The classification driving the coordinator's decision.
//   - ChangedPaths: Field paths that differ, sorted. Empty for no-op; for
//     rejected plans these are the invalid field paths instead.
//   - Reason: Human-readable summary, forwarded to the lifecycle bridge
//     when a restart is eventually requested.
//   - Snapshot: The snapshot this plan targets (the "next" input).
type ReloadPlan struct {
	Class        Class
	ChangedPaths []string
	Reason       string
	Snapshot     configstore.Snapshot
}

// =============================================================================
// Planner
// =============================================================================

// Planner maps snapshot pairs to reload plans against a fixed policy table.
//
// # Thread Safety
//
// Safe for concurrent use; the planner holds no mutable state.
type Planner struct {
	policy   PolicyTable
	validate *validator.Validate
}

// NewPlanner creates a Planner. A nil policy falls back to DefaultPolicy.
func NewPlanner(policy PolicyTable) *Planner {
	if policy == nil {
		policy = DefaultPolicy
	}

	v := validator.New()
	// Report yaml tag names so rejected-plan paths match the policy table
	// vocabulary.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})

	return &Planner{policy: policy, validate: v}
}

// Plan classifies the transition from previous to next.
//
// # Description
//
// Equal checksums short-circuit to no-op regardless of metadata (a
// timestamp-only touch never triggers anything). A next snapshot that
// fails schema validation is rejected — never restart-required — and the
// caller keeps the previous snapshot authoritative. Otherwise the changed
// field paths are diffed and looked up in the policy table; one
// restart-required path makes the whole plan restart-required.
//
// # Inputs
//
//   - previous: The currently authoritative snapshot.
//   - next: The candidate snapshot from a settle event.
//
// # Outputs
//
//   - ReloadPlan: Immutable classified plan targeting next.
func (p *Planner) Plan(previous, next configstore.Snapshot) ReloadPlan {
	if previous.Checksum == next.Checksum {
		return ReloadPlan{
			Class:    ClassNoop,
			Reason:   "config content unchanged",
			Snapshot: next,
		}
	}

	if err := p.validate.Struct(next.Config); err != nil {
		return rejectedPlan(next, err)
	}

	changed := diffConfigs(previous.Config, next.Config)
	if len(changed) == 0 {
		// Checksums differ but no tracked field does (comment or
		// formatting edit).
		return ReloadPlan{
			Class:    ClassNoop,
			Reason:   "no tracked fields changed",
			Snapshot: next,
		}
	}
	sort.Strings(changed)

	var restartPaths []string
	for _, path := range changed {
		if p.policy.PolicyFor(path) == RestartRequired {
			restartPaths = append(restartPaths, path)
		}
	}

	if len(restartPaths) > 0 {
		return ReloadPlan{
			Class:        ClassRestartRequired,
			ChangedPaths: changed,
			Reason:       fmt.Sprintf("restart required by %s", strings.Join(restartPaths, ", ")),
			Snapshot:     next,
		}
	}

	return ReloadPlan{
		Class:        ClassHotApply,
		ChangedPaths: changed,
		Reason:       fmt.Sprintf("hot-appliable changes: %s", strings.Join(changed, ", ")),
		Snapshot:     next,
	}
}

// rejectedPlan builds a ClassRejected plan carrying the offending field
// paths.
func rejectedPlan(next configstore.Snapshot, err error) ReloadPlan {
	var paths []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			paths = append(paths, yamlPath(fe.Namespace()))
		}
		sort.Strings(paths)
	}

	reason := "schema validation failed"
	if len(paths) > 0 {
		reason = fmt.Sprintf("schema validation failed: %s", strings.Join(paths, ", "))
	}
	return ReloadPlan{
		Class:        ClassRejected,
		ChangedPaths: paths,
		Reason:       reason,
		Snapshot:     next,
	}
}

// yamlPath strips the root struct name from a validator namespace,
// e.g. "BotConfig.bot.verbosity" -> "bot.verbosity".
func yamlPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// =============================================================================
// Structural Diff
// =============================================================================

// diffConfigs returns the field paths whose values differ between a and b.
// Paths use the policy table vocabulary (dot-joined yaml tag names).
func diffConfigs(a, b configstore.BotConfig) []string {
	var changed []string
	add := func(path string, differs bool) {
		if differs {
			changed = append(changed, path)
		}
	}

	add("bot.name", a.Bot.Name != b.Bot.Name)
	add("bot.command_prefix", a.Bot.CommandPrefix != b.Bot.CommandPrefix)
	add("bot.verbosity", a.Bot.Verbosity != b.Bot.Verbosity)
	add("bot.workspace_dir", a.Bot.WorkspaceDir != b.Bot.WorkspaceDir)

	add("channels.telegram", a.Channels.Telegram != b.Channels.Telegram)
	add("channels.discord", a.Channels.Discord != b.Channels.Discord)
	add("channels.slack", a.Channels.Slack != b.Channels.Slack)

	add("gateway.listen_addr", a.Gateway.ListenAddr != b.Gateway.ListenAddr)
	add("gateway.supervisor_pid_file", a.Gateway.SupervisorPIDFile != b.Gateway.SupervisorPIDFile)
	add("gateway.supervisor_url", a.Gateway.SupervisorURL != b.Gateway.SupervisorURL)

	add("lifecycle.quiescence_window_ms", a.Lifecycle.QuiescenceWindowMS != b.Lifecycle.QuiescenceWindowMS)
	add("lifecycle.max_run_duration_ms", a.Lifecycle.MaxRunDurationMS != b.Lifecycle.MaxRunDurationMS)
	add("lifecycle.min_write_interval_ms", a.Lifecycle.MinWriteIntervalMS != b.Lifecycle.MinWriteIntervalMS)

	add("model_backend.type", a.ModelBackend.Type != b.ModelBackend.Type)
	add("model_backend.base_url", a.ModelBackend.BaseURL != b.ModelBackend.BaseURL)

	return changed
}
