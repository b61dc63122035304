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

import "time"

// BotConfig is the daemon configuration surface consumed by the lifecycle
// core. Field paths referenced by the reload policy table use the yaml tag
// names joined with dots, e.g. "bot.command_prefix".
type BotConfig struct {
	// Bot: identity and behavior of the agent bot itself
	Bot BotSettings `yaml:"bot"`

	// Channels: which messaging-channel adapters are enabled
	Channels ChannelSettings `yaml:"channels"`

	// Gateway: HTTP surface and supervisor integration
	Gateway GatewaySettings `yaml:"gateway"`

	// Lifecycle: tuning for the reload/restart coordination core
	Lifecycle LifecycleSettings `yaml:"lifecycle"`

	// ModelBackend: decides if you want local or cloud inference
	ModelBackend BackendSettings `yaml:"model_backend"`
}

type BotSettings struct {
	Name          string `yaml:"name" validate:"required"`                                // e.g. moltbot
	CommandPrefix string `yaml:"command_prefix"`                                          // e.g. "!"
	Verbosity     string `yaml:"verbosity" validate:"omitempty,oneof=quiet normal debug"` // log verbosity
	WorkspaceDir  string `yaml:"workspace_dir"`                                           // agent scratch space
}

type ChannelSettings struct {
	Telegram bool `yaml:"telegram"`
	Discord  bool `yaml:"discord"`
	Slack    bool `yaml:"slack"`
}

type GatewaySettings struct {
	ListenAddr        string `yaml:"listen_addr" validate:"omitempty,hostname_port"` // e.g. 127.0.0.1:12310
	SupervisorPIDFile string `yaml:"supervisor_pid_file"`                            // pid file of the process supervisor
	SupervisorURL     string `yaml:"supervisor_url" validate:"omitempty,url"`        // restart endpoint, alternative to the pid file
}

type LifecycleSettings struct {
	// QuiescenceWindowMS is the idle window the change detector waits for
	// before a settle event fires.
	QuiescenceWindowMS int `yaml:"quiescence_window_ms" validate:"gte=0"`

	// MaxRunDurationMS bounds a run's lifetime before stale eviction.
	MaxRunDurationMS int `yaml:"max_run_duration_ms" validate:"gte=0"`

	// MinWriteIntervalMS rate-limits the daemon's own config writes.
	MinWriteIntervalMS int `yaml:"min_write_interval_ms" validate:"gte=0"`
}

type BackendSettings struct {
	// Type can be "ollama", "openai", "anthropic", etc.
	Type    string `yaml:"type" validate:"omitempty,oneof=ollama openai anthropic"`
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() BotConfig {
	return BotConfig{
		Bot: BotSettings{
			Name:          "moltbot",
			CommandPrefix: "!",
			Verbosity:     "normal",
		},
		Channels: ChannelSettings{
			Telegram: true,
		},
		Gateway: GatewaySettings{
			ListenAddr: "127.0.0.1:12310",
		},
		Lifecycle: LifecycleSettings{
			QuiescenceWindowMS: 2000,
			MaxRunDurationMS:   600000,
			MinWriteIntervalMS: 5000,
		},
		ModelBackend: BackendSettings{
			Type: "ollama",
		},
	}
}

// QuiescenceWindow returns the settle window as a duration, with the
// documented default when unset.
func (c LifecycleSettings) QuiescenceWindow() time.Duration {
	if c.QuiescenceWindowMS <= 0 {
		return 2000 * time.Millisecond
	}
	return time.Duration(c.QuiescenceWindowMS) * time.Millisecond
}

// MaxRunDuration returns the stale-eviction bound as a duration, with the
// documented default when unset.
func (c LifecycleSettings) MaxRunDuration() time.Duration {
	if c.MaxRunDurationMS <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.MaxRunDurationMS) * time.Millisecond
}

// MinWriteInterval returns the governed write-path interval as a duration.
func (c LifecycleSettings) MinWriteInterval() time.Duration {
	if c.MinWriteIntervalMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.MinWriteIntervalMS) * time.Millisecond
}
