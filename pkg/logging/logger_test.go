// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		verbosity string
		want      Level
	}{
		{"debug", LevelDebug},
		{"quiet", LevelWarn},
		{"normal", LevelInfo},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.verbosity); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}

// waitForEntries polls the buffered exporter because export is async.
func waitForEntries(t *testing.T, exporter *BufferedExporter, n int) []LogEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries := exporter.Entries()
		if len(entries) >= n {
			return entries
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d exported entries, have %d", n, len(exporter.Entries()))
	return nil
}

func TestLogger_ExportsEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "moltbotd",
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Info("run registered", "run_id", "tg:1")

	entries := waitForEntries(t, exporter, 1)
	if entries[0].Message != "run registered" {
		t.Errorf("message = %q, want %q", entries[0].Message, "run registered")
	}
	if entries[0].Service != "moltbotd" {
		t.Errorf("service = %q, want moltbotd", entries[0].Service)
	}
	if entries[0].Attrs["run_id"] != "tg:1" {
		t.Errorf("run_id attr = %v, want tg:1", entries[0].Attrs["run_id"])
	}
}

func TestLogger_LevelFiltersExport(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Debug("below threshold")
	logger.Info("also below")
	logger.Warn("kept")

	entries := waitForEntries(t, exporter, 1)
	if len(entries) != 1 || entries[0].Level != LevelWarn {
		t.Errorf("exported entries = %+v, want single warn entry", entries)
	}
}

func TestLogger_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "moltbotd",
		Quiet:   true,
	})

	logger.Info("config settled", "checksum", "abc123")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "moltbotd_*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v (err %v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "config settled") || !strings.Contains(content, "abc123") {
		t.Errorf("log file missing entry, content: %s", content)
	}
	if !strings.Contains(content, `"service":"moltbotd"`) {
		t.Errorf("log file missing service attribute, content: %s", content)
	}
}

func TestLogger_With_AddsAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "moltbotd",
		Quiet:   true,
	})

	child := logger.With("run_id", "tg:7")
	child.Info("heartbeat")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "moltbotd_*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one log file, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	if !strings.Contains(string(data), `"run_id":"tg:7"`) {
		t.Errorf("child attribute missing from file output: %s", data)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got := expandPath("~/.moltbot/logs")
	want := filepath.Join(home, ".moltbot/logs")
	if got != want {
		t.Errorf("expandPath = %q, want %q", got, want)
	}
	if got := expandPath("/var/log/moltbot"); got != "/var/log/moltbot" {
		t.Errorf("absolute path changed: %q", got)
	}
}

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"a", 1, "b", "two", 3, "dropped-non-string-key"})
	if m["a"] != 1 || m["b"] != "two" {
		t.Errorf("argsToMap = %v", m)
	}
	if len(m) != 2 {
		t.Errorf("argsToMap kept %d entries, want 2", len(m))
	}
}
