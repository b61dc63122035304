// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valtterimelkko/moltbot/services/lifecycle/configstore"
	"github.com/valtterimelkko/moltbot/services/lifecycle/registry"
)

const (
	testWindow = 150 * time.Millisecond
	// settleWait gives the debounce loop ample slack beyond the window.
	settleWait = 2 * time.Second
)

func writeConfigYAML(t *testing.T, path, botName string) {
	t.Helper()
	content := "bot:\n  name: " + botName + "\n  verbosity: normal\n"
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// atomicReplace mimics the editor/store write pattern: temp file then
// rename over the target.
func atomicReplace(t *testing.T, path, botName string) {
	t.Helper()
	tmp := path + ".tmp-test"
	content := "bot:\n  name: " + botName + "\n  verbosity: normal\n"
	if err := os.WriteFile(tmp, []byte(content), 0o640); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func startWatcher(t *testing.T, path string) (*Watcher, chan configstore.Snapshot) {
	t.Helper()

	store := configstore.New(path, time.Millisecond)
	settled := make(chan configstore.Snapshot, 16)
	w, err := New(store, func(snap configstore.Snapshot) {
		settled <- snap
	}, &Options{
		QuiescenceWindow: testWindow,
		ReadRetries:      3,
		RetryBackoff:     10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Give fsnotify a moment to establish the directory watch.
	time.Sleep(50 * time.Millisecond)
	return w, settled
}

// startManualWatcher drives the quiescence countdown from a manual
// scheduler so tests advance virtual time instead of sleeping through real
// windows.
func startManualWatcher(t *testing.T, path string) (*Watcher, chan configstore.Snapshot, *registry.ManualScheduler) {
	t.Helper()

	store := configstore.New(path, time.Millisecond)
	settled := make(chan configstore.Snapshot, 16)
	scheduler := registry.NewManualScheduler()
	w, err := New(store, func(snap configstore.Snapshot) {
		settled <- snap
	}, &Options{
		QuiescenceWindow: testWindow,
		ReadRetries:      3,
		RetryBackoff:     10 * time.Millisecond,
		Scheduler:        scheduler,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return w, settled, scheduler
}

// waitPendingCountdown blocks until the raw filesystem event has reached
// the debounce loop and scheduled its countdown.
func waitPendingCountdown(t *testing.T, scheduler *registry.ManualScheduler) {
	t.Helper()
	deadline := time.Now().Add(settleWait)
	for scheduler.PendingCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the quiescence countdown to be scheduled")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitSettle(t *testing.T, settled chan configstore.Snapshot) configstore.Snapshot {
	t.Helper()
	select {
	case snap := <-settled:
		return snap
	case <-time.After(settleWait):
		t.Fatal("timed out waiting for settle event")
		return configstore.Snapshot{}
	}
}

func expectNoSettle(t *testing.T, settled chan configstore.Snapshot, within time.Duration) {
	t.Helper()
	select {
	case snap := <-settled:
		t.Fatalf("unexpected settle event, checksum %s", snap.Checksum)
	case <-time.After(within):
	}
}

func TestWatcher_SingleWrite_OneSettle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	_, settled := startWatcher(t, path)

	writeConfigYAML(t, path, "changed")

	snap := waitSettle(t, settled)
	if snap.Config.Bot.Name != "changed" {
		t.Errorf("settle carried bot.name %q, want %q", snap.Config.Bot.Name, "changed")
	}
	if snap.Checksum == "" {
		t.Error("settle snapshot missing checksum")
	}

	expectNoSettle(t, settled, 3*testWindow)
}

func TestWatcher_AtomicWriteBurst_CoalescesToOneSettle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	_, settled := startWatcher(t, path)

	// Three rapid replaces well inside one quiescence window.
	atomicReplace(t, path, "one")
	atomicReplace(t, path, "two")
	atomicReplace(t, path, "final")

	snap := waitSettle(t, settled)
	if snap.Config.Bot.Name != "final" {
		t.Errorf("settle carried bot.name %q, want final content", snap.Config.Bot.Name)
	}

	expectNoSettle(t, settled, 3*testWindow)
}

func TestWatcher_UnrelatedFile_NoSettle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	_, settled := startWatcher(t, path)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o640); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	expectNoSettle(t, settled, 4*testWindow)
}

func TestWatcher_CorruptConfig_NoSettle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	_, settled := startWatcher(t, path)

	if err := os.WriteFile(path, []byte(":: not yaml {{{"), 0o640); err != nil {
		t.Fatalf("write corrupt config: %v", err)
	}

	expectNoSettle(t, settled, 4*testWindow)
}

func TestWatcher_NewActivityResetsWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	_, settled := startWatcher(t, path)

	// Keep touching the file at intervals shorter than the window; no
	// settle may fire while activity continues.
	for i := 0; i < 4; i++ {
		writeConfigYAML(t, path, "busy")
		time.Sleep(testWindow / 3)
	}
	select {
	case <-settled:
		t.Fatal("settle fired while writes were still arriving")
	default:
	}

	snap := waitSettle(t, settled)
	if snap.Config.Bot.Name != "busy" {
		t.Errorf("settle carried bot.name %q, want %q", snap.Config.Bot.Name, "busy")
	}
}

func TestWatcher_ManualScheduler_SettlesOnAdvance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	_, settled, scheduler := startManualWatcher(t, path)

	writeConfigYAML(t, path, "changed")
	waitPendingCountdown(t, scheduler)

	// Virtual time just short of the window: the burst has not settled.
	scheduler.Advance(testWindow / 2)
	expectNoSettle(t, settled, 50*time.Millisecond)

	scheduler.Advance(testWindow)
	snap := waitSettle(t, settled)
	if snap.Config.Bot.Name != "changed" {
		t.Errorf("settle carried bot.name %q, want %q", snap.Config.Bot.Name, "changed")
	}
}

func TestWatcher_SetQuiescenceWindow_AppliesToNextBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	w, settled, scheduler := startManualWatcher(t, path)
	w.SetQuiescenceWindow(10 * time.Minute)
	if got := w.QuiescenceWindow(); got != 10*time.Minute {
		t.Fatalf("QuiescenceWindow() = %v after update", got)
	}

	writeConfigYAML(t, path, "slow")
	waitPendingCountdown(t, scheduler)

	// The old window elapsing must not settle; the widened one must.
	scheduler.Advance(testWindow)
	expectNoSettle(t, settled, 50*time.Millisecond)

	scheduler.Advance(10 * time.Minute)
	snap := waitSettle(t, settled)
	if snap.Config.Bot.Name != "slow" {
		t.Errorf("settle carried bot.name %q, want %q", snap.Config.Bot.Name, "slow")
	}
}

func TestWatcher_SetQuiescenceWindow_IgnoresNonPositive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	w, _, _ := startManualWatcher(t, path)
	w.SetQuiescenceWindow(0)
	w.SetQuiescenceWindow(-time.Second)
	if got := w.QuiescenceWindow(); got != testWindow {
		t.Errorf("QuiescenceWindow() = %v, want %v", got, testWindow)
	}
}

func TestWatcher_StartIdempotent_StopIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "moltbot.yaml")
	writeConfigYAML(t, path, "initial")

	w, _ := startWatcher(t, path)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !w.IsWatching() {
		t.Error("IsWatching false after Start")
	}

	w.Stop()
	w.Stop()
	if w.IsWatching() {
		t.Error("IsWatching true after Stop")
	}
}
