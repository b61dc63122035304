// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Clock and Scheduler Abstractions
// =============================================================================

// Clock supplies the current time.
//
// # Description
//
// Injectable so tests can control run ages without real delays. Production
// code uses NewSystemClock().
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// CancelTimer cancels a scheduled callback. It reports whether the
// cancellation prevented the callback from running.
type CancelTimer func() bool

// Scheduler schedules one-shot deferred callbacks.
//
// # Description
//
// Wraps time.AfterFunc behind an interface so stale-eviction timers can be
// driven manually in tests. The returned CancelTimer must be safe to call
// after the callback has fired.
type Scheduler interface {
	// AfterFunc runs f after d elapses and returns a cancel handle.
	AfterFunc(d time.Duration, f func()) CancelTimer
}

// systemClock implements Clock using the wall clock.
type systemClock struct{}

// NewSystemClock returns a Clock backed by time.Now.
func NewSystemClock() Clock {
	return systemClock{}
}

// Now returns the current wall-clock time.
func (systemClock) Now() time.Time {
	return time.Now()
}

// systemScheduler implements Scheduler using time.AfterFunc.
type systemScheduler struct{}

// NewSystemScheduler returns a Scheduler backed by time.AfterFunc.
func NewSystemScheduler() Scheduler {
	return systemScheduler{}
}

// AfterFunc schedules f on a real timer.
func (systemScheduler) AfterFunc(d time.Duration, f func()) CancelTimer {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// =============================================================================
// Manual Clock and Scheduler (for testing)
// =============================================================================

// ManualClock is a Clock whose time only moves when told to.
//
// # Description
//
// Used in tests together with ManualScheduler to simulate elapsed time
// without real delays.
//
// # Thread Safety
//
// Safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock starting at the given time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the manually controlled current time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ManualScheduler is a Scheduler that fires callbacks only when advanced.
//
// # Description
//
// Scheduled callbacks are held with their due offset. Advance moves the
// scheduler's virtual time forward and runs everything that became due, in
// due order. Callbacks run synchronously on the advancing goroutine.
//
// # Thread Safety
//
// Safe for concurrent use, but callbacks must not call Advance reentrantly.
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Duration
	nextID  int
	pending map[int]*manualTimer
}

type manualTimer struct {
	due time.Duration
	f   func()
}

// NewManualScheduler creates an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[int]*manualTimer)}
}

// AfterFunc schedules f to run once the scheduler has been advanced by d.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) CancelTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.pending[id] = &manualTimer{due: s.now + d, f: f}

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.pending[id]; !ok {
			return false
		}
		delete(s.pending, id)
		return true
	}
}

// Advance moves virtual time forward by d and fires all due callbacks.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d

	type fired struct {
		due time.Duration
		id  int
		f   func()
	}
	var ready []fired
	for id, t := range s.pending {
		if t.due <= s.now {
			ready = append(ready, fired{due: t.due, id: id, f: t.f})
		}
	}
	for _, r := range ready {
		delete(s.pending, r.id)
	}
	s.mu.Unlock()

	sort.Slice(ready, func(i, j int) bool { return ready[i].due < ready[j].due })
	for _, r := range ready {
		r.f()
	}
}

// PendingCount returns the number of timers that have not fired or been
// cancelled. Useful for asserting timer cleanup in tests.
func (s *ManualScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
