// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// =============================================================================
// Lifecycle Bridge
// =============================================================================

// Bridge delivers a restart request to the external process supervisor.
//
// # Description
//
// The supervisor owns the actual termination and respawn; the bridge only
// asks for it, once, with an optional human-readable reason. Delivery
// failure is reported but never retried by the coordinator.
type Bridge interface {
	// RequestRestart asks the supervisor to restart the process.
	RequestRestart(ctx context.Context, reason string) error
}

// =============================================================================
// Signal Bridge
// =============================================================================

// SignalBridge requests a restart by signalling the supervisor process.
//
// # Description
//
// Reads the supervisor's pid from a pid file on every request (the
// supervisor may itself have restarted) and sends SIGHUP. The supervisor
// is expected to interpret SIGHUP as "recycle the managed child". The
// reason string is logged by the caller; signals carry no payload.
type SignalBridge struct {
	pidFile string
}

// NewSignalBridge creates a SignalBridge reading the supervisor pid from
// pidFile.
func NewSignalBridge(pidFile string) *SignalBridge {
	return &SignalBridge{pidFile: pidFile}
}

// RequestRestart sends SIGHUP to the supervisor process.
func (b *SignalBridge) RequestRestart(ctx context.Context, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(b.pidFile)
	if err != nil {
		return fmt.Errorf("%w: read pid file %s: %v", ErrSupervisorUnreachable, b.pidFile, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("%w: pid file %s holds invalid pid %q", ErrSupervisorUnreachable, b.pidFile, strings.TrimSpace(string(data)))
	}

	if err := unix.Kill(pid, unix.SIGHUP); err != nil {
		return fmt.Errorf("%w: signal pid %d: %v", ErrSupervisorUnreachable, pid, err)
	}
	return nil
}

// =============================================================================
// HTTP Bridge
// =============================================================================

// HTTPBridge requests a restart by POSTing to the supervisor's restart
// endpoint.
type HTTPBridge struct {
	url    string
	client *http.Client
}

// NewHTTPBridge creates an HTTPBridge targeting url. A nil client uses a
// default with a 5-second timeout.
func NewHTTPBridge(url string, client *http.Client) *HTTPBridge {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPBridge{url: url, client: client}
}

// RequestRestart POSTs {"reason": ...} to the supervisor endpoint.
func (b *HTTPBridge) RequestRestart(ctx context.Context, reason string) error {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("marshal restart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build restart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSupervisorUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: supervisor returned %d", ErrSupervisorUnreachable, resp.StatusCode)
	}
	return nil
}
