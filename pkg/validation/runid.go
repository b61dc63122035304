// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for identifiers
// that cross trust boundaries.
//
// Run identifiers arrive from external channel adapters and end up in log
// lines, metrics labels, and the lifecycle status endpoint. Validating them
// here prevents log injection and keeps registry keys bounded.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// runIDPattern matches valid run identifier tokens.
// Allows: letters, digits, dots, hyphens, underscores, and colons
// (colons cover adapter-prefixed ids like "tg:8812034").
// Max length: 128 characters.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// ValidateRunID validates a run identifier token.
//
// Valid run ids:
//   - 1-128 characters
//   - Letters and digits
//   - Dots, hyphens, underscores
//   - Colons for adapter prefixes like "tg:8812034" or "discord:c91"
//
// Returns an error if the id is empty or malformed.
//
// Example:
//
//	if err := validation.ValidateRunID(id); err != nil {
//	    return fmt.Errorf("invalid run id: %w", err)
//	}
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run id format: %q (must be 1-128 alphanumeric chars, dots, hyphens, underscores, or colons)", id)
	}

	return nil
}

// SanitizeRunID normalizes and validates a run identifier.
// Returns the trimmed id if valid, or an error if invalid.
//
// Use this when accepting ids from channel adapters that may pad
// tokens with whitespace:
//
//	safeID, err := validation.SanitizeRunID(raw)
//	if err != nil {
//	    return err
//	}
func SanitizeRunID(id string) (string, error) {
	normalized := strings.TrimSpace(id)
	if err := ValidateRunID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
