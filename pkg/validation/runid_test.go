// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

// TestValidateRunID_Valid tests that well-formed run ids pass validation.
func TestValidateRunID_Valid(t *testing.T) {
	valid := []string{
		"r1",
		"tg:8812034",
		"discord:c91",
		"7f9c2ba4-3f1a-4d0e-9c2b-a43f1a4d0e9c",
		"run_42.retry-1",
		"A",
	}

	for _, id := range valid {
		if err := ValidateRunID(id); err != nil {
			t.Errorf("ValidateRunID(%q) should pass, got: %v", id, err)
		}
	}
}

// TestValidateRunID_Invalid tests that malformed run ids are rejected.
func TestValidateRunID_Invalid(t *testing.T) {
	invalid := []string{
		"",
		" ",
		"has spaces",
		"newline\ninjection",
		":leading-colon",
		".leading-dot",
		strings.Repeat("x", 129),
	}

	for _, id := range invalid {
		if err := ValidateRunID(id); err == nil {
			t.Errorf("ValidateRunID(%q) should fail", id)
		}
	}
}

// TestSanitizeRunID_TrimsWhitespace tests that surrounding whitespace is
// stripped before validation.
func TestSanitizeRunID_TrimsWhitespace(t *testing.T) {
	got, err := SanitizeRunID("  tg:123  ")
	if err != nil {
		t.Fatalf("SanitizeRunID failed: %v", err)
	}
	if got != "tg:123" {
		t.Errorf("expected %q, got %q", "tg:123", got)
	}
}

// TestSanitizeRunID_RejectsEmpty tests that whitespace-only input fails.
func TestSanitizeRunID_RejectsEmpty(t *testing.T) {
	if _, err := SanitizeRunID("   "); err == nil {
		t.Error("SanitizeRunID of whitespace-only input should fail")
	}
}
