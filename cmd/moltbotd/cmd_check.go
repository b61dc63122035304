// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valtterimelkko/moltbot/services/lifecycle/configstore"
	"github.com/valtterimelkko/moltbot/services/lifecycle/plan"
)

// runCheck classifies a candidate config file against the stored one and
// prints the resulting plan. Exit code is non-zero for rejected plans so
// the command works as a pre-deploy gate.
func runCheck(cmd *cobra.Command, args []string) error {
	storedPath, err := resolveConfigPath()
	if err != nil {
		return err
	}

	stored, err := configstore.New(storedPath, 0).Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load stored config %s: %w", storedPath, err)
	}
	candidate, err := configstore.New(args[0], 0).Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load candidate config %s: %w", args[0], err)
	}

	p := plan.NewPlanner(nil).Plan(stored, candidate)

	fmt.Printf("classification: %s\n", p.Class)
	fmt.Printf("reason:         %s\n", p.Reason)
	for _, path := range p.ChangedPaths {
		fmt.Printf("  changed: %s\n", path)
	}

	if p.Class == plan.ClassRejected {
		return fmt.Errorf("candidate config rejected")
	}
	return nil
}
