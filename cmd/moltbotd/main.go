// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command moltbotd runs the moltbot lifecycle daemon: it hosts the active
// run registry, watches the config file for changes, classifies reload
// plans, and coordinates safe restarts with the process supervisor.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "moltbotd",
		Short: "Lifecycle daemon for the moltbot agent service",
		Long: `moltbotd keeps a long-lived agent bot restartable without dropping
work: it tracks in-flight runs, debounces config file changes, classifies
each change as no-op, hot-apply, or restart-required, and defers restarts
until the registry drains.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the lifecycle daemon",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	checkCmd = &cobra.Command{
		Use:   "check [candidate-config]",
		Short: "Classify a candidate config file against the stored one",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck, // Defined in cmd_check.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the moltbotd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("moltbotd", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the config file (default ~/.moltbot/moltbot.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveConfigPath returns the --config flag value or the default under
// the user's home directory.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".moltbot", "moltbot.yaml"), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
