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
)

const version = "1.0.0"

var (
	configPath string
	sequential bool
	skipPhases []string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "forge",
		Short: "A dependency-aware build and run orchestrator",
		Long: `Forge executes plans of interdependent phases with bounded
concurrency, crash-safe per-phase state, and a telemetry feedback loop
that pauses dispatch when the run degrades.`,
	}

	runCmd = &cobra.Command{
		Use:   "run [plan.yaml]",
		Short: "Execute a phase plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the forge version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("forge", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"path to the forge config file")

	runCmd.Flags().BoolVar(&sequential, "sequential", false,
		"execute phases one at a time")
	runCmd.Flags().StringSliceVar(&skipPhases, "skip", nil,
		"phase ids to skip (dependents are skipped transitively)")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"print the run result as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
