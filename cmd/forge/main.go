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
	"errors"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianForge/services/forge/config"
)

// cfg is the active configuration, loaded once in PersistentPreRun.
var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loaded, err := config.Load(configPath)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, config.ErrConfigNotFound):
			// Defaults run standalone; a missing file is not fatal.
			cfg = config.Default()
			slog.Info("config file not found, using defaults",
				slog.String("path", configPath))
		default:
			slog.Error("invalid config", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}
