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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/FeatureScope/services/classifier"
)

var (
	rootCmd = &cobra.Command{
		Use:     "featurescope",
		Short:   "Threshold classification engine for feature analysis",
		Long: `FeatureScope classifies feature rows through tree-structured rule
configurations and aggregates the results into sankey flow views.`,
		Version: classifier.ServiceVersion,
	}

	configPath string
	logLevel   string
	logDir     string
	jsonLogs   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.featurescope/featurescope.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON to stderr even on a terminal")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
}
