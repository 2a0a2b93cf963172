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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/FeatureScope/services/classifier"
	"github.com/AleutianAI/FeatureScope/services/classifier/engine"
	"github.com/AleutianAI/FeatureScope/services/classifier/store"
	"github.com/AleutianAI/FeatureScope/services/classifier/threshold"
)

var (
	classifyCmd = &cobra.Command{
		Use:   "classify",
		Short: "Classify a rows file through a structure file",
		Long: `Runs one batch classification without a server: reads feature rows
and a threshold structure from JSON files and writes the aggregated
sankey view to stdout.`,
		RunE: runClassify,
	}

	classifyRowsPath      string
	classifyStructurePath string
	classifyFilters       []string
	classifyPretty        bool
)

// oneShotDataset names the staging dataset for CLI classification.
const oneShotDataset = "cli"

func init() {
	classifyCmd.Flags().StringVar(&classifyRowsPath, "rows", "", "Path to a JSON file of feature rows (required)")
	classifyCmd.Flags().StringVar(&classifyStructurePath, "structure", "", "Path to a JSON threshold structure file (required)")
	classifyCmd.Flags().StringArrayVar(&classifyFilters, "filter", nil, "Equality row filter as field=value (repeatable)")
	classifyCmd.Flags().BoolVar(&classifyPretty, "pretty", false, "Indent the JSON output")
	classifyCmd.MarkFlagRequired("rows")
	classifyCmd.MarkFlagRequired("structure")
}

func runClassify(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	filters, err := parseFilters(classifyFilters)
	if err != nil {
		return err
	}
	return classifyFiles(cmd.Context(), classifyRowsPath, classifyStructurePath, filters, classifyPretty, cmd.OutOrStdout())
}

// classifyFiles runs one batch classification from files and writes
// the sankey view JSON to out. The one-shot path goes through the same
// service layer as the server, over an in-memory store with the cache
// bypassed.
func classifyFiles(ctx context.Context, rowsPath, structurePath string, filters map[string]string, pretty bool, out io.Writer) error {
	rows, err := loadRows(rowsPath)
	if err != nil {
		return err
	}
	structure, err := os.ReadFile(structurePath)
	if err != nil {
		return fmt.Errorf("read structure file: %w", err)
	}
	if _, err := threshold.ParseStructure(structure); err != nil {
		return fmt.Errorf("parse structure file %s: %w", structurePath, err)
	}

	st := store.NewMemoryStore()
	defer st.Close()
	if err := st.PutRows(ctx, oneShotDataset, rows); err != nil {
		return fmt.Errorf("stage rows: %w", err)
	}

	svc := classifier.NewService(st, engine.New(engine.Config{}))
	resp, err := svc.Sankey(ctx, &classifier.SankeyRequest{
		DatasetID: oneShotDataset,
		Structure: structure,
		Filters:   filters,
		SkipCache: true,
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(resp.View)
}

// parseFilters converts repeated field=value flags into a filter map.
func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		field, value, ok := strings.Cut(pair, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q: expected field=value", pair)
		}
		filters[field] = value
	}
	return filters, nil
}

// loadRows reads a JSON rows file. Both a bare array and a wrapper
// object with a "rows" key are accepted.
func loadRows(path string) ([]store.FeatureRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rows file: %w", err)
	}

	var rows []store.FeatureRow
	if err := json.Unmarshal(data, &rows); err == nil {
		return rows, nil
	}

	var wrapper struct {
		Rows []store.FeatureRow `json:"rows"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse rows file %s: %w", path, err)
	}
	if wrapper.Rows == nil {
		return nil, fmt.Errorf("parse rows file %s: expected an array or a \"rows\" object", path)
	}
	return wrapper.Rows, nil
}

