// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package threshold

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func displayFor(t *testing.T, s *Structure, id string) string {
	t.Helper()
	node, ok := s.NodeByID(id)
	require.True(t, ok, "node %q", id)
	return DisplayName(s, node)
}

// TestDisplayNameRangeBuckets verifies Low / High labels for the outer
// buckets of a range split.
func TestDisplayNameRangeBuckets(t *testing.T) {
	s, err := ParseStructure([]byte(twoStageStructure))
	require.NoError(t, err)

	assert.Equal(t, "Root", displayFor(t, s, "root"))
	assert.Equal(t, "Low", displayFor(t, s, "score_low"))
	assert.Equal(t, "High", displayFor(t, s, "score_high"))
}

// TestDisplayNameRangeMiddleBucket verifies interior buckets are
// numbered.
func TestDisplayNameRangeMiddleBucket(t *testing.T) {
	doc := `[
		{"id": "root", "stage": 0, "children_ids": ["cold", "warm_mid", "hottest"],
		 "split_rule": {"type": "range", "metric": "m", "thresholds": [1, 2]}},
		{"id": "cold", "stage": 1},
		{"id": "warm_mid", "stage": 1},
		{"id": "hottest", "stage": 1}
	]`
	s, err := ParseStructure([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "Low", displayFor(t, s, "cold"))
	// warm_mid ends in a state word, so the legacy path does not apply
	// to range rules; the middle bucket is numbered.
	assert.Equal(t, "Range 1", displayFor(t, s, "warm_mid"))
	assert.Equal(t, "High", displayFor(t, s, "hottest"))
}

// TestDisplayNameCatchAll verifies "others" ids always label as Others.
func TestDisplayNameCatchAll(t *testing.T) {
	s, err := ParseStructure([]byte(twoStageStructure))
	require.NoError(t, err)

	assert.Equal(t, "Others", displayFor(t, s, "others"))
}

// TestDisplayNameLegacyPatternStates verifies trailing state-word runs
// in node ids become titled state labels.
func TestDisplayNameLegacyPatternStates(t *testing.T) {
	s, err := ParseStructure([]byte(twoStageStructure))
	require.NoError(t, err)

	assert.Equal(t, "High", displayFor(t, s, "drift_high"))

	name, ok := legacyStateName("fs_high_low")
	require.True(t, ok)
	assert.Equal(t, "High Low", name)

	_, ok = legacyStateName("no_state_words_here")
	assert.False(t, ok)
}

// TestDisplayNameExpressionDescription verifies branch descriptions are
// preferred, with redundant category prefixes stripped.
func TestDisplayNameExpressionDescription(t *testing.T) {
	doc := `[
		{"id": "root", "stage": 0, "children_ids": ["feature_splitting_case", "plain_case", "fallback_case"],
		 "split_rule": {"type": "expression",
			"branches": [
				{"condition": "a > 1", "child_id": "feature_splitting_case",
				 "description": "Feature Splitting: dominant factor"},
				{"condition": "b > 2", "child_id": "plain_case"}
			],
			"default_child_id": "fallback_case"}},
		{"id": "feature_splitting_case", "stage": 1, "category": "feature_splitting"},
		{"id": "plain_case", "stage": 1},
		{"id": "fallback_case", "stage": 1}
	]`
	s, err := ParseStructure([]byte(doc))
	require.NoError(t, err)

	// Category prefix restated in the description is stripped.
	assert.Equal(t, "dominant factor", displayFor(t, s, "feature_splitting_case"))
	// No description: fall back to the raw condition.
	assert.Equal(t, "b > 2", displayFor(t, s, "plain_case"))
}

// TestDisplayNameLookupsDoNotWarn verifies branch-to-node matching for
// display names stays silent: a multi-branch rule necessarily misses
// every branch but one per node, and those routine misses must not log.
func TestDisplayNameLookupsDoNotWarn(t *testing.T) {
	doc := `[
		{"id": "root", "stage": 0, "children_ids": ["first_case", "second_case", "fallback_case"],
		 "split_rule": {"type": "expression",
			"branches": [
				{"condition": "a > 1", "child_id": "first_case", "description": "strong a"},
				{"condition": "b > 2", "child_id": "second_case", "description": "strong b"}
			],
			"default_child_id": "fallback_case"}},
		{"id": "first_case", "stage": 1},
		{"id": "second_case", "stage": 1},
		{"id": "fallback_case", "stage": 1}
	]`
	s, err := ParseStructure([]byte(doc))
	require.NoError(t, err)

	patternDoc := `[
		{"id": "root", "stage": 0, "children_ids": ["alpha_case", "beta_case", "others"],
		 "split_rule": {"type": "pattern",
			"conditions": {"drift": {"threshold": 0.2}},
			"patterns": [
				{"match": {"drift": "high"}, "child_id": "alpha_case", "description": "drifting"},
				{"match": {"drift": "low"}, "child_id": "beta_case", "description": "steady"}
			],
			"default_child_id": "others"}},
		{"id": "alpha_case", "stage": 1},
		{"id": "beta_case", "stage": 1},
		{"id": "others", "stage": 1}
	]`
	ps, err := ParseStructure([]byte(patternDoc))
	require.NoError(t, err)

	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(previous)

	for _, structure := range []*Structure{s, ps} {
		for _, node := range structure.Nodes() {
			DisplayName(structure, node)
		}
	}

	assert.NotContains(t, buf.String(), "did not resolve")
}

// TestHumanize verifies snake_case to Title Case conversion.
func TestHumanize(t *testing.T) {
	assert.Equal(t, "Feature Splitting", humanize("feature_splitting"))
	assert.Equal(t, "Root", humanize("root"))
	assert.Equal(t, "A B C", humanize("a_b_c"))
}
