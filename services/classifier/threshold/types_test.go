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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSplitRuleDecodeRange verifies the type tag selects the range arm.
func TestSplitRuleDecodeRange(t *testing.T) {
	var rule SplitRule
	err := json.Unmarshal([]byte(`{"type": "range", "metric": "score", "thresholds": [0.3, 0.7]}`), &rule)
	require.NoError(t, err)

	assert.Equal(t, RuleKindRange, rule.Kind)
	require.NotNil(t, rule.Range)
	assert.Equal(t, "score", rule.Range.Metric)
	assert.Equal(t, []float64{0.3, 0.7}, rule.Range.Thresholds)
	assert.Nil(t, rule.Pattern)
	assert.Nil(t, rule.Expression)
}

// TestSplitRuleDecodePattern verifies condition and pattern entries
// survive decoding, including wildcard (null) states.
func TestSplitRuleDecodePattern(t *testing.T) {
	doc := `{
		"type": "pattern",
		"conditions": {
			"drift": {"threshold": 0.2},
			"latency": {"min": 10, "max": 50},
			"errors": {"operator": ">", "value": 5}
		},
		"patterns": [
			{"match": {"drift": "high", "latency": null}, "child_id": "hot", "description": "Hot path"}
		],
		"default_child_id": "others"
	}`
	var rule SplitRule
	require.NoError(t, json.Unmarshal([]byte(doc), &rule))

	require.Equal(t, RuleKindPattern, rule.Kind)
	require.NotNil(t, rule.Pattern)
	assert.Len(t, rule.Pattern.Conditions, 3)
	assert.Equal(t, "others", rule.Pattern.DefaultChildID)

	require.Len(t, rule.Pattern.Patterns, 1)
	entry := rule.Pattern.Patterns[0]
	require.NotNil(t, entry.Match["drift"])
	assert.Equal(t, StateHigh, *entry.Match["drift"])
	assert.Nil(t, entry.Match["latency"]) // wildcard
}

// TestSplitRuleDecodeExpression verifies branch order is preserved.
func TestSplitRuleDecodeExpression(t *testing.T) {
	doc := `{
		"type": "expression",
		"branches": [
			{"condition": "shap_value >= 80%", "child_id": "dominant"},
			{"condition": "score > 0.5 and not flagged", "child_id": "strong"}
		],
		"default_child_id": "weak",
		"available_metrics": ["shap_value", "score", "flagged"]
	}`
	var rule SplitRule
	require.NoError(t, json.Unmarshal([]byte(doc), &rule))

	require.Equal(t, RuleKindExpression, rule.Kind)
	require.NotNil(t, rule.Expression)
	require.Len(t, rule.Expression.Branches, 2)
	assert.Equal(t, "dominant", rule.Expression.Branches[0].ChildID)
	assert.Equal(t, "strong", rule.Expression.Branches[1].ChildID)
	assert.Equal(t, []string{"shap_value", "score", "flagged"}, rule.Expression.AvailableMetrics)
}

// TestSplitRuleDecodeUnknownType verifies an unknown tag is rejected at
// decode time so it can never reach evaluation.
func TestSplitRuleDecodeUnknownType(t *testing.T) {
	var rule SplitRule
	err := json.Unmarshal([]byte(`{"type": "quantile", "metric": "m"}`), &rule)
	require.ErrorIs(t, err, ErrUnknownRuleType)
}

// TestSplitRuleMarshalRoundTrip verifies re-encoding keeps the tag and
// union arm.
func TestSplitRuleMarshalRoundTrip(t *testing.T) {
	original := `{"type": "range", "metric": "score", "thresholds": [0.5]}`
	var rule SplitRule
	require.NoError(t, json.Unmarshal([]byte(original), &rule))

	encoded, err := json.Marshal(&rule)
	require.NoError(t, err)
	assert.JSONEq(t, original, string(encoded))
}

// TestSplitRuleMetrics verifies metric extraction per rule kind,
// including the lexer fallback when available_metrics is absent.
func TestSplitRuleMetrics(t *testing.T) {
	t.Run("range", func(t *testing.T) {
		rule := SplitRule{Kind: RuleKindRange, Range: &RangeRule{Metric: "score"}}
		assert.Equal(t, []string{"score"}, rule.Metrics())
	})

	t.Run("pattern", func(t *testing.T) {
		th := 0.5
		rule := SplitRule{Kind: RuleKindPattern, Pattern: &PatternRule{
			Conditions: map[string]Condition{
				"drift": {Threshold: &th},
				"score": {Threshold: &th},
			},
		}}
		assert.ElementsMatch(t, []string{"drift", "score"}, rule.Metrics())
	})

	t.Run("expression fallback scans conditions", func(t *testing.T) {
		rule := SplitRule{Kind: RuleKindExpression, Expression: &ExpressionRule{
			Branches: []ExpressionBranch{
				{Condition: "shap_value >= 80% and score > 0.1"},
				{Condition: "not flagged or score > 0.9"},
			},
		}}
		assert.ElementsMatch(t, []string{"shap_value", "score", "flagged"}, rule.Metrics())
	})
}

// TestSplitRuleSummary verifies the one-line display forms.
func TestSplitRuleSummary(t *testing.T) {
	rangeRule := SplitRule{Kind: RuleKindRange, Range: &RangeRule{Metric: "score", Thresholds: []float64{0.3, 0.7}}}
	assert.Equal(t, "score in [0.3, 0.7]", rangeRule.Summary())
}
