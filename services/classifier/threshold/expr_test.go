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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// evalCondition compiles and evaluates a condition against a metric
// map, with no percentile table.
func evalCondition(t *testing.T, condition string, metrics map[string]float64) bool {
	t.Helper()
	node, err := compileCondition(condition)
	require.NoError(t, err, "condition %q should compile", condition)

	env := &exprEnv{
		metric:     func(name string) float64 { return metrics[name] },
		percentile: func(string, float64) (float64, bool) { return 0, false },
	}
	v, err := node.eval(env)
	require.NoError(t, err, "condition %q should evaluate", condition)
	require.True(t, v.isBool, "condition %q should produce a boolean", condition)
	return v.b
}

// TestCompileConditionGrammar verifies the closed grammar: what parses
// and what is rejected.
func TestCompileConditionGrammar(t *testing.T) {
	valid := []string{
		"score > 0.5",
		"score >= 0.5 and drift < 0.2",
		"a == b or not c",
		"not (a > 1 and b < 2)",
		"shap_value >= 80%",
		"x != 3",
		"true",
		"not false",
		"a <= 1.5e-3",
	}
	for _, c := range valid {
		_, err := compileCondition(c)
		assert.NoError(t, err, "want %q to compile", c)
	}

	// Single '=', bitwise syntax, statement separators, unbalanced
	// parens, and string literals are all outside the grammar.
	invalid := []string{
		"",
		"score >",
		"score = 0.5",
		"a & b",
		"a | b",
		"a > 1; b < 2",
		"(a > 1",
		"a ** 2",
		`name == "x"`,
	}
	for _, c := range invalid {
		_, err := compileCondition(c)
		assert.Error(t, err, "want %q to be rejected", c)
	}
}

// TestConditionEvaluation verifies comparison, boolean logic, and
// short-circuiting over metric values.
func TestConditionEvaluation(t *testing.T) {
	metrics := map[string]float64{"score": 0.8, "drift": 0.1, "flagged": 1}

	assert.True(t, evalCondition(t, "score > 0.5", metrics))
	assert.False(t, evalCondition(t, "score > 0.9", metrics))
	assert.True(t, evalCondition(t, "score > 0.5 and drift < 0.2", metrics))
	assert.False(t, evalCondition(t, "score > 0.5 and drift > 0.2", metrics))
	assert.True(t, evalCondition(t, "score > 0.9 or drift < 0.2", metrics))
	assert.True(t, evalCondition(t, "not (score < 0.5)", metrics))
	assert.True(t, evalCondition(t, "flagged == 1", metrics))
	assert.True(t, evalCondition(t, "flagged != 0", metrics))
}

// TestConditionMissingMetric verifies absent metrics read as 0.0 rather
// than failing the branch.
func TestConditionMissingMetric(t *testing.T) {
	assert.True(t, evalCondition(t, "ghost < 0.5", map[string]float64{}))
	assert.False(t, evalCondition(t, "ghost > 0.5", map[string]float64{}))
}

// TestPercentileMacroResolution verifies `metric OP N%` consults the
// percentile table for the opposing identifier.
func TestPercentileMacroResolution(t *testing.T) {
	node, err := compileCondition("shap_value >= 80%")
	require.NoError(t, err)

	var askedMetric string
	var askedPct float64
	env := &exprEnv{
		metric: func(name string) float64 { return 42 },
		percentile: func(metric string, pct float64) (float64, bool) {
			askedMetric = metric
			askedPct = pct
			return 40, true
		},
	}
	v, err := node.eval(env)
	require.NoError(t, err)
	assert.Equal(t, "shap_value", askedMetric)
	assert.Equal(t, 80.0, askedPct)
	assert.True(t, v.b, "42 >= P80(=40) should hold")
}

// TestPercentileMacroFallback verifies an unresolvable percentile
// degrades to the absolute fraction N/100.
func TestPercentileMacroFallback(t *testing.T) {
	node, err := compileCondition("score >= 80%")
	require.NoError(t, err)

	var warned bool
	env := &exprEnv{
		metric:     func(string) float64 { return 0.9 },
		percentile: func(string, float64) (float64, bool) { return 0, false },
		warn:       func(string, ...any) { warned = true },
	}
	v, err := node.eval(env)
	require.NoError(t, err)
	assert.True(t, v.b, "0.9 >= 0.8 after fallback")
	assert.True(t, warned, "fallback should be logged")
}

// TestIdentifiersIn verifies metric scanning skips keywords, literals,
// and percent macros.
func TestIdentifiersIn(t *testing.T) {
	got := identifiersIn("shap_value >= 80% and not flagged or score > 0.5")
	assert.ElementsMatch(t, []string{"shap_value", "flagged", "score"}, got)

	assert.Empty(t, identifiersIn("true and not false"))
}
