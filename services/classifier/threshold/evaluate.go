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
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
)

// Evaluation is the outcome of applying one split rule to one row.
type Evaluation struct {
	// ChildID is the selected branch target. May be empty or unknown
	// to the structure when the rule is misconfigured; the engine then
	// halts that entity's traversal at the current node.
	ChildID string

	// BranchIndex is the position of ChildID within the children list,
	// or -1 when the id could not be resolved against it.
	BranchIndex int

	// Explanation is a short human-readable account of why the branch
	// was taken.
	Explanation string

	// TriggeringValues are the row values the rule read.
	TriggeringValues map[string]float64
}

// Evaluator applies split rules to feature rows. It is a pure function
// over its inputs except for the shared, read-only percentile table
// built once per request.
//
// Evaluate never fails: malformed data degrades to defined defaults
// (missing metrics read as 0.0 or the "low" state, out-of-bounds branch
// indexes clamp to the last child, broken expression branches do not
// match).
//
// # Thread Safety
//
// Safe for concurrent use; the evaluator holds no mutable state.
type Evaluator struct {
	percentiles *PercentileTable
}

// NewEvaluator creates an evaluator bound to a request's percentile
// table. A nil table is valid for structures without expression rules;
// percentile macros then degrade to absolute literals.
func NewEvaluator(percentiles *PercentileTable) *Evaluator {
	return &Evaluator{percentiles: percentiles}
}

// Evaluate applies a rule to a row and selects a child among
// childrenIDs.
func (e *Evaluator) Evaluate(row store.FeatureRow, rule *SplitRule, childrenIDs []string) Evaluation {
	switch rule.Kind {
	case RuleKindRange:
		return e.evaluateRange(row, rule.Range, childrenIDs)
	case RuleKindPattern:
		return e.evaluatePattern(row, rule.Pattern, childrenIDs)
	case RuleKindExpression:
		return e.evaluateExpression(row, rule.Expression, childrenIDs)
	default:
		// Unknown kinds are rejected at decode time; reaching this is a
		// programming error, degrade like a misconfigured rule.
		slog.Error("split rule with unknown kind reached evaluation", "kind", rule.Kind)
		return Evaluation{BranchIndex: -1, Explanation: "unknown rule kind"}
	}
}

// RangeBranch returns the branch index a value selects among ascending
// thresholds: the number of thresholds the value meets or exceeds, with
// the scan stopping at the first threshold the value is below.
func RangeBranch(value float64, thresholds []float64) int {
	branch := 0
	for _, t := range thresholds {
		if value >= t {
			branch++
		} else {
			break
		}
	}
	return branch
}

func (e *Evaluator) evaluateRange(row store.FeatureRow, rule *RangeRule, childrenIDs []string) Evaluation {
	value, _ := row.Metric(rule.Metric) // missing reads as 0.0

	branch := RangeBranch(value, rule.Thresholds)
	if branch >= len(childrenIDs) {
		// Thresholds and children disagree: a recoverable configuration
		// inconsistency, not a crash.
		slog.Warn("range branch index out of bounds, clamping to last child",
			"metric", rule.Metric,
			"branch", branch,
			"children", len(childrenIDs))
		branch = len(childrenIDs) - 1
	}

	ev := Evaluation{
		BranchIndex:      branch,
		Explanation:      fmt.Sprintf("%s=%g selected bucket %d of %s", rule.Metric, value, branch, rule.Summary()),
		TriggeringValues: map[string]float64{rule.Metric: value},
	}
	if branch >= 0 && branch < len(childrenIDs) {
		ev.ChildID = childrenIDs[branch]
	}
	return ev
}

// Summary formats the rule like SplitRule.Summary without requiring the
// union wrapper.
func (r *RangeRule) Summary() string {
	parts := make([]string, len(r.Thresholds))
	for i, t := range r.Thresholds {
		parts[i] = trimFloat(t)
	}
	return fmt.Sprintf("%s in [%s]", r.Metric, strings.Join(parts, ", "))
}

func (e *Evaluator) evaluatePattern(row store.FeatureRow, rule *PatternRule, childrenIDs []string) Evaluation {
	states := make(map[string]string, len(rule.Conditions))
	values := make(map[string]float64, len(rule.Conditions))

	metrics := make([]string, 0, len(rule.Conditions))
	for metric := range rule.Conditions {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		cond := rule.Conditions[metric]
		value, present := row.Metric(metric)
		values[metric] = value
		states[metric] = cond.state(value, present)
	}

	for i, pattern := range rule.Patterns {
		if !pattern.matches(states) {
			continue
		}
		childID, branch := resolveChildID(pattern.ChildID, childrenIDs)
		return Evaluation{
			ChildID:          childID,
			BranchIndex:      branch,
			Explanation:      fmt.Sprintf("pattern %d matched: %s", i, describeStates(pattern.Match, states)),
			TriggeringValues: values,
		}
	}

	childID, branch := resolveChildID(rule.DefaultChildID, childrenIDs)
	return Evaluation{
		ChildID:          childID,
		BranchIndex:      branch,
		Explanation:      "no pattern matched, using default child",
		TriggeringValues: values,
	}
}

// state computes the condition's state for a value. Absent values take
// the "low" side of threshold and operator conditions and fall outside
// range conditions.
func (c Condition) state(value float64, present bool) string {
	switch {
	case c.Threshold != nil:
		if present && value >= *c.Threshold {
			return StateHigh
		}
		return StateLow
	case c.Min != nil || c.Max != nil:
		if !present {
			return StateOutRange
		}
		if c.Min != nil && value < *c.Min {
			return StateOutRange
		}
		if c.Max != nil && value > *c.Max {
			return StateOutRange
		}
		return StateInRange
	case c.Operator != "" && c.Value != nil:
		if present && compareOp(value, c.Operator, *c.Value) {
			return StateHigh
		}
		return StateLow
	default:
		return StateLow
	}
}

func compareOp(value float64, op string, target float64) bool {
	switch op {
	case ">":
		return value > target
	case ">=":
		return value >= target
	case "<":
		return value < target
	case "<=":
		return value <= target
	case "==", "=":
		return value == target
	case "!=":
		return value != target
	default:
		slog.Warn("unknown condition operator", "operator", op)
		return false
	}
}

// matches reports whether every non-wildcard entry of the pattern
// equals the computed state. A nil state is a wildcard.
func (p PatternEntry) matches(states map[string]string) bool {
	for metric, want := range p.Match {
		if want == nil {
			continue
		}
		if states[metric] != *want {
			return false
		}
	}
	return true
}

func describeStates(match map[string]*string, states map[string]string) string {
	metrics := make([]string, 0, len(match))
	for metric, want := range match {
		if want != nil {
			metrics = append(metrics, metric)
		}
	}
	sort.Strings(metrics)
	parts := make([]string, len(metrics))
	for i, metric := range metrics {
		parts[i] = fmt.Sprintf("%s=%s", metric, states[metric])
	}
	return strings.Join(parts, ", ")
}

func (e *Evaluator) evaluateExpression(row store.FeatureRow, rule *ExpressionRule, childrenIDs []string) Evaluation {
	env := &exprEnv{
		metric: func(name string) float64 {
			v, _ := row.Metric(name) // missing reads as 0.0
			return v
		},
		percentile: e.percentiles.Lookup,
		warn:       slog.Warn,
	}

	for i := range rule.Branches {
		branch := &rule.Branches[i]
		if branch.compiled == nil {
			if branch.compileErr == nil {
				// Structure was built without NewStructure; compile on
				// the spot so direct evaluator use still works.
				branch.compiled, branch.compileErr = compileCondition(branch.Condition)
			}
			if branch.compiled == nil {
				continue
			}
		}

		v, err := branch.compiled.eval(env)
		if err != nil || !v.isBool {
			// A branch that fails to evaluate is simply not matched.
			slog.Debug("expression branch did not evaluate to a boolean",
				"branch", i, "condition", branch.Condition, "error", err)
			continue
		}
		if !v.b {
			continue
		}

		childID, branchIdx := resolveChildID(branch.ChildID, childrenIDs)
		explanation := branch.Description
		if explanation == "" {
			explanation = branch.Condition
		}
		return Evaluation{
			ChildID:          childID,
			BranchIndex:      branchIdx,
			Explanation:      explanation,
			TriggeringValues: triggeringValues(row, branch.Condition),
		}
	}

	childID, branchIdx := resolveChildID(rule.DefaultChildID, childrenIDs)
	return Evaluation{
		ChildID:     childID,
		BranchIndex: branchIdx,
		Explanation: "no expression branch matched, using default child",
	}
}

func triggeringValues(row store.FeatureRow, condition string) map[string]float64 {
	idents := identifiersIn(condition)
	if len(idents) == 0 {
		return nil
	}
	out := make(map[string]float64, len(idents))
	for _, name := range idents {
		v, _ := row.Metric(name)
		out[name] = v
	}
	return out
}

// resolveChildID maps a rule's child id onto the mounted node's actual
// children list. Rules are written against bare child names, but a
// structure may compose ids with ancestor prefixes when the same rule
// is mounted at different points of the tree, so resolution falls back
// in three steps:
//
//  1. exact match against the children list
//  2. suffix match (a child id ends with the rule's id)
//  3. contiguous subsequence match on '_'-delimited tokens
//
// The fallback order is load-bearing; do not reorder. When nothing
// resolves, the raw id is returned with branch index -1 and the engine
// halts the affected entity at the current node.
func resolveChildID(target string, childrenIDs []string) (string, int) {
	resolved, idx := matchChildID(target, childrenIDs)
	if idx < 0 && target != "" {
		slog.Warn("child id did not resolve against children list",
			"child_id", target, "children", childrenIDs)
	}
	return resolved, idx
}

// matchChildID is the non-logging resolution core, also used for
// display-name lookups where a miss is routine.
func matchChildID(target string, childrenIDs []string) (string, int) {
	if target == "" {
		return "", -1
	}

	for i, child := range childrenIDs {
		if child == target {
			return child, i
		}
	}

	for i, child := range childrenIDs {
		if strings.HasSuffix(child, target) {
			return child, i
		}
	}

	targetTokens := strings.Split(target, "_")
	for i, child := range childrenIDs {
		if containsTokenRun(strings.Split(child, "_"), targetTokens) {
			return child, i
		}
	}

	return target, -1
}

// containsTokenRun reports whether needle occurs as a contiguous run
// within haystack.
func containsTokenRun(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for start := 0; start+len(needle) <= len(haystack); start++ {
		match := true
		for j := range needle {
			if haystack[start+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
