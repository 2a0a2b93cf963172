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
	"fmt"
	"sort"
	"strings"
)

// RuleKind discriminates the split rule union.
type RuleKind string

const (
	RuleKindRange      RuleKind = "range"
	RuleKindPattern    RuleKind = "pattern"
	RuleKindExpression RuleKind = "expression"
)

// Metric states produced by pattern rule conditions.
const (
	StateHigh     = "high"
	StateLow      = "low"
	StateInRange  = "in_range"
	StateOutRange = "out_range"
)

// Node is one node of the decision tree.
//
// Stage is the node's position in the flow diagram, not necessarily its
// tree depth: a structure may skip stages. ChildrenIDs order is
// semantically meaningful, it is the branch index addressed by rule
// evaluation results.
type Node struct {
	// ID is unique within a structure.
	ID string `json:"id"`

	// Stage is the flow-diagram column of the node (>= 0, root is 0).
	Stage int `json:"stage"`

	// Category is an open-ended display tag ("root",
	// "feature_splitting", "semantic_similarity", ...).
	Category string `json:"category,omitempty"`

	// SplitRule is present on interior nodes, nil on leaves.
	SplitRule *SplitRule `json:"split_rule,omitempty"`

	// ChildrenIDs are the branch targets, ordered by branch index.
	ChildrenIDs []string `json:"children_ids,omitempty"`

	// ParentPath is the precomputed root-to-this-node chain. Built once
	// by NewStructure, never mutated afterward.
	ParentPath []ParentPathEntry `json:"-"`
}

// IsLeaf reports whether the node terminates classification.
func (n *Node) IsLeaf() bool {
	return n.SplitRule == nil
}

// ParentPathEntry records one traversal step from the root down to a
// node: which parent was crossed, the branch taken, and the rule that
// selected it. The fast-path filters replay these entries as column
// predicates without reclassifying the batch.
type ParentPathEntry struct {
	// ParentID is the interior node whose rule was applied.
	ParentID string `json:"parent_id"`

	// RuleSummary is a short human-readable form of the parent's rule.
	RuleSummary string `json:"rule_summary"`

	// BranchIndex is the position taken within the parent's
	// ChildrenIDs.
	BranchIndex int `json:"branch_index"`

	// Rule is the parent's split rule, shared with the parent node.
	// Read-only.
	Rule *SplitRule `json:"-"`
}

// SplitRule is the tagged union over the three rule kinds. Exactly one
// of Range, Pattern, or Expression is non-nil, matching Kind.
type SplitRule struct {
	Kind       RuleKind
	Range      *RangeRule
	Pattern    *PatternRule
	Expression *ExpressionRule
}

// RangeRule buckets one metric by ascending threshold boundaries.
// N thresholds produce N+1 branches.
type RangeRule struct {
	Metric     string    `json:"metric"`
	Thresholds []float64 `json:"thresholds"`
}

// Condition classifies one metric into a state for pattern matching.
// Exactly one of the three forms is used:
//
//   - Threshold: value >= threshold -> "high", else "low"
//   - Min/Max: min <= value <= max -> "in_range", else "out_range"
//   - Operator/Value: value <op> v -> "high", else "low"
type Condition struct {
	Threshold *float64 `json:"threshold,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Operator  string   `json:"operator,omitempty"`
	Value     *float64 `json:"value,omitempty"`
}

// PatternEntry is one multi-metric match candidate. A nil state in
// Match is a wildcard that matches any computed state.
type PatternEntry struct {
	Match       map[string]*string `json:"match"`
	ChildID     string             `json:"child_id"`
	Description string             `json:"description,omitempty"`
}

// PatternRule first evaluates every Condition to a per-metric state,
// then scans Patterns in declaration order; the first entry whose
// non-wildcard states all match wins. DefaultChildID receives
// everything that matches no pattern.
type PatternRule struct {
	Conditions     map[string]Condition `json:"conditions"`
	Patterns       []PatternEntry       `json:"patterns"`
	DefaultChildID string               `json:"default_child_id"`
}

// ExpressionBranch is one condition of an ExpressionRule. The compiled
// form is populated during structure construction; a branch that fails
// to compile is treated as never matching.
type ExpressionBranch struct {
	Condition   string `json:"condition"`
	ChildID     string `json:"child_id"`
	Description string `json:"description,omitempty"`

	compiled   exprNode
	compileErr error
}

// ExpressionRule tries Branches in declaration order; the first
// condition that evaluates true wins, otherwise DefaultChildID.
//
// AvailableMetrics, when set, names the metrics whose percentile
// distributions must be precomputed for `metric OP N%` macros. When
// empty, the metrics referenced by the branch conditions are used.
type ExpressionRule struct {
	Branches         []ExpressionBranch `json:"branches"`
	DefaultChildID   string             `json:"default_child_id"`
	AvailableMetrics []string           `json:"available_metrics,omitempty"`
}

// splitRuleJSON is the wire form of SplitRule. The type tag selects the
// rule kind; the remaining fields are a flattened union.
type splitRuleJSON struct {
	Type RuleKind `json:"type"`

	// Range fields.
	Metric     string    `json:"metric,omitempty"`
	Thresholds []float64 `json:"thresholds,omitempty"`

	// Pattern fields.
	Conditions     map[string]Condition `json:"conditions,omitempty"`
	Patterns       []PatternEntry       `json:"patterns,omitempty"`
	DefaultChildID string               `json:"default_child_id,omitempty"`

	// Expression fields.
	Branches         []ExpressionBranch `json:"branches,omitempty"`
	AvailableMetrics []string           `json:"available_metrics,omitempty"`
}

// UnmarshalJSON decodes the tagged wire form. An unrecognized type tag
// yields ErrUnknownRuleType, which is fatal for the request (the
// evaluator could not dispatch such a rule).
func (r *SplitRule) UnmarshalJSON(data []byte) error {
	var wire splitRuleJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode split rule: %w", err)
	}

	switch wire.Type {
	case RuleKindRange:
		r.Kind = RuleKindRange
		r.Range = &RangeRule{
			Metric:     wire.Metric,
			Thresholds: wire.Thresholds,
		}
	case RuleKindPattern:
		r.Kind = RuleKindPattern
		r.Pattern = &PatternRule{
			Conditions:     wire.Conditions,
			Patterns:       wire.Patterns,
			DefaultChildID: wire.DefaultChildID,
		}
	case RuleKindExpression:
		r.Kind = RuleKindExpression
		r.Expression = &ExpressionRule{
			Branches:         wire.Branches,
			DefaultChildID:   wire.DefaultChildID,
			AvailableMetrics: wire.AvailableMetrics,
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRuleType, wire.Type)
	}
	return nil
}

// MarshalJSON encodes the tagged wire form.
func (r *SplitRule) MarshalJSON() ([]byte, error) {
	wire := splitRuleJSON{Type: r.Kind}
	switch r.Kind {
	case RuleKindRange:
		if r.Range != nil {
			wire.Metric = r.Range.Metric
			wire.Thresholds = r.Range.Thresholds
		}
	case RuleKindPattern:
		if r.Pattern != nil {
			wire.Conditions = r.Pattern.Conditions
			wire.Patterns = r.Pattern.Patterns
			wire.DefaultChildID = r.Pattern.DefaultChildID
		}
	case RuleKindExpression:
		if r.Expression != nil {
			wire.Branches = r.Expression.Branches
			wire.DefaultChildID = r.Expression.DefaultChildID
			wire.AvailableMetrics = r.Expression.AvailableMetrics
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleType, r.Kind)
	}
	return json.Marshal(wire)
}

// Summary returns a short human-readable form of the rule, used in
// parent path entries and traversal explanations.
func (r *SplitRule) Summary() string {
	switch r.Kind {
	case RuleKindRange:
		if r.Range == nil {
			return "range"
		}
		parts := make([]string, len(r.Range.Thresholds))
		for i, t := range r.Range.Thresholds {
			parts[i] = trimFloat(t)
		}
		return fmt.Sprintf("%s in [%s]", r.Range.Metric, strings.Join(parts, ", "))
	case RuleKindPattern:
		if r.Pattern == nil {
			return "pattern"
		}
		metrics := make([]string, 0, len(r.Pattern.Conditions))
		for m := range r.Pattern.Conditions {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)
		return fmt.Sprintf("pattern(%s)", strings.Join(metrics, ", "))
	case RuleKindExpression:
		if r.Expression == nil {
			return "expression"
		}
		return fmt.Sprintf("expression(%d branches)", len(r.Expression.Branches))
	default:
		return string(r.Kind)
	}
}

// Metrics returns every metric name the rule reads. Used to flatten
// applied thresholds and to build percentile tables.
func (r *SplitRule) Metrics() []string {
	switch r.Kind {
	case RuleKindRange:
		if r.Range == nil || r.Range.Metric == "" {
			return nil
		}
		return []string{r.Range.Metric}
	case RuleKindPattern:
		if r.Pattern == nil {
			return nil
		}
		metrics := make([]string, 0, len(r.Pattern.Conditions))
		for m := range r.Pattern.Conditions {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)
		return metrics
	case RuleKindExpression:
		if r.Expression == nil {
			return nil
		}
		if len(r.Expression.AvailableMetrics) > 0 {
			out := make([]string, len(r.Expression.AvailableMetrics))
			copy(out, r.Expression.AvailableMetrics)
			return out
		}
		seen := make(map[string]struct{})
		var out []string
		for _, b := range r.Expression.Branches {
			for _, m := range identifiersIn(b.Condition) {
				if _, ok := seen[m]; !ok {
					seen[m] = struct{}{}
					out = append(out, m)
				}
			}
		}
		sort.Strings(out)
		return out
	default:
		return nil
	}
}

// trimFloat formats a float without trailing zeros ("0.5", not
// "0.500000").
func trimFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return s
}
