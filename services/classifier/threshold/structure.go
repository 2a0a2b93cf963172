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
	"log/slog"
	"sort"
)

// Structure is the immutable decision tree for one classification
// request: nodes, their split rules, and the derived lookup state built
// once at construction (id index, root, parent paths, compiled
// expression branches).
//
// # Thread Safety
//
// Read-only after NewStructure returns; safe for concurrent use.
type Structure struct {
	nodes    []*Node
	byID     map[string]*Node
	root     *Node
	maxStage int

	// dangling lists child ids referenced by rules or children lists
	// that resolve to no node. Tolerated per-entity at traversal time.
	dangling []string
}

// ParseStructure decodes a structure from its JSON wire form: either
// `{"nodes": [...]}` or a bare node array. Decoding fails on an
// unknown split-rule type (ErrUnknownRuleType), which is fatal for the
// request.
func ParseStructure(data []byte) (*Structure, error) {
	var wrapper struct {
		Nodes []*Node `json:"nodes"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Nodes) > 0 {
		return NewStructure(wrapper.Nodes)
	}

	var nodes []*Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("decode threshold structure: %w", err)
	}
	return NewStructure(nodes)
}

// NewStructure builds the derived state of a node set and validates the
// tree shape.
//
// Fatal conditions (no traversal could begin): empty node set,
// duplicate node ids, zero or multiple roots, a cycle, or an expression
// branch set where every branch of a rule failed to compile is NOT
// fatal; individual branches that fail to compile simply never match.
//
// Dangling child references are logged and recorded but tolerated:
// traversal halts at the referencing node for affected entities only.
func NewStructure(nodes []*Node) (*Structure, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyStructure
	}

	s := &Structure{
		nodes: nodes,
		byID:  make(map[string]*Node, len(nodes)),
	}

	for _, node := range nodes {
		if _, dup := s.byID[node.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateNodeID, node.ID)
		}
		s.byID[node.ID] = node
		if node.Stage > s.maxStage {
			s.maxStage = node.Stage
		}
	}

	// Root detection: the unique node with no incoming child reference.
	incoming := make(map[string]int, len(nodes))
	for _, node := range nodes {
		for _, childID := range node.ChildrenIDs {
			if _, ok := s.byID[childID]; !ok {
				s.dangling = append(s.dangling, childID)
				slog.Warn("threshold structure references unknown child",
					"parent_id", node.ID, "child_id", childID)
				continue
			}
			incoming[childID]++
		}
	}

	var root *Node
	for _, node := range nodes {
		if incoming[node.ID] == 0 {
			if root != nil {
				return nil, fmt.Errorf("%w: %q and %q", ErrMultipleRoots, root.ID, node.ID)
			}
			root = node
		}
	}
	if root == nil {
		return nil, ErrNoRoot
	}
	s.root = root

	// Depth-first walk from the root: cycle detection, parent path
	// precomputation, and expression branch compilation.
	visited := make(map[string]bool, len(nodes))
	if err := s.walk(root, visited); err != nil {
		return nil, err
	}

	return s, nil
}

// walk recursively visits a subtree, filling in each child's
// ParentPath and rejecting revisits.
func (s *Structure) walk(node *Node, visited map[string]bool) error {
	if visited[node.ID] {
		return fmt.Errorf("%w: node %q revisited", ErrCyclicStructure, node.ID)
	}
	visited[node.ID] = true

	rule := node.SplitRule
	if rule == nil {
		return nil
	}
	compileExpressions(node.ID, rule)

	summary := rule.Summary()
	for branch, childID := range node.ChildrenIDs {
		child, ok := s.byID[childID]
		if !ok {
			continue // dangling, already recorded
		}
		child.ParentPath = make([]ParentPathEntry, 0, len(node.ParentPath)+1)
		child.ParentPath = append(child.ParentPath, node.ParentPath...)
		child.ParentPath = append(child.ParentPath, ParentPathEntry{
			ParentID:    node.ID,
			RuleSummary: summary,
			BranchIndex: branch,
			Rule:        rule,
		})
		if err := s.walk(child, visited); err != nil {
			return err
		}
	}
	return nil
}

// compileExpressions precompiles the branch conditions of an expression
// rule. A branch that fails to compile is logged once here and treated
// as never matching during evaluation.
func compileExpressions(nodeID string, rule *SplitRule) {
	if rule.Kind != RuleKindExpression || rule.Expression == nil {
		return
	}
	for i := range rule.Expression.Branches {
		branch := &rule.Expression.Branches[i]
		branch.compiled, branch.compileErr = compileCondition(branch.Condition)
		if branch.compileErr != nil {
			slog.Warn("expression branch failed to compile, it will never match",
				"node_id", nodeID,
				"branch", i,
				"condition", branch.Condition,
				"error", branch.compileErr)
		}
	}
}

// Root returns the unique parentless node.
func (s *Structure) Root() *Node {
	return s.root
}

// NodeByID looks a node up in the id index.
func (s *Structure) NodeByID(id string) (*Node, bool) {
	node, ok := s.byID[id]
	return node, ok
}

// Nodes returns the structure's nodes in their declared order. The
// returned slice must be treated as read-only.
func (s *Structure) Nodes() []*Node {
	return s.nodes
}

// MaxStage returns the highest stage value present in the structure.
func (s *Structure) MaxStage() int {
	return s.maxStage
}

// Dangling returns the child ids referenced but absent from the
// structure, in discovery order.
func (s *Structure) Dangling() []string {
	return s.dangling
}

// ExpressionMetrics returns the deduplicated metric names whose
// percentile distributions any expression rule may consult. The
// percentile table for a request is built over exactly these.
func (s *Structure) ExpressionMetrics() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, node := range s.nodes {
		rule := node.SplitRule
		if rule == nil || rule.Kind != RuleKindExpression {
			continue
		}
		for _, m := range rule.Metrics() {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	return out
}

// AppliedThresholds flattens every numeric threshold present in the
// structure's range and pattern rules into a metric -> value map for
// display. Multi-threshold range rules emit metric_1..metric_N keys;
// pattern min/max conditions emit metric_min and metric_max. When two
// nodes would claim the same key, the later one is qualified with its
// node id.
func (s *Structure) AppliedThresholds() map[string]float64 {
	out := make(map[string]float64)
	put := func(nodeID, key string, value float64) {
		if existing, ok := out[key]; ok {
			if existing == value {
				return
			}
			key = nodeID + "." + key
		}
		out[key] = value
	}

	for _, node := range s.nodes {
		rule := node.SplitRule
		if rule == nil {
			continue
		}
		switch rule.Kind {
		case RuleKindRange:
			r := rule.Range
			if r == nil {
				continue
			}
			if len(r.Thresholds) == 1 {
				put(node.ID, r.Metric, r.Thresholds[0])
				continue
			}
			for i, t := range r.Thresholds {
				put(node.ID, fmt.Sprintf("%s_%d", r.Metric, i+1), t)
			}
		case RuleKindPattern:
			p := rule.Pattern
			if p == nil {
				continue
			}
			metrics := make([]string, 0, len(p.Conditions))
			for metric := range p.Conditions {
				metrics = append(metrics, metric)
			}
			sort.Strings(metrics)
			for _, metric := range metrics {
				cond := p.Conditions[metric]
				switch {
				case cond.Threshold != nil:
					put(node.ID, metric, *cond.Threshold)
				case cond.Min != nil || cond.Max != nil:
					if cond.Min != nil {
						put(node.ID, metric+"_min", *cond.Min)
					}
					if cond.Max != nil {
						put(node.ID, metric+"_max", *cond.Max)
					}
				case cond.Value != nil:
					put(node.ID, metric, *cond.Value)
				}
			}
		}
	}
	return out
}

// MarshalJSON encodes the structure back to its canonical wire form,
// a `{"nodes": [...]}` wrapper in declared node order. The engine's
// result cache keys on this encoding.
func (s *Structure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Nodes []*Node `json:"nodes"`
	}{Nodes: s.nodes})
}
