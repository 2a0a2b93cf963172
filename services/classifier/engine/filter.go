// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
	"github.com/AleutianAI/FeatureScope/services/classifier/threshold"
)

// NodeFeatures returns the sorted distinct entity ids classified into a
// node, choosing the cheapest applicable fast path: leaf nodes replay
// their parent-path constraints as column predicates, interior nodes
// use an early-stopping traversal. Both avoid classifying the stages an
// entity is filtered out before reaching.
func (e *Engine) NodeFeatures(ctx context.Context, rows []store.FeatureRow, s *threshold.Structure, nodeID string) ([]string, error) {
	node, ok := s.NodeByID(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", threshold.ErrNodeNotFound, nodeID)
	}
	if node.IsLeaf() {
		return e.FilterLeaf(ctx, rows, s, nodeID)
	}
	return e.FilterStage(ctx, rows, s, nodeID)
}

// FilterLeaf selects the entities belonging to a leaf by replaying the
// leaf's recorded parent-path constraints directly as column
// predicates, skipping tree traversal entirely.
//
// Only range-rule path entries replay as pure predicates. When the path
// crosses a pattern or expression rule the method silently falls back
// to the early-stopping traversal; this is a known limitation, not a
// failure.
func (e *Engine) FilterLeaf(ctx context.Context, rows []store.FeatureRow, s *threshold.Structure, leafID string) ([]string, error) {
	node, ok := s.NodeByID(leafID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", threshold.ErrNodeNotFound, leafID)
	}
	if !node.IsLeaf() {
		return e.FilterStage(ctx, rows, s, leafID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	predicates, replayable := pathPredicates(node.ParentPath)
	if !replayable {
		slog.Debug("leaf path not replayable as predicates, using early-stopping traversal",
			"leaf_id", leafID)
		return e.FilterStage(ctx, rows, s, leafID)
	}
	e.countFilter(ctx, "constraint")

	var out []string
	seen := make(map[string]struct{})
	for _, row := range rows {
		id := row.EntityID()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		match := true
		for _, pred := range predicates {
			value, _ := row.Metric(pred.metric) // missing reads as 0.0
			if value < pred.lo || value >= pred.hi {
				match = false
				break
			}
		}
		if match {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// intervalPredicate is a half-open column constraint lo <= value < hi.
type intervalPredicate struct {
	metric string
	lo, hi float64
}

// pathPredicates converts a parent path into a predicate conjunction.
// The second return is false when any entry is not a range rule.
func pathPredicates(path []threshold.ParentPathEntry) ([]intervalPredicate, bool) {
	predicates := make([]intervalPredicate, 0, len(path))
	for _, entry := range path {
		rule := entry.Rule
		if rule == nil || rule.Kind != threshold.RuleKindRange || rule.Range == nil {
			return nil, false
		}
		thresholds := rule.Range.Thresholds
		branch := entry.BranchIndex

		pred := intervalPredicate{
			metric: rule.Range.Metric,
			lo:     math.Inf(-1),
			hi:     math.Inf(1),
		}
		if branch > 0 && branch-1 < len(thresholds) {
			pred.lo = thresholds[branch-1]
		}
		if branch < len(thresholds) {
			pred.hi = thresholds[branch]
		}
		predicates = append(predicates, pred)
	}
	return predicates, true
}

// FilterStage selects the entities whose node at the target's stage is
// the target, traversing each entity only until that stage is reached.
// Stages past the target are never computed for entities that already
// branched elsewhere.
func (e *Engine) FilterStage(ctx context.Context, rows []store.FeatureRow, s *threshold.Structure, nodeID string) ([]string, error) {
	target, ok := s.NodeByID(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", threshold.ErrNodeNotFound, nodeID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.countFilter(ctx, "early_stop")

	distinct := dedupeRows(rows)
	table := threshold.BuildPercentileTable(distinct, s.ExpressionMetrics())
	evaluator := threshold.NewEvaluator(table)

	var out []string
	for i, row := range distinct {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if e.reachesNode(row, s, evaluator, target) {
			out = append(out, row.EntityID())
		}
	}
	sort.Strings(out)
	return out, nil
}

// reachesNode walks one row from the root, stopping as soon as the
// target stage is reached or passed.
func (e *Engine) reachesNode(row store.FeatureRow, s *threshold.Structure, evaluator *threshold.Evaluator, target *threshold.Node) bool {
	node := s.Root()
	for {
		if node.ID == target.ID {
			return true
		}
		// Early stop: once at or past the target stage the target can
		// no longer appear on this entity's path.
		if node.Stage >= target.Stage {
			return false
		}
		if node.IsLeaf() {
			return false
		}

		eval := evaluator.Evaluate(row, node.SplitRule, node.ChildrenIDs)
		if eval.ChildID == "" {
			return false
		}
		child, ok := s.NodeByID(eval.ChildID)
		if !ok {
			return false
		}
		node = child
	}
}

func (e *Engine) countFilter(ctx context.Context, mode string) {
	if e.metrics != nil {
		e.metrics.FilterQueriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	}
}
