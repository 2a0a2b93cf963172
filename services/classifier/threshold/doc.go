// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package threshold implements the decision-tree configuration and the
// per-node rule evaluator of the FeatureScope classifier.
//
// A Structure is an immutable tree of Nodes supplied by the caller at
// request time. Interior nodes carry a SplitRule, a tagged union of the
// three rule kinds:
//
//   - RangeRule: monotonic bucket boundaries on one metric
//   - PatternRule: multi-metric state matching with declaration-order
//     pattern entries and a default child
//   - ExpressionRule: free-form boolean conditions over metric names,
//     evaluated by a small closed-grammar parser with percentile macros
//
// The Evaluator maps one feature row through one node's rule to a child
// id plus explanation metadata. It never fails for malformed data:
// missing metric values default to 0.0 (range, expression) or the "low"
// state (pattern), out-of-bounds branch indexes clamp to the last child,
// and an unparsable expression branch simply does not match.
//
// # Ownership Model
//
// A Structure is built once per request and must not be mutated after
// construction. Nodes keep a precomputed root-to-node ParentPath which
// downstream fast paths replay as column predicates.
//
// # Thread Safety
//
// Structure and Evaluator are read-only after construction and safe for
// concurrent use across classification workers.
package threshold
