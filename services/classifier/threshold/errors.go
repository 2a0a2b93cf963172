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

import "errors"

// Sentinel errors for threshold structure operations.
//
// Construction-time errors (ErrNoRoot, ErrMultipleRoots,
// ErrCyclicStructure, ErrUnknownRuleType) are fatal for the whole
// request: no traversal can begin on such a structure. Everything
// else degrades per-node at classification time and is only logged.
var (
	// ErrNoRoot is returned when no node in the structure is free of
	// incoming child references.
	ErrNoRoot = errors.New("threshold structure has no root node")

	// ErrMultipleRoots is returned when more than one node has no
	// incoming child reference.
	ErrMultipleRoots = errors.New("threshold structure has multiple root nodes")

	// ErrCyclicStructure is returned when a node is reachable from
	// itself. The classifier assumes a tree; a cycle would otherwise
	// loop forever during traversal.
	ErrCyclicStructure = errors.New("threshold structure contains a cycle")

	// ErrUnknownRuleType is returned when a split rule carries a type
	// tag other than "range", "pattern", or "expression".
	ErrUnknownRuleType = errors.New("unknown split rule type")

	// ErrDuplicateNodeID is returned when two nodes share an id.
	ErrDuplicateNodeID = errors.New("duplicate node id in threshold structure")

	// ErrNodeNotFound is returned by lookups for ids absent from the
	// structure.
	ErrNodeNotFound = errors.New("node not found in threshold structure")

	// ErrEmptyStructure is returned when a structure is constructed
	// from zero nodes.
	ErrEmptyStructure = errors.New("threshold structure has no nodes")
)
