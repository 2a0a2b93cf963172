// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives bulk classification of feature rows through a
// threshold structure and aggregates the per-entity results into the
// node/link tables of a flow diagram.
//
// Classification is embarrassingly parallel across entities: each
// traversal reads only the immutable structure and its own row. Large
// batches are scattered across a bounded worker pool and merged with a
// commutative reduce, so aggregated counts are independent of worker
// scheduling. The batch percentile table is built before any worker
// starts; it is the one synchronization point of a request.
//
// Two fast paths answer node-membership queries without reclassifying
// the batch: leaf nodes replay their recorded parent-path constraints
// directly as column predicates, and interior nodes use an
// early-stopping traversal that halts at the target stage.
//
// Aggregated views are kept in a bounded LRU cache keyed by a hash of
// the distinct entity set and the structure's canonical encoding.
package engine
