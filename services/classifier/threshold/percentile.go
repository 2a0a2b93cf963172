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
	"math"
	"sort"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
)

// PercentileTable holds batch-specific percentile values for the
// metrics referenced by expression rules. It is built once per
// classification request, before any expression evaluation begins, and
// is read-only afterward.
//
// Percentiles reflect the distinct-entity distribution, not the row
// distribution: an entity appearing once per explainer and scorer
// combination contributes a single value (the first non-null one seen).
type PercentileTable struct {
	// values maps metric name to its P0..P100 values in steps of 1.
	values map[string][]float64
}

// BuildPercentileTable computes P0..P100 for each named metric over the
// distinct-entity values of the batch, using linear interpolation.
// Metrics with no non-null value in the batch get no table entry;
// lookups for them report a miss.
func BuildPercentileTable(rows []store.FeatureRow, metrics []string) *PercentileTable {
	table := &PercentileTable{values: make(map[string][]float64, len(metrics))}

	for _, metric := range metrics {
		seen := make(map[string]struct{}, len(rows))
		var values []float64
		for _, row := range rows {
			id := row.EntityID()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			v, ok := row.Metric(metric)
			if !ok {
				continue
			}
			// First non-null value per entity wins.
			seen[id] = struct{}{}
			values = append(values, v)
		}
		if len(values) == 0 {
			continue
		}
		sort.Float64s(values)

		steps := make([]float64, 101)
		for p := 0; p <= 100; p++ {
			steps[p] = interpolate(values, float64(p))
		}
		table.values[metric] = steps
	}

	return table
}

// Lookup returns the metric's value at a (possibly fractional)
// percentile. The second return is false when the metric has no table
// entry; callers then fall back to treating the percentage as an
// absolute 0-1 literal.
func (t *PercentileTable) Lookup(metric string, pct float64) (float64, bool) {
	if t == nil {
		return 0, false
	}
	steps, ok := t.values[metric]
	if !ok {
		return 0, false
	}
	if pct <= 0 {
		return steps[0], true
	}
	if pct >= 100 {
		return steps[100], true
	}
	lo := int(math.Floor(pct))
	frac := pct - float64(lo)
	if frac == 0 {
		return steps[lo], true
	}
	return steps[lo] + frac*(steps[lo+1]-steps[lo]), true
}

// Metrics returns the metric names with table entries, unordered.
func (t *PercentileTable) Metrics() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.values))
	for m := range t.values {
		out = append(out, m)
	}
	return out
}

// interpolate computes one percentile of a sorted sample by linear
// interpolation over the rank pct/100 * (n-1).
func interpolate(sorted []float64, pct float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
