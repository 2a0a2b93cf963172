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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
)

// TestPercentileUniformSample verifies interpolated percentiles over a
// uniform 1..100 sample: P50 splits the sample so that exactly half the
// values sit at or below it.
func TestPercentileUniformSample(t *testing.T) {
	rows := make([]store.FeatureRow, 100)
	for i := range rows {
		rows[i] = store.FeatureRow{
			"entity_id": fmt.Sprintf("e%03d", i),
			"m":         float64(i + 1),
		}
	}
	table := BuildPercentileTable(rows, []string{"m"})

	p0, ok := table.Lookup("m", 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, p0)

	p100, ok := table.Lookup("m", 100)
	require.True(t, ok)
	assert.Equal(t, 100.0, p100)

	p50, ok := table.Lookup("m", 50)
	require.True(t, ok)
	assert.InDelta(t, 50.5, p50, 1e-9)

	count := 0
	for _, row := range rows {
		if v, _ := row.Metric("m"); v >= p50 {
			count++
		}
	}
	assert.Equal(t, 50, count, "half the sample should be at or above P50")
}

// TestPercentileFractionalLookup verifies lookups between integer steps
// interpolate linearly.
func TestPercentileFractionalLookup(t *testing.T) {
	rows := []store.FeatureRow{
		{"entity_id": "a", "m": 0.0},
		{"entity_id": "b", "m": 100.0},
	}
	table := BuildPercentileTable(rows, []string{"m"})

	v, ok := table.Lookup("m", 12.5)
	require.True(t, ok)
	assert.InDelta(t, 12.5, v, 1e-9)
}

// TestPercentileDistinctEntities verifies duplicate rows for one entity
// contribute a single sample, first non-null value winning.
func TestPercentileDistinctEntities(t *testing.T) {
	rows := []store.FeatureRow{
		{"entity_id": "a", "m": nil},
		{"entity_id": "a", "m": 10.0},
		{"entity_id": "a", "m": 99.0}, // ignored: a already contributed
		{"entity_id": "b", "m": 20.0},
		{"entity_id": "b", "m": 0.0}, // ignored
	}
	table := BuildPercentileTable(rows, []string{"m"})

	lo, ok := table.Lookup("m", 0)
	require.True(t, ok)
	hi, ok := table.Lookup("m", 100)
	require.True(t, ok)
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 20.0, hi)
}

// TestPercentileMissingMetric verifies lookups for metrics with no
// samples report absence instead of zero values.
func TestPercentileMissingMetric(t *testing.T) {
	table := BuildPercentileTable([]store.FeatureRow{
		{"entity_id": "a", "m": 1.0},
	}, []string{"m", "ghost"})

	_, ok := table.Lookup("ghost", 50)
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"m"}, table.Metrics())
}

// TestPercentileNilTable verifies a nil table is a valid
// always-absent table.
func TestPercentileNilTable(t *testing.T) {
	var table *PercentileTable
	_, ok := table.Lookup("m", 50)
	assert.False(t, ok)
	assert.Empty(t, table.Metrics())
}

// TestPercentileSingleValue verifies a single-sample distribution is
// flat across all percentiles.
func TestPercentileSingleValue(t *testing.T) {
	table := BuildPercentileTable([]store.FeatureRow{
		{"entity_id": "a", "m": 7.0},
	}, []string{"m"})

	for _, pct := range []float64{0, 25, 50, 99, 100} {
		v, ok := table.Lookup("m", pct)
		require.True(t, ok)
		assert.Equal(t, 7.0, v)
	}
}
