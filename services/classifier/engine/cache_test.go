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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
)

// TestResultCacheLRUEviction verifies capacity bounds and
// least-recently-used eviction order.
func TestResultCacheLRUEviction(t *testing.T) {
	c := newResultCache(2)

	a, b, d := &SankeyView{}, &SankeyView{}, &SankeyView{}
	c.Set("a", a)
	c.Set("b", b)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", d)
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	hits, misses, evictions := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, int64(1), evictions)
}

// TestResultCacheOverwrite verifies setting an existing key replaces
// the value without growing the cache.
func TestResultCacheOverwrite(t *testing.T) {
	c := newResultCache(2)
	first, second := &SankeyView{}, &SankeyView{}

	c.Set("k", first)
	c.Set("k", second)
	assert.Equal(t, 1, c.Len())

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Same(t, second, got)
}

// TestCacheKeySensitivity verifies the key tracks the distinct entity
// set and the structure, and nothing else.
func TestCacheKeySensitivity(t *testing.T) {
	s := mustStructure(t, scoreSplitStructure)
	rows := []store.FeatureRow{
		{"entity_id": "a", "score": 0.2},
		{"entity_id": "b", "score": 0.8},
	}

	base, err := CacheKey(rows, s)
	require.NoError(t, err)

	t.Run("row order does not matter", func(t *testing.T) {
		reordered := []store.FeatureRow{rows[1], rows[0]}
		key, err := CacheKey(reordered, s)
		require.NoError(t, err)
		assert.Equal(t, base, key)
	})

	t.Run("duplicate rows do not matter", func(t *testing.T) {
		dup := append([]store.FeatureRow{rows[0]}, rows...)
		key, err := CacheKey(dup, s)
		require.NoError(t, err)
		assert.Equal(t, base, key)
	})

	t.Run("entity set matters", func(t *testing.T) {
		extra := append([]store.FeatureRow{{"entity_id": "c"}}, rows...)
		key, err := CacheKey(extra, s)
		require.NoError(t, err)
		assert.NotEqual(t, base, key)
	})

	t.Run("structure matters", func(t *testing.T) {
		other := mustStructure(t, `[
			{"id": "root", "stage": 0, "children_ids": ["score_low", "score_high"],
			 "split_rule": {"type": "range", "metric": "score", "thresholds": [0.6]}},
			{"id": "score_low", "stage": 1},
			{"id": "score_high", "stage": 1}
		]`)
		key, err := CacheKey(rows, other)
		require.NoError(t, err)
		assert.NotEqual(t, base, key)
	})
}

// TestEngineCacheStats verifies counters surface through the engine.
func TestEngineCacheStats(t *testing.T) {
	eng := New(Config{CacheCapacity: 4})
	s := mustStructure(t, scoreSplitStructure)
	rows := []store.FeatureRow{{"entity_id": "a", "score": 0.3}}

	for i := 0; i < 3; i++ {
		_, err := eng.ClassifyBatch(context.Background(), rows, s)
		require.NoError(t, err)
	}

	hits, misses, _, size := eng.CacheStats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)
}

// TestCacheKeyDeterministic verifies stability across calls.
func TestCacheKeyDeterministic(t *testing.T) {
	s := mustStructure(t, scoreSplitStructure)
	rows := make([]store.FeatureRow, 20)
	for i := range rows {
		rows[i] = store.FeatureRow{"entity_id": fmt.Sprintf("e%02d", i)}
	}
	k1, err := CacheKey(rows, s)
	require.NoError(t, err)
	k2, err := CacheKey(rows, s)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}
