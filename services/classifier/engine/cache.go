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
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
	"github.com/AleutianAI/FeatureScope/services/classifier/threshold"
)

// DefaultCacheCapacity bounds the classification-result cache. Views
// for large batches are small (node/link tables, not rows), so a
// shallow cache covers the dashboard's repeat-query pattern.
const DefaultCacheCapacity = 100

// resultCache is a thread-safe fixed-size LRU over aggregated views.
//
// Mutual exclusion covers only the check/insert/evict critical section;
// no lock is ever held across classification of a batch.
type resultCache struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // Front = most recent, Back = least recent

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type cacheEntry struct {
	key  string
	view *SankeyView
}

// newResultCache creates a cache with the given capacity (> 0, falls
// back to DefaultCacheCapacity).
func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &resultCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached view for a key and marks it most recently
// used.
func (c *resultCache) Get(key string) (*SankeyView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*cacheEntry).view, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set stores a view, evicting the least recently used entry at
// capacity.
func (c *resultCache) Set(key string, view *SankeyView) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).view = view
		return
	}

	if c.order.Len() >= c.capacity {
		if elem := c.order.Back(); elem != nil {
			c.order.Remove(elem)
			delete(c.items, elem.Value.(*cacheEntry).key)
			c.evictions.Add(1)
		}
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, view: view})
}

// Len returns the number of cached views.
func (c *resultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Stats returns hit/miss/eviction counters (lock-free reads).
func (c *resultCache) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// CacheKey derives the cache key of a batch: a SHA-256 over the sorted
// distinct entity ids and the structure's canonical JSON encoding.
// Identical (entity set, structure) pairs share one cache slot
// regardless of row order or duplication across explainer/scorer
// dimensions.
func CacheKey(rows []store.FeatureRow, s *threshold.Structure) (string, error) {
	structJSON, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode structure for cache key: %w", err)
	}

	h := sha256.New()
	for _, id := range store.DistinctEntityIDs(rows) {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write(structJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}
