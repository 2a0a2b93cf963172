// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides feature-row storage for the classifier.
//
// A feature row is a flat map from metric name to a nullable numeric or
// categorical value, as delivered by the upstream columnar export. The
// same entity may appear in several rows, once per explainer and scorer
// combination; deduplication by entity id is the consumer's concern.
//
// Two implementations are provided: MemoryStore for tests and one-shot
// CLI runs, and BadgerStore for the long-lived service.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// EntityIDField is the row field holding the stable entity identity.
const EntityIDField = "entity_id"

// ErrDatasetNotFound is returned when reading a dataset id that was
// never ingested.
var ErrDatasetNotFound = errors.New("dataset not found")

// FeatureRow is one classifiable row: metric name to nullable value.
type FeatureRow map[string]any

// EntityID returns the row's stable entity identity. Numeric ids from
// JSON decoding are normalized to their integer string form. Returns
// "" when the field is absent.
func (r FeatureRow) EntityID() string {
	v, ok := r[EntityIDField]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'g', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprintf("%v", id)
	}
}

// Metric returns the row's numeric value for a metric. The second
// return is false when the value is absent, null, or not numeric; the
// classifier maps that to its per-rule default (0.0 or the "low"
// state), never to an error.
func (r FeatureRow) Metric(name string) (float64, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Field returns the row field's canonical string form, for equality
// filtering. Integral floats render without a fraction so JSON-decoded
// numeric fields compare naturally. Returns "" when absent or null.
func (r FeatureRow) Field(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	switch f := v.(type) {
	case string:
		return f
	case float64:
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(f)
	default:
		return fmt.Sprintf("%v", f)
	}
}

// DistinctEntityIDs returns the sorted distinct entity ids of a batch.
func DistinctEntityIDs(rows []FeatureRow) []string {
	seen := make(map[string]struct{}, len(rows))
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		id := row.EntityID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// FeatureStore persists feature rows grouped by dataset id.
//
// Implementations must be safe for concurrent use.
type FeatureStore interface {
	// PutRows appends rows to a dataset, creating it if needed.
	PutRows(ctx context.Context, dataset string, rows []FeatureRow) error

	// Rows returns every row of a dataset in insertion order.
	// Returns ErrDatasetNotFound for unknown datasets.
	Rows(ctx context.Context, dataset string) ([]FeatureRow, error)

	// Datasets returns the sorted ids of all stored datasets.
	Datasets(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// MemoryStore is an in-memory FeatureStore for tests and one-shot CLI
// classification runs.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string][]FeatureRow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{datasets: make(map[string][]FeatureRow)}
}

// PutRows appends rows to a dataset.
func (s *MemoryStore) PutRows(ctx context.Context, dataset string, rows []FeatureRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[dataset] = append(s.datasets[dataset], rows...)
	return nil
}

// Rows returns a copy of the dataset's row slice. The rows themselves
// are shared and must be treated as read-only.
func (s *MemoryStore) Rows(ctx context.Context, dataset string) ([]FeatureRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, dataset)
	}
	out := make([]FeatureRow, len(rows))
	copy(out, rows)
	return out, nil
}

// Datasets returns the sorted dataset ids.
func (s *MemoryStore) Datasets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.datasets))
	for id := range s.datasets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Ensure MemoryStore implements FeatureStore.
var _ FeatureStore = (*MemoryStore)(nil)
