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
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the classifier engine's OpenTelemetry instruments.
// All metrics use the "classifier_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// BatchesTotal counts classification batches by status.
	BatchesTotal metric.Int64Counter

	// BatchDuration records end-to-end batch classification duration
	// in seconds, including aggregation.
	BatchDuration metric.Float64Histogram

	// EntitiesClassified counts distinct entities classified.
	EntitiesClassified metric.Int64Counter

	// TraversalHaltsTotal counts per-entity traversals halted early by
	// configuration inconsistencies (dangling child ids).
	TraversalHaltsTotal metric.Int64Counter

	// CacheHitsTotal and CacheMissesTotal count result-cache lookups.
	CacheHitsTotal   metric.Int64Counter
	CacheMissesTotal metric.Int64Counter

	// FilterQueriesTotal counts node-membership queries by fast path
	// ("constraint" or "early_stop").
	FilterQueriesTotal metric.Int64Counter
}

// NewMetrics registers the engine instruments on a meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.BatchesTotal, err = meter.Int64Counter(
		"classifier_batches_total",
		metric.WithDescription("Total classification batches by status"),
	); err != nil {
		return nil, fmt.Errorf("create classifier_batches_total: %w", err)
	}

	if m.BatchDuration, err = meter.Float64Histogram(
		"classifier_batch_duration_seconds",
		metric.WithDescription("Batch classification duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create classifier_batch_duration_seconds: %w", err)
	}

	if m.EntitiesClassified, err = meter.Int64Counter(
		"classifier_entities_classified_total",
		metric.WithDescription("Distinct entities classified"),
	); err != nil {
		return nil, fmt.Errorf("create classifier_entities_classified_total: %w", err)
	}

	if m.TraversalHaltsTotal, err = meter.Int64Counter(
		"classifier_traversal_halts_total",
		metric.WithDescription("Entity traversals halted by configuration inconsistencies"),
	); err != nil {
		return nil, fmt.Errorf("create classifier_traversal_halts_total: %w", err)
	}

	if m.CacheHitsTotal, err = meter.Int64Counter(
		"classifier_cache_hits_total",
		metric.WithDescription("Result cache hits"),
	); err != nil {
		return nil, fmt.Errorf("create classifier_cache_hits_total: %w", err)
	}

	if m.CacheMissesTotal, err = meter.Int64Counter(
		"classifier_cache_misses_total",
		metric.WithDescription("Result cache misses"),
	); err != nil {
		return nil, fmt.Errorf("create classifier_cache_misses_total: %w", err)
	}

	if m.FilterQueriesTotal, err = meter.Int64Counter(
		"classifier_filter_queries_total",
		metric.WithDescription("Node membership queries by fast path"),
	); err != nil {
		return nil, fmt.Errorf("create classifier_filter_queries_total: %w", err)
	}

	return m, nil
}
