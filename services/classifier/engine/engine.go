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
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
	"github.com/AleutianAI/FeatureScope/services/classifier/threshold"
)

// Batch traversal configuration constants.
const (
	// parallelThreshold is the minimum distinct-entity count to engage
	// the worker pool. Small batches classify sequentially for better
	// cache locality.
	parallelThreshold = 64

	// maxWorkers caps the pool regardless of CPU count. Traversal is
	// memory bound; excessive parallelism does not pay.
	maxWorkers = 8
)

var engineTracer = otel.Tracer("classifier.engine")

// Result is one entity's classification: the leaf reached, the full
// root-to-leaf path, and the node occupied at each stage. Created fresh
// per request, discarded after aggregation.
type Result struct {
	EntityID    string
	FinalNodeID string
	Path        []string
	StageNodes  map[int]string
}

// Config configures an Engine.
type Config struct {
	// Workers is the classification worker cap.
	// Default: min(NumCPU, 8).
	Workers int

	// CacheCapacity bounds the aggregated-view LRU cache.
	// Default: DefaultCacheCapacity.
	CacheCapacity int

	// Metrics receives engine instrumentation. Optional.
	Metrics *Metrics
}

// Engine drives batch classification and aggregation. Construct one
// per service (or per request); it holds no request state beyond the
// bounded result cache.
//
// # Thread Safety
//
// Safe for concurrent use. The result cache is internally locked; all
// other state is read-only after New.
type Engine struct {
	workers int
	cache   *resultCache
	metrics *Metrics
}

// New creates an Engine from a config, applying defaults for zero
// fields.
func New(cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return &Engine{
		workers: workers,
		cache:   newResultCache(cfg.CacheCapacity),
		metrics: cfg.Metrics,
	}
}

// BatchOption adjusts one ClassifyBatch call.
type BatchOption func(*batchOptions)

type batchOptions struct {
	filters   map[string]string
	skipCache bool
}

// WithFilters echoes caller-applied row filters into the view metadata.
func WithFilters(filters map[string]string) BatchOption {
	return func(o *batchOptions) { o.filters = filters }
}

// WithoutCache bypasses the result cache for one call.
func WithoutCache() BatchOption {
	return func(o *batchOptions) { o.skipCache = true }
}

// ClassifyBatch classifies every distinct entity of a batch through the
// structure and aggregates the results into a flow-diagram view.
//
// The batch percentile table is built before any classification starts;
// workers then share it read-only. Entities appearing in several rows
// (explainer x scorer duplication) are classified once, on their first
// row.
//
// Outputs:
//   - *SankeyView: Aggregated node/link tables. Immutable once
//     returned; callers and the cache share it.
//   - error: Non-nil only when no traversal could begin (nil structure
//     or cancelled context).
func (e *Engine) ClassifyBatch(ctx context.Context, rows []store.FeatureRow, s *threshold.Structure, opts ...BatchOption) (*SankeyView, error) {
	ctx, span := engineTracer.Start(ctx, "engine.ClassifyBatch",
		trace.WithAttributes(attribute.Int("rows", len(rows))),
	)
	defer span.End()

	options := batchOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	if s == nil || s.Root() == nil {
		err := fmt.Errorf("classification requires a rooted structure")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.countBatch(ctx, "invalid")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	key := ""
	if !options.skipCache {
		var err error
		key, err = CacheKey(rows, s)
		if err != nil {
			slog.Warn("failed to derive cache key, classifying uncached", "error", err)
		} else if view, ok := e.cache.Get(key); ok {
			e.countCache(ctx, true)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return view, nil
		} else {
			e.countCache(ctx, false)
		}
	}

	distinct := dedupeRows(rows)
	span.SetAttributes(attribute.Int("distinct_entities", len(distinct)))

	// Synchronization point: every expression evaluation in this batch
	// shares one fully built table.
	table := threshold.BuildPercentileTable(distinct, s.ExpressionMetrics())
	evaluator := threshold.NewEvaluator(table)

	results, err := e.classifyAll(ctx, distinct, s, evaluator)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.countBatch(ctx, "cancelled")
		return nil, err
	}

	view := aggregate(s, results, options.filters)

	if key != "" {
		e.cache.Set(key, view)
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("nodes", len(view.Nodes)),
		attribute.Int("links", len(view.Links)),
		attribute.Float64("duration_seconds", elapsed.Seconds()),
	)
	span.SetStatus(codes.Ok, "")

	e.countBatch(ctx, "ok")
	if e.metrics != nil {
		e.metrics.BatchDuration.Record(ctx, elapsed.Seconds())
		e.metrics.EntitiesClassified.Add(ctx, int64(len(results)))
	}

	slog.Debug("batch classification completed",
		"rows", len(rows),
		"distinct_entities", len(distinct),
		"duration_ms", elapsed.Milliseconds(),
	)
	return view, nil
}

// classifyAll traverses every row, in parallel for wide batches.
// results[i] corresponds to rows[i]; workers write disjoint index
// ranges, so the merge is free.
func (e *Engine) classifyAll(ctx context.Context, rows []store.FeatureRow, s *threshold.Structure, evaluator *threshold.Evaluator) ([]Result, error) {
	results := make([]Result, len(rows))

	if len(rows) < parallelThreshold || e.workers <= 1 {
		for i, row := range rows {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			results[i] = e.classifyRow(ctx, row, s, evaluator)
		}
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	chunk := (len(rows) + e.workers - 1) / e.workers
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				results[i] = e.classifyRow(ctx, rows[i], s, evaluator)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// classifyRow walks one row from the root to a leaf. A child id that
// resolves to no node halts the traversal at the current node, as if it
// were a leaf: one malformed rule must not fail the batch.
func (e *Engine) classifyRow(ctx context.Context, row store.FeatureRow, s *threshold.Structure, evaluator *threshold.Evaluator) Result {
	node := s.Root()
	result := Result{
		EntityID:   row.EntityID(),
		Path:       make([]string, 0, 4),
		StageNodes: make(map[int]string, 4),
	}

	for {
		result.Path = append(result.Path, node.ID)
		result.StageNodes[node.Stage] = node.ID

		if node.IsLeaf() {
			break
		}

		eval := evaluator.Evaluate(row, node.SplitRule, node.ChildrenIDs)
		if eval.ChildID == "" {
			slog.Warn("rule selected no child, halting entity at current node",
				"entity_id", result.EntityID,
				"node_id", node.ID)
			e.countHalt(ctx)
			break
		}

		child, ok := s.NodeByID(eval.ChildID)
		if !ok {
			slog.Warn("rule selected a child absent from the structure, halting entity",
				"entity_id", result.EntityID,
				"node_id", node.ID,
				"child_id", eval.ChildID)
			e.countHalt(ctx)
			break
		}
		node = child
	}

	result.FinalNodeID = node.ID
	return result
}

// dedupeRows keeps the first row of each entity, preserving order.
// Rows without an entity id are dropped.
func dedupeRows(rows []store.FeatureRow) []store.FeatureRow {
	seen := make(map[string]struct{}, len(rows))
	out := make([]store.FeatureRow, 0, len(rows))
	for _, row := range rows {
		id := row.EntityID()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, row)
	}
	return out
}

// CacheStats exposes the result cache counters for health reporting.
func (e *Engine) CacheStats() (hits, misses, evictions int64, size int) {
	h, m, ev := e.cache.Stats()
	return h, m, ev, e.cache.Len()
}

func (e *Engine) countBatch(ctx context.Context, status string) {
	if e.metrics != nil {
		e.metrics.BatchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (e *Engine) countCache(ctx context.Context, hit bool) {
	if e.metrics == nil {
		return
	}
	if hit {
		e.metrics.CacheHitsTotal.Add(ctx, 1)
	} else {
		e.metrics.CacheMissesTotal.Add(ctx, 1)
	}
}

func (e *Engine) countHalt(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.TraversalHaltsTotal.Add(ctx, 1)
	}
}
