// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier exposes threshold classification over HTTP.
//
// The service layer wires the feature store and the classification
// engine behind a small set of JSON endpoints: dataset ingestion,
// structure validation, sankey classification, and node membership
// queries. Handlers stay thin; every operation lives on Service so it
// can be exercised directly from the CLI and from tests.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/FeatureScope/pkg/validation"
	"github.com/AleutianAI/FeatureScope/services/classifier/engine"
	"github.com/AleutianAI/FeatureScope/services/classifier/store"
	"github.com/AleutianAI/FeatureScope/services/classifier/threshold"
)

// ErrNoRows is returned when an operation targets a dataset with no
// stored rows after filtering.
var ErrNoRows = errors.New("classifier: dataset has no rows")

// ErrInvalidDatasetID is returned when a dataset identifier fails
// validation before reaching the store.
var ErrInvalidDatasetID = errors.New("classifier: invalid dataset id")

// Service implements the classifier operations over a feature store
// and a classification engine.
type Service struct {
	store  store.FeatureStore
	engine *engine.Engine
}

// NewService creates a Service backed by the given store and engine.
func NewService(st store.FeatureStore, eng *engine.Engine) *Service {
	return &Service{store: st, engine: eng}
}

// IngestRows stores rows under the given dataset identifier. The
// identifier is validated first since it becomes a storage key
// component.
func (s *Service) IngestRows(ctx context.Context, datasetID string, rows []map[string]any) (int, error) {
	if err := validation.ValidateDatasetID(datasetID); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidDatasetID, err)
	}
	converted := make([]store.FeatureRow, len(rows))
	for i, r := range rows {
		converted[i] = store.FeatureRow(r)
	}
	if err := s.store.PutRows(ctx, datasetID, converted); err != nil {
		return 0, fmt.Errorf("classifier: ingest dataset %q: %w", datasetID, err)
	}
	return len(converted), nil
}

// Datasets lists the known dataset identifiers, sorted.
func (s *Service) Datasets(ctx context.Context) ([]string, error) {
	return s.store.Datasets(ctx)
}

// ValidateStructure parses raw into a threshold structure and returns
// a summary. Parse and construction errors pass through unchanged so
// callers can map them to response codes.
func (s *Service) ValidateStructure(_ context.Context, raw []byte) (*ValidateStructureResponse, error) {
	structure, err := threshold.ParseStructure(raw)
	if err != nil {
		return nil, err
	}
	return &ValidateStructureResponse{
		Valid:             true,
		RootID:            structure.Root().ID,
		NodeCount:         len(structure.Nodes()),
		MaxStage:          structure.MaxStage(),
		DanglingChildIDs:  structure.Dangling(),
		AppliedThresholds: structure.AppliedThresholds(),
	}, nil
}

// Sankey classifies the dataset's rows through the structure and
// returns the aggregated view.
func (s *Service) Sankey(ctx context.Context, req *SankeyRequest) (*SankeyResponse, error) {
	structure, err := threshold.ParseStructure(req.Structure)
	if err != nil {
		return nil, err
	}
	rows, err := s.datasetRows(ctx, req.DatasetID, req.Filters)
	if err != nil {
		return nil, err
	}

	opts := []engine.BatchOption{}
	if len(req.Filters) > 0 {
		opts = append(opts, engine.WithFilters(req.Filters))
	}
	if req.SkipCache {
		opts = append(opts, engine.WithoutCache())
	}

	view, err := s.engine.ClassifyBatch(ctx, rows, structure, opts...)
	if err != nil {
		return nil, err
	}
	return &SankeyResponse{DatasetID: req.DatasetID, View: view}, nil
}

// NodeFeatures returns the sorted entity identifiers reaching the
// requested node.
func (s *Service) NodeFeatures(ctx context.Context, req *NodeFeaturesRequest) (*NodeFeaturesResponse, error) {
	structure, err := threshold.ParseStructure(req.Structure)
	if err != nil {
		return nil, err
	}
	rows, err := s.datasetRows(ctx, req.DatasetID, req.Filters)
	if err != nil {
		return nil, err
	}

	ids, err := s.engine.NodeFeatures(ctx, rows, structure, req.NodeID)
	if err != nil {
		return nil, err
	}
	return &NodeFeaturesResponse{NodeID: req.NodeID, FeatureIDs: ids, Count: len(ids)}, nil
}

// CacheStats reports engine result cache counters.
func (s *Service) CacheStats() *CacheStatsResponse {
	hits, misses, evictions, size := s.engine.CacheStats()
	return &CacheStatsResponse{
		Size:      size,
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
	}
}

// datasetRows loads and filters the dataset's rows.
func (s *Service) datasetRows(ctx context.Context, datasetID string, filters map[string]string) ([]store.FeatureRow, error) {
	rows, err := s.store.Rows(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	rows = applyFilters(rows, filters)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoRows, datasetID)
	}
	return rows, nil
}

// applyFilters keeps rows whose fields match every equality filter.
// Filter values compare against the row field's string form, so
// numeric fields match their canonical representation.
func applyFilters(rows []store.FeatureRow, filters map[string]string) []store.FeatureRow {
	if len(filters) == 0 {
		return rows
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]store.FeatureRow, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, k := range keys {
			if row.Field(k) != filters[k] {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out
}
