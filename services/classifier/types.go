// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"encoding/json"

	"github.com/AleutianAI/FeatureScope/services/classifier/engine"
)

// ServiceVersion is the classifier service version.
const ServiceVersion = "0.1.0"

// SankeyRequest is the request body for POST /v1/classifier/sankey.
type SankeyRequest struct {
	// DatasetID selects the ingested feature dataset to classify.
	DatasetID string `json:"dataset_id" binding:"required"`

	// Structure is the threshold structure document. Either a bare
	// node array or an object with a "nodes" key.
	Structure json.RawMessage `json:"structure" binding:"required"`

	// Filters are optional equality filters applied to rows before
	// classification. Keys are row field names.
	Filters map[string]string `json:"filters,omitempty"`

	// SkipCache bypasses the engine result cache when true.
	SkipCache bool `json:"skip_cache,omitempty"`
}

// SankeyResponse wraps the aggregated view for a classified batch.
type SankeyResponse struct {
	// DatasetID echoes the classified dataset.
	DatasetID string `json:"dataset_id"`

	// View is the aggregated sankey diagram.
	View *engine.SankeyView `json:"view"`
}

// NodeFeaturesRequest is the request body for POST /v1/classifier/features.
type NodeFeaturesRequest struct {
	// DatasetID selects the ingested feature dataset.
	DatasetID string `json:"dataset_id" binding:"required"`

	// Structure is the threshold structure document.
	Structure json.RawMessage `json:"structure" binding:"required"`

	// NodeID names the structure node whose member entities are wanted.
	NodeID string `json:"node_id" binding:"required"`

	// Filters are optional equality filters applied to rows before
	// membership is computed.
	Filters map[string]string `json:"filters,omitempty"`
}

// NodeFeaturesResponse lists the entities that reach a node.
type NodeFeaturesResponse struct {
	// NodeID echoes the queried node.
	NodeID string `json:"node_id"`

	// FeatureIDs are the member entity identifiers, sorted.
	FeatureIDs []string `json:"feature_ids"`

	// Count is len(FeatureIDs).
	Count int `json:"count"`
}

// ValidateStructureRequest is the request body for POST /v1/classifier/structure/validate.
type ValidateStructureRequest struct {
	// Structure is the threshold structure document to check.
	Structure json.RawMessage `json:"structure" binding:"required"`
}

// ValidateStructureResponse summarizes a successfully parsed structure.
type ValidateStructureResponse struct {
	// Valid is always true on a 200 response.
	Valid bool `json:"valid"`

	// RootID is the identifier of the unique root node.
	RootID string `json:"root_id"`

	// NodeCount is the number of nodes in the structure.
	NodeCount int `json:"node_count"`

	// MaxStage is the deepest stage index reachable from the root.
	MaxStage int `json:"max_stage"`

	// DanglingChildIDs lists referenced but undefined child IDs.
	DanglingChildIDs []string `json:"dangling_child_ids,omitempty"`

	// AppliedThresholds flattens the structure's numeric boundaries.
	AppliedThresholds map[string]float64 `json:"applied_thresholds"`
}

// IngestRowsRequest is the request body for POST /v1/classifier/datasets/:id/rows.
type IngestRowsRequest struct {
	// Rows are the feature rows to store. Each row should carry an
	// entity_id field; rows without one are stored but never classified.
	Rows []map[string]any `json:"rows" binding:"required"`
}

// IngestRowsResponse reports how many rows were stored.
type IngestRowsResponse struct {
	DatasetID string `json:"dataset_id"`
	RowCount  int    `json:"row_count"`
}

// DatasetsResponse lists the known dataset identifiers.
type DatasetsResponse struct {
	Datasets []string `json:"datasets"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// CacheStatsResponse exposes engine result cache counters.
type CacheStatsResponse struct {
	Size      int   `json:"size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// ErrorResponse is the error payload returned by all endpoints.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}
