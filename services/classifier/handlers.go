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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/FeatureScope/services/classifier/store"
	"github.com/AleutianAI/FeatureScope/services/classifier/threshold"
)

// Handlers contains the HTTP handlers for the classifier service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleSankey handles POST /v1/classifier/sankey.
//
// Description:
//
//	Classifies a dataset's rows through the supplied threshold
//	structure and returns the aggregated sankey view.
//
// Request Body:
//
//	SankeyRequest
//
// Response:
//
//	200 OK: SankeyResponse
//	400 Bad Request: Malformed body or invalid structure
//	404 Not Found: Unknown dataset
//	500 Internal Server Error: Classification error
func (h *Handlers) HandleSankey(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSankey")

	var req SankeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.Sankey(c.Request.Context(), &req)
	if err != nil {
		status, code := classifyError(err)
		logger.Error("Sankey classification failed", "dataset_id", req.DatasetID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Batch classified",
		"dataset_id", req.DatasetID,
		"total_features", resp.View.Metadata.TotalFeatures,
		"nodes", len(resp.View.Nodes),
		"links", len(resp.View.Links))
	c.JSON(http.StatusOK, resp)
}

// HandleNodeFeatures handles POST /v1/classifier/features.
//
// Description:
//
//	Returns the entity identifiers that reach a given structure node,
//	using the constraint-replay fast path for leaves and early-stop
//	traversal for interior nodes.
//
// Request Body:
//
//	NodeFeaturesRequest
//
// Response:
//
//	200 OK: NodeFeaturesResponse
//	400 Bad Request: Malformed body or invalid structure
//	404 Not Found: Unknown dataset or node
//	500 Internal Server Error: Traversal error
func (h *Handlers) HandleNodeFeatures(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleNodeFeatures")

	var req NodeFeaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.NodeFeatures(c.Request.Context(), &req)
	if err != nil {
		status, code := classifyError(err)
		logger.Error("Node membership query failed", "node_id", req.NodeID, "error", err)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("Node membership computed", "node_id", req.NodeID, "count", resp.Count)
	c.JSON(http.StatusOK, resp)
}

// HandleValidateStructure handles POST /v1/classifier/structure/validate.
//
// Response:
//
//	200 OK: ValidateStructureResponse
//	400 Bad Request: Malformed body or invalid structure
func (h *Handlers) HandleValidateStructure(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleValidateStructure")

	var req ValidateStructureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.ValidateStructure(c.Request.Context(), req.Structure)
	if err != nil {
		_, code := classifyError(err)
		logger.Warn("Structure rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleIngestRows handles POST /v1/classifier/datasets/:id/rows.
//
// Response:
//
//	200 OK: IngestRowsResponse
//	400 Bad Request: Malformed body or invalid dataset id
//	500 Internal Server Error: Storage error
func (h *Handlers) HandleIngestRows(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleIngestRows")

	datasetID := c.Param("id")
	if datasetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Missing dataset id",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var req IngestRowsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	count, err := h.svc.IngestRows(c.Request.Context(), datasetID, req.Rows)
	if err != nil {
		logger.Error("Row ingestion failed", "dataset_id", datasetID, "error", err)
		if errors.Is(err, ErrInvalidDatasetID) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_DATASET_ID"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INGEST_FAILED",
		})
		return
	}

	logger.Info("Rows ingested", "dataset_id", datasetID, "row_count", count)
	c.JSON(http.StatusOK, IngestRowsResponse{DatasetID: datasetID, RowCount: count})
}

// HandleListDatasets handles GET /v1/classifier/datasets.
func (h *Handlers) HandleListDatasets(c *gin.Context) {
	datasets, err := h.svc.Datasets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, DatasetsResponse{Datasets: datasets})
}

// HandleCacheStats handles GET /v1/classifier/debug/cache/stats.
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.CacheStats())
}

// HandleHealth handles GET /v1/classifier/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: "classifier",
		Version: ServiceVersion,
	})
}

// classifyError maps service errors to an HTTP status and error code.
func classifyError(err error) (int, string) {
	var jsonSyntax *json.SyntaxError
	var jsonType *json.UnmarshalTypeError
	if errors.As(err, &jsonSyntax) || errors.As(err, &jsonType) {
		return http.StatusBadRequest, "INVALID_STRUCTURE"
	}
	switch {
	case errors.Is(err, ErrInvalidDatasetID):
		return http.StatusBadRequest, "INVALID_DATASET_ID"
	case errors.Is(err, store.ErrDatasetNotFound):
		return http.StatusNotFound, "DATASET_NOT_FOUND"
	case errors.Is(err, ErrNoRows):
		return http.StatusNotFound, "NO_ROWS"
	case errors.Is(err, threshold.ErrNodeNotFound):
		return http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, threshold.ErrEmptyStructure),
		errors.Is(err, threshold.ErrNoRoot),
		errors.Is(err, threshold.ErrMultipleRoots),
		errors.Is(err, threshold.ErrCyclicStructure),
		errors.Is(err, threshold.ErrDuplicateNodeID),
		errors.Is(err, threshold.ErrUnknownRuleType):
		return http.StatusBadRequest, "INVALID_STRUCTURE"
	default:
		return http.StatusInternalServerError, "CLASSIFY_FAILED"
	}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
