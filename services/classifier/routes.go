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
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers all classifier routes with the router group.
//
// Description:
//
//	Registers the /v1/classifier/* endpoints. The router group should
//	already carry any tracing middleware; rate limiting is applied
//	here so CLI-embedded routers get it for free.
//
// Endpoints:
//
//	POST /v1/classifier/sankey - Classify a dataset into a sankey view
//	POST /v1/classifier/features - List entities reaching a node
//	POST /v1/classifier/structure/validate - Validate a structure document
//	POST /v1/classifier/datasets/:id/rows - Ingest feature rows
//	GET  /v1/classifier/datasets - List dataset ids
//	GET  /v1/classifier/health - Health check
//	GET  /v1/classifier/debug/cache/stats - Result cache counters
//
// Example:
//
//	svc := classifier.NewService(st, eng)
//	handlers := classifier.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	classifier.RegisterRoutes(v1, handlers, 50)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, requestsPerSecond float64) {
	group := rg.Group("/classifier")
	if requestsPerSecond > 0 {
		group.Use(rateLimitMiddleware(requestsPerSecond))
	}
	{
		// Classification
		group.POST("/sankey", handlers.HandleSankey)
		group.POST("/features", handlers.HandleNodeFeatures)

		// Structure tooling
		group.POST("/structure/validate", handlers.HandleValidateStructure)

		// Dataset lifecycle
		group.POST("/datasets/:id/rows", handlers.HandleIngestRows)
		group.GET("/datasets", handlers.HandleListDatasets)

		// Health
		group.GET("/health", handlers.HandleHealth)

		debug := group.Group("/debug")
		{
			debug.GET("/cache/stats", handlers.HandleCacheStats)
		}
	}
}

// rateLimitMiddleware rejects requests beyond the configured sustained
// rate with 429. The burst is twice the sustained rate so short spikes
// from dashboard refreshes pass.
func rateLimitMiddleware(requestsPerSecond float64) gin.HandlerFunc {
	burst := int(requestsPerSecond * 2)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "Rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
