// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command featurescope runs the FeatureScope threshold classification
// engine.
//
// FeatureScope classifies batches of feature rows through a
// tree-structured rule configuration and aggregates the results into
// sankey flow views:
//   - Range, pattern, and expression rules with percentile macros
//   - Persistent row storage (Badger) with per-dataset isolation
//   - Bounded LRU result cache keyed by batch and structure
//
// Usage:
//
//	featurescope serve
//	featurescope serve --port 9090 --in-memory
//	featurescope classify --rows rows.json --structure structure.json
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/classifier/health
//
//	# Ingest rows
//	curl -X POST http://localhost:8080/v1/classifier/datasets/sweep/rows \
//	  -H "Content-Type: application/json" \
//	  -d '{"rows": [{"entity_id": "f1", "score": 0.42}]}'
//
//	# Classify and aggregate
//	curl -X POST http://localhost:8080/v1/classifier/sankey \
//	  -H "Content-Type: application/json" \
//	  -d '{"dataset_id": "sweep", "structure": {...}}'
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
