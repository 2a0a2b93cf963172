// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that are used
// as storage keys, file names, or log fields. Using these validators prevents
// injection attacks (key-prefix collisions, path traversal, log forgery).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// datasetIDPattern matches valid dataset identifiers.
// Allows: lowercase letters, digits, underscores, dots, hyphens
// Max length: 64 characters
var datasetIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// metricNamePattern matches valid metric column names.
// Allows: letters, digits, underscores, dots for namespaced metrics
// Max length: 128 characters
var metricNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._]{0,127}$`)

// ValidateDatasetID validates a dataset identifier before it is used as a
// storage key component.
//
// Valid dataset IDs:
//   - 1-64 characters
//   - Lowercase letters a-z and digits 0-9
//   - Underscores (_), dots (.), and hyphens (-) after the first character
//
// Returns an error if the identifier is invalid.
//
// Example:
//
//	if err := validation.ValidateDatasetID(datasetID); err != nil {
//	    return nil, fmt.Errorf("invalid dataset: %w", err)
//	}
//	// Safe to use as a storage key prefix
func ValidateDatasetID(id string) error {
	if id == "" {
		return fmt.Errorf("dataset id cannot be empty")
	}

	if !datasetIDPattern.MatchString(id) {
		return fmt.Errorf("invalid dataset id: %q (must be 1-64 lowercase alphanumeric chars, underscores, dots, or hyphens)", id)
	}

	return nil
}

// ValidateMetricName validates a metric column name before it is used in
// rule expressions or log fields.
//
// Valid metric names:
//   - 1-128 characters
//   - Letters, digits, underscores
//   - Dots (.) for namespaced metrics like encoder.l2_norm
//   - Must not start with a digit or dot
func ValidateMetricName(name string) error {
	if name == "" {
		return fmt.Errorf("metric name cannot be empty")
	}

	if !metricNamePattern.MatchString(name) {
		return fmt.Errorf("invalid metric name: %q (must be 1-128 alphanumeric chars, underscores, or dots, not starting with a digit)", name)
	}

	return nil
}

// ValidateMetricNames validates multiple metric names.
// Returns an error listing all invalid names if any fail validation.
func ValidateMetricNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateMetricName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid metric names: %v", invalid)
	}
	return nil
}

// SanitizeDatasetID normalizes and validates a dataset identifier.
// Returns the lowercase identifier if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeID, err := validation.SanitizeDatasetID(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeID is lowercase and validated
func SanitizeDatasetID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if err := ValidateDatasetID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
