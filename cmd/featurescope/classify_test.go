package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/FeatureScope/services/classifier/engine"
)

const classifyTestStructure = `{
  "nodes": [
    {
      "id": "root",
      "stage": 0,
      "category": "score",
      "split_rule": {"type": "range", "metric": "score", "thresholds": [0.5]},
      "children_ids": ["score_low", "score_high"]
    },
    {"id": "score_low", "stage": 1, "category": "score"},
    {"id": "score_high", "stage": 1, "category": "score"}
  ]
}`

// writeTestFile writes content into a temp dir and returns the path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestClassifyFiles verifies one-shot classification of a rows file.
func TestClassifyFiles(t *testing.T) {
	rowsPath := writeTestFile(t, "rows.json", `[
		{"entity_id": "a", "score": 0.2},
		{"entity_id": "b", "score": 0.7},
		{"entity_id": "c", "score": 0.9}
	]`)
	structurePath := writeTestFile(t, "structure.json", classifyTestStructure)

	var out bytes.Buffer
	err := classifyFiles(context.Background(), rowsPath, structurePath, nil, false, &out)
	require.NoError(t, err)

	var view engine.SankeyView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, 3, view.Metadata.TotalFeatures)

	counts := make(map[string]int, len(view.Nodes))
	for _, node := range view.Nodes {
		counts[node.ID] = node.FeatureCount
	}
	assert.Equal(t, 1, counts["score_low"])
	assert.Equal(t, 2, counts["score_high"])
}

// TestClassifyFilesWrapperRows verifies the {"rows": [...]} file form.
func TestClassifyFilesWrapperRows(t *testing.T) {
	rowsPath := writeTestFile(t, "rows.json", `{"rows": [{"entity_id": "a", "score": 0.9}]}`)
	structurePath := writeTestFile(t, "structure.json", classifyTestStructure)

	var out bytes.Buffer
	err := classifyFiles(context.Background(), rowsPath, structurePath, nil, false, &out)
	require.NoError(t, err)

	var view engine.SankeyView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, 1, view.Metadata.TotalFeatures)
}

// TestClassifyFilesFilters verifies equality filters drop rows before
// classification.
func TestClassifyFilesFilters(t *testing.T) {
	rowsPath := writeTestFile(t, "rows.json", `[
		{"entity_id": "a", "score": 0.2, "scorer": "fuzz"},
		{"entity_id": "b", "score": 0.7, "scorer": "sim"}
	]`)
	structurePath := writeTestFile(t, "structure.json", classifyTestStructure)

	var out bytes.Buffer
	err := classifyFiles(context.Background(), rowsPath, structurePath, map[string]string{"scorer": "fuzz"}, false, &out)
	require.NoError(t, err)

	var view engine.SankeyView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, 1, view.Metadata.TotalFeatures)
	assert.Equal(t, map[string]string{"scorer": "fuzz"}, view.Metadata.AppliedFilters)
}

// TestClassifyFilesBadStructure verifies structure errors surface with
// the file path.
func TestClassifyFilesBadStructure(t *testing.T) {
	rowsPath := writeTestFile(t, "rows.json", `[{"entity_id": "a", "score": 0.2}]`)
	structurePath := writeTestFile(t, "structure.json", `{"nodes": []}`)

	var out bytes.Buffer
	err := classifyFiles(context.Background(), rowsPath, structurePath, nil, false, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), structurePath)
}

// TestParseFilters verifies field=value flag parsing.
func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{"scorer=fuzz", "explainer=e1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"scorer": "fuzz", "explainer": "e1"}, filters)

	filters, err = parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, filters)

	_, err = parseFilters([]string{"no-separator"})
	require.Error(t, err)

	_, err = parseFilters([]string{"=value"})
	require.Error(t, err)
}

// TestLoadRowsInvalid verifies malformed rows files are rejected.
func TestLoadRowsInvalid(t *testing.T) {
	path := writeTestFile(t, "rows.json", `{"not_rows": true}`)
	_, err := loadRows(path)
	require.Error(t, err)

	path = writeTestFile(t, "rows.json", `not json`)
	_, err = loadRows(path)
	require.Error(t, err)
}
