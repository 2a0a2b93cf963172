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
	"sort"

	"github.com/AleutianAI/FeatureScope/services/classifier/threshold"
)

// SankeyNode is one flow-diagram node with its distinct entity count.
// FeatureIDs is populated for leaf nodes only, to bound payload size;
// downstream views cross-link on it.
type SankeyNode struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Stage        int      `json:"stage"`
	FeatureCount int      `json:"feature_count"`
	Category     string   `json:"category,omitempty"`
	FeatureIDs   []string `json:"feature_ids,omitempty"`
}

// SankeyLink is one weighted edge between adjacent stages.
type SankeyLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Value  int    `json:"value"`
}

// Metadata describes the batch the view was aggregated from.
type Metadata struct {
	TotalFeatures     int                `json:"total_features"`
	AppliedFilters    map[string]string  `json:"applied_filters,omitempty"`
	AppliedThresholds map[string]float64 `json:"applied_thresholds"`
}

// SankeyView is the aggregated flow diagram for one batch. Immutable
// once returned from ClassifyBatch.
type SankeyView struct {
	Nodes    []SankeyNode `json:"nodes"`
	Links    []SankeyLink `json:"links"`
	Metadata Metadata     `json:"metadata"`
}

// aggregate reduces per-entity results into node and link tables with
// two passes over the classified batch.
//
// Pass one groups entities by their node at each stage (node counts,
// plus explicit member lists for leaves). Pass two counts entities per
// adjacent-stage node pair, suppressing pass-through edges: a source
// node's links are emitted only when its entities actually branched
// into more than one child value.
func aggregate(s *threshold.Structure, results []Result, filters map[string]string) *SankeyView {
	// Pass one: node counts and leaf membership.
	counts := make(map[string]int)
	leafMembers := make(map[string][]string)
	for i := range results {
		r := &results[i]
		for _, nodeID := range r.Path {
			counts[nodeID]++
		}
		if node, ok := s.NodeByID(r.FinalNodeID); ok && node.IsLeaf() {
			leafMembers[r.FinalNodeID] = append(leafMembers[r.FinalNodeID], r.EntityID)
		}
	}

	nodes := make([]SankeyNode, 0, len(s.Nodes()))
	for _, node := range s.Nodes() {
		sn := SankeyNode{
			ID:           node.ID,
			Name:         threshold.DisplayName(s, node),
			Stage:        node.Stage,
			FeatureCount: counts[node.ID],
			Category:     node.Category,
		}
		if node.IsLeaf() {
			members := leafMembers[node.ID]
			sort.Strings(members)
			sn.FeatureIDs = members
		}
		nodes = append(nodes, sn)
	}

	// Pass two: link counts over adjacent stage pairs.
	stages := presentStages(s)
	type pair struct{ source, target string }
	linkCounts := make(map[pair]int)
	branching := make(map[string]map[string]struct{})

	for i := range results {
		r := &results[i]
		for k := 0; k+1 < len(stages); k++ {
			source, ok := r.StageNodes[stages[k]]
			if !ok {
				continue
			}
			target, ok := r.StageNodes[stages[k+1]]
			if !ok {
				continue
			}
			linkCounts[pair{source, target}]++
			targets, ok := branching[source]
			if !ok {
				targets = make(map[string]struct{}, 2)
				branching[source] = targets
			}
			targets[target] = struct{}{}
		}
	}

	links := make([]SankeyLink, 0, len(linkCounts))
	for p, value := range linkCounts {
		// Suppress pass-through edges: no actual branching occurred at
		// this source, so the edge adds no information to the diagram.
		if len(branching[p.source]) <= 1 {
			continue
		}
		links = append(links, SankeyLink{Source: p.source, Target: p.target, Value: value})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Source != links[j].Source {
			return links[i].Source < links[j].Source
		}
		return links[i].Target < links[j].Target
	})

	return &SankeyView{
		Nodes: nodes,
		Links: links,
		Metadata: Metadata{
			TotalFeatures:     len(results),
			AppliedFilters:    filters,
			AppliedThresholds: s.AppliedThresholds(),
		},
	}
}

// presentStages returns the sorted distinct stage values of the
// structure's nodes.
func presentStages(s *threshold.Structure) []int {
	seen := make(map[int]struct{})
	var stages []int
	for _, node := range s.Nodes() {
		if _, ok := seen[node.Stage]; !ok {
			seen[node.Stage] = struct{}{}
			stages = append(stages, node.Stage)
		}
	}
	sort.Ints(stages)
	return stages
}
