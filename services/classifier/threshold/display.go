// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package threshold

import (
	"fmt"
	"strings"
)

// DisplayName derives a human-readable label for a node from its
// parent's split rule and the node's branch index within it. Pure and
// stateless: it reads the structure only.
//
// Catch-all nodes (id "others" or ending in "others") always label as
// "Others", regardless of the parent rule.
func DisplayName(s *Structure, node *Node) string {
	if node.ID == "others" || strings.HasSuffix(node.ID, "others") {
		return "Others"
	}

	if len(node.ParentPath) == 0 {
		// The root has no parent rule to derive from.
		return humanize(node.ID)
	}

	last := node.ParentPath[len(node.ParentPath)-1]
	rule := last.Rule
	if rule == nil {
		return humanize(node.ID)
	}

	switch rule.Kind {
	case RuleKindRange:
		return rangeBranchName(rule.Range, last.BranchIndex)
	case RuleKindPattern:
		return patternBranchName(rule.Pattern, node, last.BranchIndex)
	case RuleKindExpression:
		return expressionBranchName(rule.Expression, node, last.BranchIndex)
	default:
		return humanize(node.ID)
	}
}

// rangeBranchName labels range buckets Low / Range k / High.
func rangeBranchName(rule *RangeRule, branch int) string {
	if rule == nil || len(rule.Thresholds) == 0 {
		return fmt.Sprintf("Range %d", branch)
	}
	switch {
	case branch <= 0:
		return "Low"
	case branch >= len(rule.Thresholds):
		return "High"
	default:
		return fmt.Sprintf("Range %d", branch)
	}
}

// stateWords is the vocabulary of legacy pattern-branch id tokens.
var stateWords = map[string]string{
	"high":  "High",
	"low":   "Low",
	"in":    "In",
	"out":   "Out",
	"range": "Range",
	"mid":   "Mid",
}

// patternBranchName labels pattern branches. Legacy structures encode
// the matched states directly into the node id ("high_low"), which is
// recognized token by token without regexes; otherwise the matching
// pattern entry's description is used, falling back to "Pattern k".
func patternBranchName(rule *PatternRule, node *Node, branch int) string {
	if name, ok := legacyStateName(node.ID); ok {
		return name
	}

	if rule != nil {
		for _, entry := range rule.Patterns {
			resolved, idx := matchChildID(entry.ChildID, []string{node.ID})
			if idx >= 0 && resolved == node.ID && entry.Description != "" {
				return entry.Description
			}
		}
	}
	return fmt.Sprintf("Pattern %d", branch)
}

// legacyStateName recognizes ids whose trailing '_'-delimited tokens
// are all state words and titles them ("x_high_low" -> "High Low").
func legacyStateName(id string) (string, bool) {
	tokens := strings.Split(id, "_")

	// Walk backward over the trailing state-word run.
	start := len(tokens)
	for start > 0 {
		if _, ok := stateWords[tokens[start-1]]; !ok {
			break
		}
		start--
	}
	if start == len(tokens) {
		return "", false
	}

	parts := make([]string, 0, len(tokens)-start)
	for _, tok := range tokens[start:] {
		parts = append(parts, stateWords[tok])
	}
	return strings.Join(parts, " "), true
}

// expressionBranchName prefers the branch's human-written description,
// stripping a redundant category prefix when present.
func expressionBranchName(rule *ExpressionRule, node *Node, branch int) string {
	if rule != nil {
		for i := range rule.Branches {
			entry := &rule.Branches[i]
			resolved, idx := matchChildID(entry.ChildID, []string{node.ID})
			if idx < 0 || resolved != node.ID {
				continue
			}
			if entry.Description != "" {
				return stripCategoryPrefix(entry.Description, node.Category)
			}
			return entry.Condition
		}
	}
	return fmt.Sprintf("Branch %d", branch)
}

// stripCategoryPrefix removes a leading "<Category>:" or "<Category> -"
// from a description that restates the node's category.
func stripCategoryPrefix(description, category string) string {
	if category == "" {
		return description
	}
	human := humanize(category)
	for _, sep := range []string{": ", " - ", ":"} {
		prefix := human + sep
		if len(description) > len(prefix) && strings.EqualFold(description[:len(prefix)], prefix) {
			return strings.TrimSpace(description[len(prefix):])
		}
	}
	return description
}

// humanize turns a snake_case id into a spaced, title-cased label.
func humanize(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
