// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// candidateEntity is a not-yet-promoted entity match, either from a
// rule or from LLM augmentation.
type candidateEntity struct {
	name       string
	entityType types.EntityType
	confidence float64
	aliases    map[string]struct{}
	properties map[string]string
}

// EntityExtractor runs the registered entity pattern table against
// text, with optional LLM augmentation, and promotes survivors to
// GraphEntity values.
type EntityExtractor struct {
	rules               []compiledEntityRule
	confidenceThreshold float64
	llm                 LLMClient
	llmTimeout          time.Duration
	logger              *slog.Logger
}

// NewEntityExtractor builds an extractor from a compiled rule set. If
// llm is non-nil, Extract also runs LLM augmentation and merges its
// results with the rule-based matches.
func NewEntityExtractor(set *EntityRuleSet, rules []compiledEntityRule, llm LLMClient, llmTimeout time.Duration, logger *slog.Logger) *EntityExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	threshold := DefaultConfidenceThreshold
	if set != nil && set.ConfidenceThreshold > 0 {
		threshold = set.ConfidenceThreshold
	}
	if llmTimeout <= 0 {
		llmTimeout = 5 * time.Second
	}
	return &EntityExtractor{
		rules:               rules,
		confidenceThreshold: threshold,
		llm:                 llm,
		llmTimeout:          llmTimeout,
		logger:              logger,
	}
}

// Extract runs every rule against text, optionally augments with the
// configured LLM client, merges duplicates, filters by confidence, and
// promotes survivors to GraphEntity values attributed to memoryID and
// userID at timestamp.
func (x *EntityExtractor) Extract(ctx context.Context, text, userID, memoryID string, timestamp int64) []*types.GraphEntity {
	merged := map[string]*candidateEntity{}
	for _, rule := range x.rules {
		for _, cand := range matchEntityRule(rule, text) {
			mergeEntityCandidate(merged, cand, false)
		}
	}

	if x.llm != nil {
		augmented, err := augmentEntitiesWithLLM(ctx, x.llm, text, x.llmTimeout)
		if err != nil {
			x.logger.Warn("extract: llm entity augmentation failed, continuing with rule matches only",
				slog.String("error", err.Error()))
		}
		for _, cand := range augmented {
			mergeEntityCandidate(merged, cand, true)
		}
	}

	out := make([]*types.GraphEntity, 0, len(merged))
	for _, cand := range merged {
		if cand.confidence < x.confidenceThreshold {
			continue
		}
		out = append(out, promoteEntity(cand, userID, memoryID, timestamp))
	}
	return out
}

func matchEntityRule(rule compiledEntityRule, text string) []candidateEntity {
	var out []candidateEntity
	for _, match := range rule.re.FindAllStringSubmatch(text, -1) {
		if rule.NameGroup >= len(match) {
			continue
		}
		name := strings.TrimRight(strings.TrimSpace(match[rule.NameGroup]), ". ")
		if name == "" {
			continue
		}
		if rule.NameSuffix != "" && !strings.HasSuffix(name, rule.NameSuffix) {
			name += rule.NameSuffix
		}

		props := map[string]string{}
		for key, val := range rule.Properties {
			props[key] = resolvePropertyValue(val, match)
		}

		out = append(out, candidateEntity{
			name:       name,
			entityType: rule.Type,
			confidence: rule.BaseConfidence,
			properties: props,
		})
	}
	return out
}

// resolvePropertyValue resolves a YAML property value of the form
// "$N" to capture group N's text; any other value is used literally.
func resolvePropertyValue(val string, match []string) string {
	if strings.HasPrefix(val, "$") {
		idx := 0
		for _, r := range val[1:] {
			if r < '0' || r > '9' {
				return val
			}
			idx = idx*10 + int(r-'0')
		}
		if idx < len(match) {
			return match[idx]
		}
	}
	return val
}

// dedupKey identifies a candidate by (type, lowercased name), the key
// the merge rule dedups on.
func dedupKey(entityType types.EntityType, name string) string {
	return string(entityType) + "|" + strings.ToLower(name)
}

// mergeEntityCandidate folds cand into merged. A new key is added at the
// candidate's own confidence. On an existing key, an LLM candidate
// (fromLLM) keeps the max of the two confidences, while a duplicate
// rule match averages them.
func mergeEntityCandidate(merged map[string]*candidateEntity, cand candidateEntity, fromLLM bool) {
	key := dedupKey(cand.entityType, cand.name)
	existing, ok := merged[key]
	if !ok {
		if cand.aliases == nil {
			cand.aliases = map[string]struct{}{}
		}
		if cand.properties == nil {
			cand.properties = map[string]string{}
		}
		c := cand
		merged[key] = &c
		return
	}

	if fromLLM {
		existing.confidence = max64(existing.confidence, cand.confidence)
	} else {
		existing.confidence = (existing.confidence + cand.confidence) / 2
	}
	if existing.aliases == nil {
		existing.aliases = map[string]struct{}{}
	}
	if existing.name != cand.name {
		existing.aliases[cand.name] = struct{}{}
	}
	for k, v := range cand.properties {
		if existing.properties == nil {
			existing.properties = map[string]string{}
		}
		existing.properties[k] = v
	}
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// promoteEntity converts a surviving candidate into a GraphEntity, with
// importance derived from the static type→importance table scaled by
// confidence.
func promoteEntity(cand *candidateEntity, userID, memoryID string, timestamp int64) *types.GraphEntity {
	importance := types.EntityTypeImportance[cand.entityType] * cand.confidence

	return &types.GraphEntity{
		ID:         uuid.NewString(),
		Name:       cand.name,
		Type:       cand.entityType,
		Aliases:    cand.aliases,
		Properties: cand.properties,
		Confidence: cand.confidence,
		Source: types.EntitySource{
			MemoryID:  memoryID,
			Timestamp: timestamp,
		},
		Metadata: types.EntityMetadata{
			UserID:       userID,
			AccessCount:  0,
			LastAccessed: timestamp,
			Importance:   importance,
		},
	}
}
