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
	"strings"

	"github.com/google/uuid"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// RelationExtractor runs the registered relation pattern table against
// text, resolving each endpoint against the entities extracted from the
// same text.
type RelationExtractor struct {
	rules []compiledRelationRule
}

// NewRelationExtractor builds an extractor from a compiled rule set.
func NewRelationExtractor(rules []compiledRelationRule) *RelationExtractor {
	return &RelationExtractor{rules: rules}
}

// Extract runs every rule against text. A relation is discarded if
// either endpoint name cannot be resolved to one of entities; endpoint
// resolution tries exact name match, then alias match, then substring
// containment either direction. Results are deduplicated by
// (sourceName, type, targetName).
func (x *RelationExtractor) Extract(text string, entities []*types.GraphEntity, userID, memoryID string, timestamp int64) []*types.GraphRelation {
	seen := map[string]struct{}{}
	var out []*types.GraphRelation

	for _, rule := range x.rules {
		for _, match := range rule.re.FindAllStringSubmatch(text, -1) {
			if rule.SourceGroup >= len(match) || rule.TargetGroup >= len(match) {
				continue
			}
			sourceName := strings.TrimSpace(match[rule.SourceGroup])
			targetName := strings.TrimSpace(match[rule.TargetGroup])
			if sourceName == "" || targetName == "" || sourceName == targetName {
				continue
			}

			source := resolveEndpoint(entities, sourceName, rule.SourceType)
			if source == nil {
				continue
			}
			target := resolveEndpoint(entities, targetName, rule.TargetType)
			if target == nil {
				continue
			}

			key := dedupRelationKey(source.Name, rule.Type, target.Name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			props := map[string]string{}
			for k, v := range rule.Properties {
				props[k] = v
			}

			out = append(out, &types.GraphRelation{
				ID:         uuid.NewString(),
				SourceID:   source.ID,
				TargetID:   target.ID,
				Type:       rule.Type,
				Properties: props,
				Confidence: rule.BaseConfidence,
				Temporal: types.RelationTemporal{
					Timestamp: timestamp,
				},
				Source: types.RelationSource{
					MemoryID: memoryID,
					UserID:   userID,
				},
			})
		}
	}
	return out
}

// resolveEndpoint finds the entity matching name, optionally filtered
// by wantType, trying exact match, then alias match, then substring
// containment either direction.
func resolveEndpoint(entities []*types.GraphEntity, name string, wantType types.EntityType) *types.GraphEntity {
	lower := strings.ToLower(name)

	for _, e := range entities {
		if wantType != "" && e.Type != wantType {
			continue
		}
		if strings.ToLower(e.Name) == lower {
			return e
		}
	}
	for _, e := range entities {
		if wantType != "" && e.Type != wantType {
			continue
		}
		for alias := range e.Aliases {
			if strings.ToLower(alias) == lower {
				return e
			}
		}
	}
	for _, e := range entities {
		if wantType != "" && e.Type != wantType {
			continue
		}
		entityLower := strings.ToLower(e.Name)
		if strings.Contains(entityLower, lower) || strings.Contains(lower, entityLower) {
			return e
		}
	}
	return nil
}

func dedupRelationKey(sourceName string, relType types.RelationType, targetName string) string {
	return strings.ToLower(sourceName) + "|" + string(relType) + "|" + strings.ToLower(targetName)
}
