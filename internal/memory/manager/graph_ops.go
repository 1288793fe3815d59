// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"fmt"

	"github.com/aleutian-labs/memcore/internal/memory/graph"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// errGraphDisabled is returned by every graph-delegate method when the
// Manager was constructed without a graph index.
var errGraphDisabled = fmt.Errorf("manager: knowledge graph is not configured")

// QueryEntities delegates to graph.Index.QueryEntities.
func (m *Manager) QueryEntities(ctx context.Context, userID string, entityType types.EntityType) ([]*types.GraphEntity, error) {
	_, span := telemetry.Tracer.Start(ctx, "manager.QueryEntities")
	defer span.End()
	if m.graph == nil {
		return nil, errGraphDisabled
	}
	return m.graph.QueryEntities(userID, entityType), nil
}

// QueryRelations delegates to graph.Index.QueryRelations.
func (m *Manager) QueryRelations(ctx context.Context, userID string, relationType types.RelationType) ([]*types.GraphRelation, error) {
	_, span := telemetry.Tracer.Start(ctx, "manager.QueryRelations")
	defer span.End()
	if m.graph == nil {
		return nil, errGraphDisabled
	}
	return m.graph.QueryRelations(userID, relationType), nil
}

// GetNeighbors delegates to graph.Index.Neighbors.
func (m *Manager) GetNeighbors(ctx context.Context, entityID string, direction types.NeighborDirection) ([]graph.Neighbor, error) {
	_, span := telemetry.Tracer.Start(ctx, "manager.GetNeighbors")
	defer span.End()
	if m.graph == nil {
		return nil, errGraphDisabled
	}
	return m.graph.Neighbors(entityID, direction), nil
}

// FindPaths delegates to graph.Index.FindPaths.
func (m *Manager) FindPaths(ctx context.Context, sourceID, targetID string, maxDepth int) ([]graph.Path, error) {
	_, span := telemetry.Tracer.Start(ctx, "manager.FindPaths")
	defer span.End()
	if m.graph == nil {
		return nil, errGraphDisabled
	}
	return m.graph.FindPaths(sourceID, targetID, maxDepth), nil
}

// ExtractSubgraph delegates to graph.Index.ExtractSubgraph.
func (m *Manager) ExtractSubgraph(ctx context.Context, centerID string, radius int) (graph.Subgraph, error) {
	_, span := telemetry.Tracer.Start(ctx, "manager.ExtractSubgraph")
	defer span.End()
	if m.graph == nil {
		return graph.Subgraph{}, errGraphDisabled
	}
	return m.graph.ExtractSubgraph(centerID, radius), nil
}

// MergeEntities delegates to graph.Index.MergeEntities.
func (m *Manager) MergeEntities(ctx context.Context, canonicalID, duplicateID string) error {
	ctx, span := telemetry.Tracer.Start(ctx, "manager.MergeEntities")
	defer span.End()
	if m.graph == nil {
		return errGraphDisabled
	}
	return m.graph.MergeEntities(ctx, canonicalID, duplicateID)
}
