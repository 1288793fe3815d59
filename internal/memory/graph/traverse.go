// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sort"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

const (
	// DefaultMaxPathDepth bounds findPaths' BFS.
	DefaultMaxPathDepth = 3
	// DefaultSubgraphRadius bounds extractSubgraph's BFS.
	DefaultSubgraphRadius = 2
)

// Neighbor pairs a neighboring entity with the relation that reached
// it and the direction it was traversed in.
type Neighbor struct {
	Entity   *types.GraphEntity
	Relation *types.GraphRelation
	Direction types.NeighborDirection
}

// Neighbors returns entityID's neighbors in the given direction:
// direction is one of {out, in, both}.
func (g *Index) Neighbors(entityID string, direction types.NeighborDirection) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Neighbor
	if direction == types.DirOut || direction == types.DirBoth {
		for _, relID := range g.outgoing[entityID] {
			rel, ok := g.relations[relID]
			if !ok {
				continue
			}
			if e, ok := g.entities[rel.TargetID]; ok {
				out = append(out, Neighbor{Entity: e, Relation: rel, Direction: types.DirOut})
			}
		}
	}
	if direction == types.DirIn || direction == types.DirBoth {
		for _, relID := range g.incoming[entityID] {
			rel, ok := g.relations[relID]
			if !ok {
				continue
			}
			if e, ok := g.entities[rel.SourceID]; ok {
				out = append(out, Neighbor{Entity: e, Relation: rel, Direction: types.DirIn})
			}
		}
	}
	return out
}

// adjacent returns the (neighborEntityID, relationID) pairs reachable
// from entityID in direction, ignoring the direction each edge was
// traversed in (used internally by BFS, which treats "both" as
// undirected expansion).
func (g *Index) adjacent(entityID string, direction types.NeighborDirection) []struct {
	neighborID string
	relationID string
} {
	var out []struct {
		neighborID string
		relationID string
	}
	if direction == types.DirOut || direction == types.DirBoth {
		for _, relID := range g.outgoing[entityID] {
			if rel, ok := g.relations[relID]; ok {
				out = append(out, struct {
					neighborID string
					relationID string
				}{rel.TargetID, relID})
			}
		}
	}
	if direction == types.DirIn || direction == types.DirBoth {
		for _, relID := range g.incoming[entityID] {
			if rel, ok := g.relations[relID]; ok {
				out = append(out, struct {
					neighborID string
					relationID string
				}{rel.SourceID, relID})
			}
		}
	}
	return out
}

// FindPaths performs a cycle-avoiding BFS from sourceID to targetID
// bounded by maxDepth (default DefaultMaxPathDepth), scoring each
// discovered path by
// mean(entity.importance) * mean(relation.confidence) / (1 + length)
// and returning them sorted by descending score. Results are served
// from the path cache when a prior identical query ran since the last
// mutation.
func (g *Index) FindPaths(sourceID, targetID string, maxDepth int) []Path {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxPathDepth
	}

	g.mu.Lock()
	key := pathCacheKey(sourceID, targetID, maxDepth)
	if cached, ok := g.pathCache[key]; ok {
		g.mu.Unlock()
		return cached
	}
	g.mu.Unlock()

	g.mu.RLock()
	paths := g.bfsPaths(sourceID, targetID, maxDepth)
	g.mu.RUnlock()

	sort.Slice(paths, func(i, j int) bool { return paths[i].Score > paths[j].Score })

	g.mu.Lock()
	g.pathCache[key] = paths
	g.mu.Unlock()

	return paths
}

type bfsState struct {
	entityID   string
	entityIDs  []string
	relationIDs []string
	visited    map[string]struct{}
}

func (g *Index) bfsPaths(sourceID, targetID string, maxDepth int) []Path {
	if _, ok := g.entities[sourceID]; !ok {
		return nil
	}
	if _, ok := g.entities[targetID]; !ok {
		return nil
	}
	if sourceID == targetID {
		return nil
	}

	var results []Path
	start := bfsState{
		entityID:  sourceID,
		entityIDs: []string{sourceID},
		visited:   map[string]struct{}{sourceID: {}},
	}
	queue := []bfsState{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.entityIDs)-1 >= maxDepth {
			continue
		}

		for _, adj := range g.adjacent(cur.entityID, types.DirBoth) {
			if _, seen := cur.visited[adj.neighborID]; seen {
				continue
			}
			nextEntityIDs := append(append([]string{}, cur.entityIDs...), adj.neighborID)
			nextRelationIDs := append(append([]string{}, cur.relationIDs...), adj.relationID)
			nextVisited := make(map[string]struct{}, len(cur.visited)+1)
			for k := range cur.visited {
				nextVisited[k] = struct{}{}
			}
			nextVisited[adj.neighborID] = struct{}{}

			if adj.neighborID == targetID {
				results = append(results, g.scorePath(nextEntityIDs, nextRelationIDs))
				continue
			}

			queue = append(queue, bfsState{
				entityID:    adj.neighborID,
				entityIDs:   nextEntityIDs,
				relationIDs: nextRelationIDs,
				visited:     nextVisited,
			})
		}
	}
	return results
}

func (g *Index) scorePath(entityIDs, relationIDs []string) Path {
	var importanceSum, confidenceSum float64
	for _, id := range entityIDs {
		if e, ok := g.entities[id]; ok {
			importanceSum += e.Metadata.Importance
		}
	}
	for _, id := range relationIDs {
		if r, ok := g.relations[id]; ok {
			confidenceSum += r.Confidence
		}
	}
	meanImportance := importanceSum / float64(len(entityIDs))
	meanConfidence := confidenceSum / float64(max(1, len(relationIDs)))
	length := len(relationIDs)
	score := meanImportance * meanConfidence / (1 + float64(length))

	return Path{
		EntityIDs:   entityIDs,
		RelationIDs: relationIDs,
		Score:       score,
	}
}

// Subgraph is the result of an extractSubgraph call: every entity and
// relation within radius hops of the center entity.
type Subgraph struct {
	Entities  []*types.GraphEntity
	Relations []*types.GraphRelation
}

// ExtractSubgraph returns the subgraph within radius hops of centerID
// (default DefaultSubgraphRadius), discovered via undirected BFS.
func (g *Index) ExtractSubgraph(centerID string, radius int) Subgraph {
	if radius <= 0 {
		radius = DefaultSubgraphRadius
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.entities[centerID]; !ok {
		return Subgraph{}
	}

	visitedEntities := map[string]struct{}{centerID: {}}
	visitedRelations := map[string]struct{}{}

	frontier := []string{centerID}
	for depth := 0; depth < radius && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, adj := range g.adjacent(id, types.DirBoth) {
				visitedRelations[adj.relationID] = struct{}{}
				if _, seen := visitedEntities[adj.neighborID]; !seen {
					visitedEntities[adj.neighborID] = struct{}{}
					next = append(next, adj.neighborID)
				}
			}
		}
		frontier = next
	}

	out := Subgraph{}
	for id := range visitedEntities {
		if e, ok := g.entities[id]; ok {
			out.Entities = append(out.Entities, e)
		}
	}
	for id := range visitedRelations {
		if r, ok := g.relations[id]; ok {
			out.Relations = append(out.Relations, r)
		}
	}
	return out
}

// MergeEntities folds duplicate into canonical: canonical absorbs
// duplicate's aliases (plus duplicate's own name as a new alias), every
// relation referencing duplicate is repointed to canonical, and
// duplicate is deleted.
func (g *Index) MergeEntities(ctx context.Context, canonicalID, duplicateID string) error {
	g.mu.Lock()
	canonical, ok := g.entities[canonicalID]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	duplicate, ok := g.entities[duplicateID]
	if !ok {
		g.mu.Unlock()
		return nil
	}

	if canonical.Aliases == nil {
		canonical.Aliases = map[string]struct{}{}
	}
	canonical.Aliases[duplicate.Name] = struct{}{}
	for alias := range duplicate.Aliases {
		canonical.Aliases[alias] = struct{}{}
	}

	relIDs := append(append([]string{}, g.outgoing[duplicateID]...), g.incoming[duplicateID]...)
	g.mu.Unlock()

	for _, relID := range relIDs {
		g.mu.RLock()
		rel, ok := g.relations[relID]
		g.mu.RUnlock()
		if !ok {
			continue
		}
		updated := *rel
		if updated.SourceID == duplicateID {
			updated.SourceID = canonicalID
		}
		if updated.TargetID == duplicateID {
			updated.TargetID = canonicalID
		}
		if err := g.store.UpsertRelation(ctx, &updated); err != nil {
			return err
		}
		g.mu.Lock()
		g.indexRelation(&updated)
		g.outgoing[duplicateID] = removeID(g.outgoing[duplicateID], relID)
		g.incoming[duplicateID] = removeID(g.incoming[duplicateID], relID)
		g.mu.Unlock()
	}

	if err := g.UpsertEntity(ctx, canonical); err != nil {
		return err
	}
	return g.DeleteEntity(ctx, duplicateID)
}
