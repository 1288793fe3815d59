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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// Index is the in-memory adjacency-list cache over the graph store:
// outgoing/incoming edge maps, a name index, a type index, and a path
// cache cleared on every mutation.
type Index struct {
	mu sync.RWMutex

	store  *Store
	logger *slog.Logger

	entities map[string]*types.GraphEntity
	outgoing map[string][]string // entityID -> relationIDs
	incoming map[string][]string // entityID -> relationIDs
	relations map[string]*types.GraphRelation

	byName map[string]map[string]string // userID -> lowercased name -> entityID
	byType map[string]map[types.EntityType]map[string]struct{} // userID -> type -> entityIDs

	pathCache map[string][]Path
}

// Path is one scored route through the graph between two entities.
type Path struct {
	EntityIDs   []string
	RelationIDs []string
	Score       float64
}

// NewIndex builds an Index backed by store, loading its current
// contents so it can answer traversal queries without a prior load.
func NewIndex(ctx context.Context, store *Store, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{
		store:     store,
		logger:    logger,
		entities:  make(map[string]*types.GraphEntity),
		outgoing:  make(map[string][]string),
		incoming:  make(map[string][]string),
		relations: make(map[string]*types.GraphRelation),
		byName:    make(map[string]map[string]string),
		byType:    make(map[string]map[types.EntityType]map[string]struct{}),
		pathCache: make(map[string][]Path),
	}

	entities, relations, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		idx.indexEntity(e)
	}
	for _, r := range relations {
		idx.indexRelation(r)
	}
	return idx, nil
}

func (g *Index) indexEntity(e *types.GraphEntity) {
	g.entities[e.ID] = e

	userNames, ok := g.byName[e.Metadata.UserID]
	if !ok {
		userNames = make(map[string]string)
		g.byName[e.Metadata.UserID] = userNames
	}
	userNames[strings.ToLower(e.Name)] = e.ID
	for alias := range e.Aliases {
		userNames[strings.ToLower(alias)] = e.ID
	}

	userTypes, ok := g.byType[e.Metadata.UserID]
	if !ok {
		userTypes = make(map[types.EntityType]map[string]struct{})
		g.byType[e.Metadata.UserID] = userTypes
	}
	set, ok := userTypes[e.Type]
	if !ok {
		set = make(map[string]struct{})
		userTypes[e.Type] = set
	}
	set[e.ID] = struct{}{}
}

func (g *Index) indexRelation(r *types.GraphRelation) {
	g.relations[r.ID] = r
	g.outgoing[r.SourceID] = appendUnique(g.outgoing[r.SourceID], r.ID)
	g.incoming[r.TargetID] = appendUnique(g.incoming[r.TargetID], r.ID)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// UpsertEntity persists e and refreshes the in-memory index, clearing
// the path cache since it is invalidated on any mutation.
func (g *Index) UpsertEntity(ctx context.Context, e *types.GraphEntity) error {
	if err := g.store.UpsertEntity(ctx, e); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.indexEntity(e)
	g.pathCache = make(map[string][]Path)
	return nil
}

// UpsertRelation persists r and refreshes the in-memory index.
func (g *Index) UpsertRelation(ctx context.Context, r *types.GraphRelation) error {
	if err := g.store.UpsertRelation(ctx, r); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.indexRelation(r)
	g.pathCache = make(map[string][]Path)
	return nil
}

// DeleteEntity removes an entity (and its relations, cascaded by the
// store) from both the database and the in-memory index.
func (g *Index) DeleteEntity(ctx context.Context, id string) error {
	if err := g.store.DeleteEntity(ctx, id); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[id]
	if ok {
		delete(g.entities, id)
		if userNames, ok := g.byName[e.Metadata.UserID]; ok {
			delete(userNames, strings.ToLower(e.Name))
			for alias := range e.Aliases {
				delete(userNames, strings.ToLower(alias))
			}
		}
		if userTypes, ok := g.byType[e.Metadata.UserID]; ok {
			if set, ok := userTypes[e.Type]; ok {
				delete(set, id)
			}
		}
	}

	for _, relID := range append(append([]string{}, g.outgoing[id]...), g.incoming[id]...) {
		rel, ok := g.relations[relID]
		if !ok {
			continue
		}
		delete(g.relations, relID)
		g.outgoing[rel.SourceID] = removeID(g.outgoing[rel.SourceID], relID)
		g.incoming[rel.TargetID] = removeID(g.incoming[rel.TargetID], relID)
	}
	delete(g.outgoing, id)
	delete(g.incoming, id)

	g.pathCache = make(map[string][]Path)
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// FindEntityByName resolves a name to an entity id for userID, checking
// the exact (case-insensitive) name/alias index first.
func (g *Index) FindEntityByName(userID, name string) (*types.GraphEntity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names, ok := g.byName[userID]
	if !ok {
		return nil, false
	}
	id, ok := names[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	e, ok := g.entities[id]
	return e, ok
}

// QueryEntities returns every entity for userID, optionally narrowed by
// entityType.
func (g *Index) QueryEntities(userID string, entityType types.EntityType) []*types.GraphEntity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*types.GraphEntity
	if entityType != "" {
		if set, ok := g.byType[userID][entityType]; ok {
			for id := range set {
				out = append(out, g.entities[id])
			}
		}
		return out
	}
	for _, e := range g.entities {
		if e.Metadata.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// QueryRelations returns every relation for userID, optionally narrowed
// by relationType.
func (g *Index) QueryRelations(userID string, relationType types.RelationType) []*types.GraphRelation {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*types.GraphRelation
	for _, r := range g.relations {
		if r.Source.UserID != userID {
			continue
		}
		if relationType != "" && r.Type != relationType {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Entity returns the entity with id, if present.
func (g *Index) Entity(id string) (*types.GraphEntity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entities[id]
	return e, ok
}

func pathCacheKey(sourceID, targetID string, maxDepth int) string {
	return fmt.Sprintf("%s:%s:%d", sourceID, targetID, maxDepth)
}
