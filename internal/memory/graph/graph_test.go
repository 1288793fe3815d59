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
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "graph.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	idx, err := NewIndex(context.Background(), store, nil)
	require.NoError(t, err)
	return idx
}

func entity(userID, name string, typ types.EntityType, importance float64) *types.GraphEntity {
	return &types.GraphEntity{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       typ,
		Aliases:    map[string]struct{}{},
		Properties: map[string]string{},
		Confidence: 0.9,
		Metadata: types.EntityMetadata{
			UserID:     userID,
			Importance: importance,
		},
	}
}

func relation(sourceID, targetID string, typ types.RelationType, confidence float64) *types.GraphRelation {
	return &types.GraphRelation{
		ID:         uuid.NewString(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       typ,
		Properties: map[string]string{},
		Confidence: confidence,
		Source:     types.RelationSource{UserID: "u1"},
	}
}

func TestUpsertAndQueryEntities(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	e := entity("u1", "Alice", types.EntityPerson, 0.8)
	require.NoError(t, idx.UpsertEntity(ctx, e))

	found, ok := idx.FindEntityByName("u1", "alice")
	require.True(t, ok)
	assert.Equal(t, e.ID, found.ID)

	all := idx.QueryEntities("u1", "")
	assert.Len(t, all, 1)

	byType := idx.QueryEntities("u1", types.EntityPerson)
	assert.Len(t, byType, 1)

	byWrongType := idx.QueryEntities("u1", types.EntityLocation)
	assert.Empty(t, byWrongType)
}

func TestNeighborsBothDirections(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	alice := entity("u1", "Alice", types.EntityPerson, 0.8)
	acme := entity("u1", "Acme", types.EntityOrganization, 0.7)
	require.NoError(t, idx.UpsertEntity(ctx, alice))
	require.NoError(t, idx.UpsertEntity(ctx, acme))

	rel := relation(alice.ID, acme.ID, types.RelWorksAt, 0.9)
	require.NoError(t, idx.UpsertRelation(ctx, rel))

	out := idx.Neighbors(alice.ID, types.DirOut)
	require.Len(t, out, 1)
	assert.Equal(t, acme.ID, out[0].Entity.ID)

	in := idx.Neighbors(acme.ID, types.DirIn)
	require.Len(t, in, 1)
	assert.Equal(t, alice.ID, in[0].Entity.ID)

	assert.Empty(t, idx.Neighbors(acme.ID, types.DirOut))
}

func TestFindPathsScoresAndOrdersDescending(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	a := entity("u1", "A", types.EntityPerson, 0.9)
	b := entity("u1", "B", types.EntityPerson, 0.9)
	c := entity("u1", "C", types.EntityPerson, 0.9)
	for _, e := range []*types.GraphEntity{a, b, c} {
		require.NoError(t, idx.UpsertEntity(ctx, e))
	}

	require.NoError(t, idx.UpsertRelation(ctx, relation(a.ID, b.ID, types.RelKnows, 0.9)))
	require.NoError(t, idx.UpsertRelation(ctx, relation(b.ID, c.ID, types.RelKnows, 0.9)))
	require.NoError(t, idx.UpsertRelation(ctx, relation(a.ID, c.ID, types.RelKnows, 0.2)))

	paths := idx.FindPaths(a.ID, c.ID, DefaultMaxPathDepth)
	require.Len(t, paths, 2)
	assert.GreaterOrEqual(t, paths[0].Score, paths[1].Score)
}

func TestFindPathsRespectsMaxDepth(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	a := entity("u1", "A", types.EntityPerson, 0.5)
	b := entity("u1", "B", types.EntityPerson, 0.5)
	c := entity("u1", "C", types.EntityPerson, 0.5)
	d := entity("u1", "D", types.EntityPerson, 0.5)
	for _, e := range []*types.GraphEntity{a, b, c, d} {
		require.NoError(t, idx.UpsertEntity(ctx, e))
	}
	require.NoError(t, idx.UpsertRelation(ctx, relation(a.ID, b.ID, types.RelKnows, 0.9)))
	require.NoError(t, idx.UpsertRelation(ctx, relation(b.ID, c.ID, types.RelKnows, 0.9)))
	require.NoError(t, idx.UpsertRelation(ctx, relation(c.ID, d.ID, types.RelKnows, 0.9)))

	assert.Empty(t, idx.FindPaths(a.ID, d.ID, 2))
	assert.Len(t, idx.FindPaths(a.ID, d.ID, 3), 1)
}

func TestExtractSubgraphRadius(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	center := entity("u1", "Center", types.EntityPerson, 0.5)
	near := entity("u1", "Near", types.EntityPerson, 0.5)
	far := entity("u1", "Far", types.EntityPerson, 0.5)
	require.NoError(t, idx.UpsertEntity(ctx, center))
	require.NoError(t, idx.UpsertEntity(ctx, near))
	require.NoError(t, idx.UpsertEntity(ctx, far))

	require.NoError(t, idx.UpsertRelation(ctx, relation(center.ID, near.ID, types.RelKnows, 0.9)))
	require.NoError(t, idx.UpsertRelation(ctx, relation(near.ID, far.ID, types.RelKnows, 0.9)))

	sub1 := idx.ExtractSubgraph(center.ID, 1)
	ids1 := entityIDs(sub1)
	assert.Contains(t, ids1, center.ID)
	assert.Contains(t, ids1, near.ID)
	assert.NotContains(t, ids1, far.ID)

	sub2 := idx.ExtractSubgraph(center.ID, 2)
	ids2 := entityIDs(sub2)
	assert.Contains(t, ids2, far.ID)
}

func entityIDs(sub Subgraph) []string {
	out := make([]string, len(sub.Entities))
	for i, e := range sub.Entities {
		out[i] = e.ID
	}
	return out
}

func TestMergeEntitiesRepointsRelationsAndDeletesDuplicate(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	canonical := entity("u1", "Bob", types.EntityPerson, 0.8)
	duplicate := entity("u1", "Bobby", types.EntityPerson, 0.6)
	other := entity("u1", "Org", types.EntityOrganization, 0.5)
	require.NoError(t, idx.UpsertEntity(ctx, canonical))
	require.NoError(t, idx.UpsertEntity(ctx, duplicate))
	require.NoError(t, idx.UpsertEntity(ctx, other))

	require.NoError(t, idx.UpsertRelation(ctx, relation(duplicate.ID, other.ID, types.RelWorksAt, 0.9)))

	require.NoError(t, idx.MergeEntities(ctx, canonical.ID, duplicate.ID))

	_, ok := idx.Entity(duplicate.ID)
	assert.False(t, ok)

	neighbors := idx.Neighbors(canonical.ID, types.DirOut)
	require.Len(t, neighbors, 1)
	assert.Equal(t, other.ID, neighbors[0].Entity.ID)

	merged, ok := idx.Entity(canonical.ID)
	require.True(t, ok)
	_, hasAlias := merged.Aliases["Bobby"]
	assert.True(t, hasAlias)
}

func TestDeleteEntityCascadesRelations(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	a := entity("u1", "A", types.EntityPerson, 0.5)
	b := entity("u1", "B", types.EntityPerson, 0.5)
	require.NoError(t, idx.UpsertEntity(ctx, a))
	require.NoError(t, idx.UpsertEntity(ctx, b))
	rel := relation(a.ID, b.ID, types.RelKnows, 0.9)
	require.NoError(t, idx.UpsertRelation(ctx, rel))

	require.NoError(t, idx.DeleteEntity(ctx, a.ID))

	assert.Empty(t, idx.Neighbors(b.ID, types.DirIn))
}
