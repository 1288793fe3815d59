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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/bm25"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

func TestLifecycleStoreRetypePersistsAndReindexesBM25(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateMemory(ctx, "u1", "a record about to be retyped", UpdateOptions{})
	require.NoError(t, err)
	records := m.vectors.GetByUser("u1")
	require.Len(t, records, 1)
	id := records[0].ID

	store := newLifecycleStore(m.vectors, m.bm25)
	ok := store.Retype(id, types.LongTerm, 0.9)
	require.True(t, ok)

	rec, found := m.vectors.GetByID(id)
	require.True(t, found)
	assert.Equal(t, types.LongTerm, rec.Metadata.Type)
	assert.InDelta(t, 0.9, rec.Metadata.Importance, 0.0001)

	hits := m.bm25.Search(ctx, "retyped", bm25.SearchOptions{UserID: "u1", Type: types.LongTerm, Limit: 10})
	require.NotEmpty(t, hits, "bm25 index should reflect the new type after Retype")
	assert.Equal(t, id, hits[0].MemoryID)
}
