// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package txlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// fakeStore is an in-memory RecordStore double.
type fakeStore struct {
	records map[string]*types.MemoryRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*types.MemoryRecord{}}
}

func (f *fakeStore) Restore(rec *types.MemoryRecord) error {
	f.records[rec.ID] = rec.Clone()
	return nil
}

func (f *fakeStore) Remove(id string) bool {
	_, ok := f.records[id]
	delete(f.records, id)
	return ok
}

func rec(id, content string) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:      id,
		Content: content,
		Metadata: types.MemoryMetadata{
			UserID: "u1",
			Type:   types.ShortTerm,
		},
	}
}

func TestRecordAddRollbackRemovesRecord(t *testing.T) {
	store := newFakeStore()
	store.records["a"] = rec("a", "hello")
	log := New(store, nil)

	log.RecordAdd("a", nil)
	require.Equal(t, 1, log.Len())

	err := log.Rollback(context.Background(), "")
	require.NoError(t, err)
	_, ok := store.records["a"]
	assert.False(t, ok)
	assert.Equal(t, 0, log.Len())
}

func TestRecordRemoveRollbackRestoresPriorRecord(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	prior := rec("a", "original content")

	log.RecordRemove("a", prior, nil)
	err := log.Rollback(context.Background(), "")
	require.NoError(t, err)

	restored, ok := store.records["a"]
	require.True(t, ok)
	assert.Equal(t, "original content", restored.Content)
}

func TestRecordUpdateRollbackReplacesWithPrior(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	prior := rec("a", "before")
	next := rec("a", "after")
	store.records["a"] = next.Clone()

	log.RecordUpdate("a", prior, next, nil)
	err := log.Rollback(context.Background(), "")
	require.NoError(t, err)

	restored, ok := store.records["a"]
	require.True(t, ok)
	assert.Equal(t, "before", restored.Content)
}

func TestRecordConflictResolutionRollbackRestoresLoser(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	resolved := rec("loser", "losing content")

	// The real call order removes the loser from the store first and
	// only then logs the op with its pre-resolution state.
	store.Remove("loser")
	log.RecordConflictResolution("loser", resolved, nil)

	err := log.Rollback(context.Background(), "")
	require.NoError(t, err)

	restored, ok := store.records["loser"]
	require.True(t, ok)
	assert.Equal(t, "losing content", restored.Content)
}

func TestCheckpointRollbackTrimsToOffset(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)

	log.RecordAdd("a", nil)
	log.CreateCheckpoint("cp1")
	log.RecordAdd("b", nil)
	log.RecordAdd("c", nil)
	require.Equal(t, 3, log.Len())

	err := log.Rollback(context.Background(), "cp1")
	require.NoError(t, err)
	assert.Equal(t, 1, log.Len())
}

func TestFullRollbackReplaysInReverseOrder(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	store.records["a"] = rec("a", "v1")

	log.RecordUpdate("a", rec("a", "v1"), rec("a", "v2"), nil)
	log.RecordUpdate("a", rec("a", "v2"), rec("a", "v3"), nil)

	err := log.Rollback(context.Background(), "")
	require.NoError(t, err)

	restored, ok := store.records["a"]
	require.True(t, ok)
	assert.Equal(t, "v1", restored.Content)
	assert.Equal(t, 0, log.Len())
}

func TestRollbackAggregatesErrorsButCompletesAllSteps(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)

	log.RecordRemove("a", nil, nil) // nil PriorState forces an inversion error
	log.RecordAdd("b", nil)

	err := log.Rollback(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, 0, log.Len())
}

func TestRollbackUnknownCheckpointErrors(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	log.RecordAdd("a", nil)

	err := log.Rollback(context.Background(), "does-not-exist")
	assert.Error(t, err)
	assert.Equal(t, 1, log.Len())
}

func TestCommitClearsOperationsAndCheckpoints(t *testing.T) {
	store := newFakeStore()
	log := New(store, nil)
	log.RecordAdd("a", nil)
	log.CreateCheckpoint("cp1")

	log.Commit("tx-1", time.Now())
	assert.Equal(t, 0, log.Len())

	err := log.Rollback(context.Background(), "cp1")
	assert.Error(t, err)
}
