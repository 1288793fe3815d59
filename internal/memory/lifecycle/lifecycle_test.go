// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

const day = int64(24 * 60 * 60 * 1000)

func newRecord(id string, typ types.MemoryType, timestamp int64, importance float64, accessCount int64, lastAccessed int64) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:      id,
		Content: "content",
		Metadata: types.MemoryMetadata{
			UserID:     "u1",
			Type:       typ,
			Timestamp:  timestamp,
			Importance: importance,
		},
		AccessCount:  accessCount,
		LastAccessed: lastAccessed,
	}
}

func TestEvaluateDeletesOldLowImportanceShortTerm(t *testing.T) {
	now := int64(1_000_000_000_000)
	rec := newRecord("a", types.ShortTerm, now-31*day, 0.05, 0, 0)
	mut, changed := Evaluate(rec, now)
	require.True(t, changed)
	assert.Equal(t, DecisionDelete, mut.Decision)
}

func TestEvaluateUpgradesShortTermToMidTerm(t *testing.T) {
	now := int64(1_000_000_000_000)
	rec := newRecord("a", types.ShortTerm, now-10*day, 0.5, 200, now)
	mut, changed := Evaluate(rec, now)
	require.True(t, changed)
	assert.Equal(t, DecisionUpgrade, mut.Decision)
	assert.Equal(t, types.MidTerm, mut.NewType)
	assert.InDelta(t, 0.6, mut.NewImportance, 0.0001)
}

func TestEvaluateUpgradesShortTermAtLowAccessDensity(t *testing.T) {
	now := int64(1_000_000_000_000)
	rec := newRecord("a", types.ShortTerm, now-8*day, 0.4, 12, now)
	mut, changed := Evaluate(rec, now)
	require.True(t, changed)
	assert.Equal(t, DecisionUpgrade, mut.Decision)
	assert.Equal(t, types.MidTerm, mut.NewType)
	assert.InDelta(t, 0.5, mut.NewImportance, 0.0001)
}

func TestEvaluateDowngradesLongTermToMidTerm(t *testing.T) {
	now := int64(1_000_000_000_000)
	rec := newRecord("a", types.LongTerm, now-200*day, 0.2, 1, now-100*day)
	mut, changed := Evaluate(rec, now)
	require.True(t, changed)
	assert.Equal(t, DecisionDowngrade, mut.Decision)
	assert.Equal(t, types.MidTerm, mut.NewType)
	assert.InDelta(t, 0.1, mut.NewImportance, 0.0001)
}

func TestEvaluateKeepsHealthyRecord(t *testing.T) {
	now := int64(1_000_000_000_000)
	rec := newRecord("a", types.MidTerm, now-5*day, 0.5, 2, now-1*day)
	mut, changed := Evaluate(rec, now)
	assert.False(t, changed)
	assert.Equal(t, DecisionKeep, mut.Decision)
}

func TestEnforceHardCapDeletesLowestValueFirst(t *testing.T) {
	now := int64(1_000_000_000_000)
	var records []*types.MemoryRecord
	for i := 0; i < 5; i++ {
		records = append(records, newRecord("r", types.ShortTerm, now, float64(i)/10, int64(i), now))
	}
	ids, err := EnforceHardCap(records, 3, now)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestEnforceHardCapErrorsWhenProtectedAloneExceedsCap(t *testing.T) {
	now := int64(1_000_000_000_000)
	var records []*types.MemoryRecord
	for i := 0; i < 5; i++ {
		records = append(records, newRecord("p", types.Pinned, now, 1.0, 0, now))
	}
	_, err := EnforceHardCap(records, 3, now)
	assert.Error(t, err)
}

func TestEnforceHardCapNoOpUnderCap(t *testing.T) {
	now := int64(1_000_000_000_000)
	records := []*types.MemoryRecord{newRecord("a", types.ShortTerm, now, 0.5, 0, now)}
	ids, err := EnforceHardCap(records, 10, now)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// fakeStore is an in-memory RecordStore double.
type fakeStore struct {
	mu      sync.Mutex
	byUser  map[string][]*types.MemoryRecord
}

func newFakeStore(records map[string][]*types.MemoryRecord) *fakeStore {
	return &fakeStore{byUser: records}
}

func (f *fakeStore) UserIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.byUser))
	for id := range f.byUser {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeStore) RecordsByUser(userID string) []*types.MemoryRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.MemoryRecord, len(f.byUser[userID]))
	copy(out, f.byUser[userID])
	return out
}

func (f *fakeStore) Delete(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for userID, recs := range f.byUser {
		for i, r := range recs {
			if r.ID == id {
				f.byUser[userID] = append(recs[:i], recs[i+1:]...)
				return true
			}
		}
	}
	return false
}

func (f *fakeStore) Retype(id string, newType types.MemoryType, newImportance float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, recs := range f.byUser {
		for _, r := range recs {
			if r.ID == id {
				r.Metadata.Type = newType
				r.Metadata.Importance = newImportance
				return true
			}
		}
	}
	return false
}

func TestManagerEvaluateUserAppliesDecisions(t *testing.T) {
	now := int64(1_000_000_000_000)
	store := newFakeStore(map[string][]*types.MemoryRecord{
		"u1": {
			newRecord("delete-me", types.ShortTerm, now-31*day, 0.05, 0, 0),
			newRecord("keep-me", types.MidTerm, now-5*day, 0.5, 2, now-1*day),
		},
	})
	mgr := NewManager(store, nil)
	rep := mgr.EvaluateUser("u1", now)

	assert.Equal(t, 1, rep.Deleted)
	assert.Equal(t, 1, rep.Kept)
	remaining := store.RecordsByUser("u1")
	require.Len(t, remaining, 1)
	assert.Equal(t, "keep-me", remaining[0].ID)
}

func TestManagerStartStopDoesNotPanic(t *testing.T) {
	store := newFakeStore(map[string][]*types.MemoryRecord{})
	mgr := NewManager(store, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	mgr.Start(ctx, time.Millisecond)
	mgr.Stop()
}
