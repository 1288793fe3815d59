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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/bm25"
	"github.com/aleutian-labs/memcore/internal/memory/conflict"
	"github.com/aleutian-labs/memcore/internal/memory/embedding"
	"github.com/aleutian-labs/memcore/internal/memory/graph"
	"github.com/aleutian-labs/memcore/internal/memory/memconfig"
	"github.com/aleutian-labs/memcore/internal/memory/types"
	"github.com/aleutian-labs/memcore/internal/memory/vectorstore"
)

// memPersister is an in-memory vectorstore.Persister double so tests
// never touch disk.
type memPersister struct {
	mu    sync.Mutex
	state map[string]*types.MemoryRecord
}

func newMemPersister() *memPersister {
	return &memPersister{state: map[string]*types.MemoryRecord{}}
}

func (p *memPersister) Load() (map[string]*types.MemoryRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*types.MemoryRecord, len(p.state))
	for k, v := range p.state {
		out[k] = v
	}
	return out, nil
}

func (p *memPersister) Save(records map[string]*types.MemoryRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = records
	return nil
}

// newTestManager wires a Manager against real leaf components backed by
// an in-memory vectorstore persister and temp-dir SQLite files for BM25
// and the graph, with the deterministic embedding fallback (no network
// calls, no real provider) standing in for a remote embedder.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	embedder := embedding.New(memconfig.Default(), nil, nil)
	t.Cleanup(embedder.Close)

	store, err := vectorstore.New(ctx, embedder, newMemPersister(), nil)
	require.NoError(t, err)

	bmIndex, err := bm25.Open(filepath.Join(dir, "bm25.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { bmIndex.Close() })

	graphStore, err := graph.Open(filepath.Join(dir, "graph.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { graphStore.Close() })
	graphIdx, err := graph.NewIndex(ctx, graphStore, nil)
	require.NoError(t, err)

	return New(Dependencies{
		Vectors:     store,
		BM25:        bmIndex,
		Graph:       graphIdx,
		TotalBudget: 10000,
		IDGen:       uuid.NewString,
	})
}

func TestUpdateMemoryAddsClassifiedRecords(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	result, err := m.UpdateMemory(ctx, "u1", `My name is Alex. Remember that I love hiking. "always check the stove"`, UpdateOptions{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.VectorsAdded, 3)

	records := m.vectors.GetByUser("u1")
	assert.Len(t, records, result.VectorsAdded)

	var sawPinned, sawProfile bool
	for _, r := range records {
		switch r.Metadata.Type {
		case types.Pinned:
			sawPinned = true
		case types.Profile:
			sawProfile = true
		}
	}
	assert.True(t, sawPinned, "expected a pinned record from the quoted sentence")
	assert.True(t, sawProfile, "expected a profile record from the 'my name is' sentence")
}

func TestUpdateMemoryAcceptsWellFormedOptions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// MaxResults lives on QueryOptions, not UpdateOptions, so
	// UpdateOptions has no invalid-value case today; this documents that
	// validation is wired and passes through a well-formed value.
	result, err := m.UpdateMemory(ctx, "u1", "hello world", UpdateOptions{DetectConflicts: true})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestQueryRejectsOversizedMaxResults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Query(ctx, "u1", "anything", QueryOptions{MaxResults: 10000})
	assert.Error(t, err)
}

func TestQueryReturnsAddedRecord(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateMemory(ctx, "u1", "the quick brown fox jumps over the lazy dog", UpdateOptions{})
	require.NoError(t, err)

	resp, err := m.Query(ctx, "u1", "quick fox", QueryOptions{MaxResults: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Record.Content, "fox")
}

func TestUpdateMemoryDetectsAndResolvesDuplicateConflict(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateMemory(ctx, "u1", "the stove must always be turned off at night", UpdateOptions{})
	require.NoError(t, err)

	result, err := m.UpdateMemory(ctx, "u1", "the stove must always be turned off at night", UpdateOptions{
		DetectConflicts: true,
		AutoResolve:     true,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.ConflictsDetected, 1)
}

func TestDistillMemoriesForContextRendersSections(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateMemory(ctx, "u1", `My name is Sam.`, UpdateOptions{})
	require.NoError(t, err)

	text, err := m.DistillMemoriesForContext(ctx, "u1", "Sam", 2000)
	require.NoError(t, err)
	assert.Contains(t, text, "Profile")
}

func TestAutoCompressMemoriesNoOpOnSmallFreshSet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateMemory(ctx, "u1", "a single short note", UpdateOptions{})
	require.NoError(t, err)

	report, err := m.AutoCompressMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, len(report.Results))
}

func TestGetMemoryStatsCountsByType(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateMemory(ctx, "u1", "a plain short-term observation", UpdateOptions{})
	require.NoError(t, err)

	stats := m.GetMemoryStats(ctx, "u1")
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByType[types.ShortTerm])
}

func TestGraphOpsErrorWhenGraphDisabled(t *testing.T) {
	m := New(Dependencies{
		Vectors: newTestManager(t).vectors,
		IDGen:   uuid.NewString,
	})

	_, err := m.QueryEntities(context.Background(), "u1", "")
	assert.ErrorIs(t, err, errGraphDisabled)
}

func TestEvaluateMemoryLifecycleRunsWithoutError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.UpdateMemory(ctx, "u1", "an old forgettable note", UpdateOptions{})
	require.NoError(t, err)

	rep := m.EvaluateMemoryLifecycle(ctx, "u1")
	assert.GreaterOrEqual(t, rep.Kept+rep.Deleted+rep.Upgraded+rep.Downgraded, 1)
}

func TestRerankByTimeDecayFloorsAgedScoreInsteadOfZeroingIt(t *testing.T) {
	now := int64(1_000_000_000_000)
	veryOld := []QueryResult{{
		Record: &types.MemoryRecord{
			Metadata: types.MemoryMetadata{Type: types.ShortTerm, Timestamp: now - 365*24*int64(time.Hour/time.Millisecond)},
		},
		CombinedScore: 1.0,
	}}
	rerankByTimeDecay(veryOld, now)

	weight := types.MemoryTypeWeights[types.ShortTerm]
	assert.GreaterOrEqual(t, veryOld[0].CombinedScore, 0.7*weight-1e-6)
	assert.Less(t, veryOld[0].CombinedScore, weight)
}

func TestResolveConflictsSkipsNonAutoResolvableConflict(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	result, err := m.UpdateMemory(ctx, "u1", "the loser record", UpdateOptions{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.VectorsAdded, 1)
	records := m.vectors.GetByUser("u1")
	require.Len(t, records, 1)
	loser := records[0]

	critical := conflict.Conflict{
		ID:             "c1",
		Type:           conflict.TypeContextualMismatch,
		Severity:       conflict.SeverityCritical,
		RecordA:        loser,
		RecordB:        loser,
		AutoResolvable: false,
		Suggested:      conflict.ActionReplace,
	}

	resolved, err := m.resolveConflicts(ctx, []conflict.Conflict{critical})
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	_, stillPresent := m.vectors.GetByID(loser.ID)
	assert.True(t, stillPresent, "a non-auto-resolvable conflict must not remove its loser record")
}
