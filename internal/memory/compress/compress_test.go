// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compress

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

func newRecord(id, content string, timestamp int64, importance float64, accessCount int64, embedding []float32) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:      id,
		Content: content,
		Metadata: types.MemoryMetadata{
			UserID:     "u1",
			Type:       types.ShortTerm,
			Timestamp:  timestamp,
			Importance: importance,
		},
		AccessCount: accessCount,
		Embedding:   embedding,
	}
}

func TestTokenLimitTriggerFiresAboveThreshold(t *testing.T) {
	p := DefaultPolicy()
	p.TokenBudget = 10
	p.TokenThresholdPercent = 0.5

	records := []*types.MemoryRecord{newRecord("a", "a fairly long sentence of content here", 1000, 0.5, 0, nil)}
	fired, triggers := p.ShouldCompress(records, 2000, nil)
	require.True(t, fired)
	assert.Contains(t, triggers, TriggerTokenLimit)
}

func TestCountTriggerFiresAboveFraction(t *testing.T) {
	p := DefaultPolicy()
	p.CountLimit = 10
	p.TokenBudget = 1_000_000_000

	var records []*types.MemoryRecord
	for i := 0; i < 10; i++ {
		records = append(records, newRecord("r", "x", 1000, 0.1, 0, nil))
	}
	fired, triggers := p.ShouldCompress(records, 2000, nil)
	require.True(t, fired)
	assert.Contains(t, triggers, TriggerCount)
}

func TestAgeTriggerRequiresCountAndFraction(t *testing.T) {
	p := DefaultPolicy()
	p.TokenBudget = 1_000_000_000
	p.AgeRecordCountThreshold = 2
	p.AgeFractionThreshold = 0.1

	now := int64(1_000_000_000_000)
	oldTimestamp := now - int64(p.AgeDaysThreshold+1)*24*60*60*1000

	var records []*types.MemoryRecord
	for i := 0; i < 3; i++ {
		records = append(records, newRecord("old", "x", oldTimestamp, 0.1, 0, nil))
	}
	records = append(records, newRecord("fresh", "x", now, 0.1, 0, nil))

	fired, triggers := p.ShouldCompress(records, now, nil)
	require.True(t, fired)
	assert.Contains(t, triggers, TriggerAge)
}

func TestRedundancyTriggerFiresOnNearDuplicateEmbeddings(t *testing.T) {
	p := DefaultPolicy()
	p.TokenBudget = 1_000_000_000
	p.RedundancyPairSampleSize = 10

	var records []*types.MemoryRecord
	for i := 0; i < 5; i++ {
		records = append(records, newRecord("r", "x", 1000, 0.1, 0, []float32{1, 0.001 * float32(i), 0}))
	}
	fired, triggers := p.ShouldCompress(records, 2000, rand.New(rand.NewSource(42)))
	require.True(t, fired)
	assert.Contains(t, triggers, TriggerRedundancy)
}

func TestShouldCompressNoTriggersOnSmallFreshSet(t *testing.T) {
	p := DefaultPolicy()
	records := []*types.MemoryRecord{newRecord("a", "short", 1000, 0.5, 0, nil)}
	fired, triggers := p.ShouldCompress(records, 2000, nil)
	assert.False(t, fired)
	assert.Empty(t, triggers)
}

func idGenSeq() func() string {
	n := 0
	return func() string {
		n++
		return "new-id"
	}
}

func TestEngineMergesSimilarRecords(t *testing.T) {
	e := NewEngine(idGenSeq())
	group := []*types.MemoryRecord{
		newRecord("a", "alpha content", 1000, 0.3, 0, []float32{1, 0, 0}),
		newRecord("b", "beta content", 1000, 0.9, 0, []float32{0.999, 0.001, 0}),
	}
	rep := e.Run(group, 2000)
	require.Equal(t, 1, rep.Created)
	require.Equal(t, 2, rep.Deleted)
	assert.Equal(t, "alpha content | beta content", rep.Results[0].Created.Content)
	assert.Equal(t, 0.9, rep.Results[0].Created.Metadata.Importance)
}

func TestEngineSummarizesDenseTimeCluster(t *testing.T) {
	e := NewEngine(idGenSeq())
	var group []*types.MemoryRecord
	for i := 0; i < 5; i++ {
		group = append(group, newRecord("r", "event content", int64(i)*60*1000, 0.2, 0, nil))
	}
	rep := e.Run(group, 1_000_000)
	require.Equal(t, 1, rep.Created)
	assert.Equal(t, 5, rep.Deleted)
	assert.Equal(t, StrategySummarize, rep.Results[0].Strategy)
	assert.Equal(t, types.LongTerm, rep.Results[0].Created.Metadata.Type)
}

func TestEngineIgnoresOldLowValueRecords(t *testing.T) {
	e := NewEngine(idGenSeq())
	now := int64(1_000_000_000_000)
	oldTimestamp := now - 61*24*60*60*1000
	group := []*types.MemoryRecord{
		newRecord("stale", "forgettable", oldTimestamp, 0.1, 0, nil),
	}
	rep := e.Run(group, now)
	require.Equal(t, 0, rep.Created)
	require.Equal(t, 1, rep.Deleted)
	assert.Equal(t, StrategyIgnore, rep.Results[0].Strategy)
}

func TestEngineRunUpdateKeepsNewestDeletesRest(t *testing.T) {
	e := NewEngine(idGenSeq())
	group := []*types.MemoryRecord{
		newRecord("old", "x", 1000, 0.2, 0, nil),
		newRecord("newest", "x", 5000, 0.2, 0, nil),
		newRecord("mid", "x", 3000, 0.2, 0, nil),
	}
	result := e.RunUpdate(group)
	assert.ElementsMatch(t, []string{"old", "mid"}, result.Deleted)
}
