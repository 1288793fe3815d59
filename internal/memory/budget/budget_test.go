// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

func TestEstimateTokensWeightsCJKWordsAndOtherChars(t *testing.T) {
	assert.Equal(t, 1, EstimateTokens(""))
	assert.Equal(t, 3, EstimateTokens("你好")) // 2 CJK chars * 1.5 = 3
	assert.Equal(t, 2, EstimateTokens("hello")) // 1 word * 1.3 -> ceil 2
	assert.Equal(t, 1, EstimateTokens("!"))     // 1 other char * 0.5 -> ceil 1
}

func TestAllocateBudgetDefaultRatiosSumToOne(t *testing.T) {
	a := AllocateBudget(0, nil)
	assert.Equal(t, DefaultTotalBudget, a.Total)

	sum := 0.0
	for _, r := range a.Ratios {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 0.0001)
	assert.Equal(t, int(0.30*DefaultTotalBudget), a.Tokens[BucketLongTerm])
}

func TestAllocateBudgetOverridesRenormalize(t *testing.T) {
	a := AllocateBudget(1000, map[Bucket]float64{BucketLongTerm: 0.60})

	sum := 0.0
	for _, r := range a.Ratios {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 0.0001)
	assert.Greater(t, a.Ratios[BucketLongTerm], a.Ratios[BucketShortTerm])
}

func newRecord(id string, importance float64, timestamp, accessCount int64, withEmbedding bool) *types.MemoryRecord {
	rec := &types.MemoryRecord{
		ID:      id,
		Content: "some representative memory content",
		Metadata: types.MemoryMetadata{
			UserID:     "u1",
			Type:       types.ShortTerm,
			Timestamp:  timestamp,
			Importance: importance,
		},
		AccessCount: accessCount,
	}
	if withEmbedding {
		rec.Embedding = []float32{1, 0, 0}
	}
	return rec
}

func TestSelectMemoriesWithinBudgetImportanceOrdering(t *testing.T) {
	records := []*types.MemoryRecord{
		newRecord("low", 0.1, 1000, 0, false),
		newRecord("high", 0.9, 1000, 0, false),
		newRecord("mid", 0.5, 1000, 0, false),
	}
	selected := SelectMemoriesWithinBudget(records, 1000, StrategyImportance, 2000)
	require.Len(t, selected, 3)
	assert.Equal(t, "high", selected[0].ID)
	assert.Equal(t, "mid", selected[1].ID)
	assert.Equal(t, "low", selected[2].ID)
}

func TestSelectMemoriesWithinBudgetStopsAtBudget(t *testing.T) {
	records := []*types.MemoryRecord{
		newRecord("a", 0.9, 1000, 0, false),
		newRecord("b", 0.8, 1000, 0, false),
		newRecord("c", 0.7, 1000, 0, false),
	}
	tokensPerRecord := EstimateTokens(records[0].Content)
	selected := SelectMemoriesWithinBudget(records, tokensPerRecord, StrategyImportance, 2000)
	assert.Len(t, selected, 1)
}

func TestSelectMemoriesWithinBudgetRecencyOrdering(t *testing.T) {
	records := []*types.MemoryRecord{
		newRecord("older", 0.5, 1000, 0, false),
		newRecord("newer", 0.5, 5000, 0, false),
	}
	selected := SelectMemoriesWithinBudget(records, 1_000_000, StrategyRecency, 10000)
	require.Len(t, selected, 2)
	assert.Equal(t, "newer", selected[0].ID)
}

func TestSelectMemoriesWithinBudgetBalancedFavorsEmbeddingAndLength(t *testing.T) {
	now := int64(10_000)
	plain := newRecord("plain", 0.5, now, 0, false)
	plain.Content = "short"
	rich := newRecord("rich", 0.5, now, 0, true)
	rich.Content = "a substantially longer piece of representative memory content used for testing balanced scoring"

	selected := SelectMemoriesWithinBudget([]*types.MemoryRecord{plain, rich}, 1_000_000, StrategyBalanced, now)
	require.Len(t, selected, 2)
	assert.Equal(t, "rich", selected[0].ID)
}
