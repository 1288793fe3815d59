// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

func rec(id, content string, timestamp int64, importance float64, embedding []float32) *types.MemoryRecord {
	return &types.MemoryRecord{
		ID:      id,
		Content: content,
		Metadata: types.MemoryMetadata{
			UserID:     "u1",
			Type:       types.ShortTerm,
			Timestamp:  timestamp,
			Importance: importance,
		},
		Embedding: embedding,
	}
}

func newTestDetector() *Detector {
	counter := 0
	return NewDetector(func() string {
		counter++
		return "conflict-id"
	})
}

func TestDetectDuplicateFlagsHighJaccard(t *testing.T) {
	d := newTestDetector()
	a := rec("a", "the quick brown fox jumps over the lazy dog by the river", 1000, 0.5, nil)
	b := rec("b", "the quick brown fox jumps over the lazy dog by the river today", 2000, 0.5, nil)

	conflicts := d.Detect(a, []*types.MemoryRecord{b})
	require.NotEmpty(t, conflicts)

	var found bool
	for _, c := range conflicts {
		if c.Type == TypeDuplicate {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectSemanticRequiresHighSimilarityLowSurface(t *testing.T) {
	d := newTestDetector()
	embA := []float32{1, 0, 0}
	embB := []float32{0.99, 0.01, 0}
	a := rec("a", "the weather is sunny today in paris", 1000, 0.5, embA)
	b := rec("b", "xyz abc def ghi jkl mno", 2000, 0.5, embB)

	conflicts := d.Detect(a, []*types.MemoryRecord{b})
	var found bool
	for _, c := range conflicts {
		if c.Type == TypeFactualContradiction {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectFactualContradiction(t *testing.T) {
	d := newTestDetector()
	a := rec("a", "北京是首都", 1000, 0.5, nil)
	b := rec("b", "北京是沙漠", 2000, 0.5, nil)

	conflicts := d.Detect(a, []*types.MemoryRecord{b})
	var found bool
	for _, c := range conflicts {
		if c.Type == TypeFactual {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDetectTemporalDiffersAndOutdated(t *testing.T) {
	d := newTestDetector()
	a := rec("a", "meeting is today", 1000, 0.5, nil)
	b := rec("b", "meeting is tomorrow", 1000+31*24*60*60*1000, 0.5, nil)

	conflicts := d.Detect(a, []*types.MemoryRecord{b})
	var found Type
	for _, c := range conflicts {
		if c.Type == TypeTemporal || c.Type == TypeOutdated {
			found = c.Type
		}
	}
	assert.Equal(t, TypeOutdated, found)
}

func TestDetectPreferenceOppositePolarity(t *testing.T) {
	d := newTestDetector()
	a := rec("a", "我喜欢咖啡", 1000, 0.5, nil)
	b := rec("b", "我讨厌咖啡", 2000, 0.5, nil)

	conflicts := d.Detect(a, []*types.MemoryRecord{b})
	var found bool
	for _, c := range conflicts {
		if c.Type == TypePreference {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPreFilterBoundsCandidatesByCosineSimilarity(t *testing.T) {
	d := newTestDetector()
	target := rec("target", "hello world", 1000, 0.5, []float32{1, 0})

	var candidates []*types.MemoryRecord
	for i := 0; i < 15; i++ {
		candidates = append(candidates, rec("c", "unrelated filler text here", int64(i), 0.1, []float32{0, 1}))
	}
	filtered := d.preFilter(target, candidates)
	assert.LessOrEqual(t, len(filtered), DefaultPreFilterTopK)
}

func TestCredibilityWeightsFreshnessAccessImportanceCompleteness(t *testing.T) {
	now := int64(1_000_000_000)
	fresh := rec("a", "x", now, 1.0, nil)
	fresh.Metadata.Category = "profile"
	fresh.Metadata.Tags = []string{"t"}
	fresh.AccessCount = 20

	stale := rec("b", "x", now-60*24*60*60*1000, 0.0, nil)

	assert.Greater(t, Credibility(fresh, now), Credibility(stale, now))
}

func TestResolveFactualPicksHigherCredibility(t *testing.T) {
	now := int64(1_000_000_000)
	winner := rec("winner", "x", now, 1.0, nil)
	loser := rec("loser", "x", now-60*24*60*60*1000, 0.0, nil)

	c := Conflict{Type: TypeFactual, RecordA: winner, RecordB: loser}
	res := Resolve(c, now)
	assert.Equal(t, ActionReplace, res.Action)
	assert.Equal(t, "winner", res.WinnerID)
	assert.Equal(t, "loser", res.LoserID)
}

func TestResolveTemporalPicksNewer(t *testing.T) {
	older := rec("older", "x", 1000, 0.5, nil)
	newer := rec("newer", "x", 2000, 0.5, nil)

	c := Conflict{Type: TypeTemporal, RecordA: older, RecordB: newer}
	res := Resolve(c, 3000)
	assert.Equal(t, "newer", res.WinnerID)
	assert.Equal(t, "older", res.LoserID)
}

func TestResolveContextualMismatchAlwaysFlagsForReview(t *testing.T) {
	c := Conflict{Type: TypeContextualMismatch, RecordA: rec("a", "x", 1, 0, nil), RecordB: rec("b", "y", 2, 0, nil)}
	res := Resolve(c, 100)
	assert.Equal(t, ActionFlagForReview, res.Action)
	assert.Empty(t, res.WinnerID)
}

func TestSeverityFromGapThresholds(t *testing.T) {
	assert.Equal(t, SeverityLow, severityFromGap(0.1))
	assert.Equal(t, SeverityMedium, severityFromGap(0.25))
	assert.Equal(t, SeverityHigh, severityFromGap(0.45))
	assert.Equal(t, SeverityCritical, severityFromGap(0.7))
}

func TestJaccardSimilarityEmptySets(t *testing.T) {
	assert.Equal(t, 1.0, jaccardSimilarity(map[string]struct{}{}, map[string]struct{}{}))
	assert.Equal(t, 0.0, jaccardSimilarity(map[string]struct{}{"a": {}}, map[string]struct{}{}))
}
