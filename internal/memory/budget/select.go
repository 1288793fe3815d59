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
	"math"
	"sort"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// Strategy names one of the four ranking strategies
// selectMemoriesWithinBudget accepts.
type Strategy string

const (
	StrategyImportance Strategy = "importance"
	StrategyRecency    Strategy = "recency"
	StrategyRelevance  Strategy = "relevance"
	StrategyBalanced   Strategy = "balanced"
)

// earlyStopUtilization halts selection once this fraction of budget is
// used, even if more records would still fit.
const earlyStopUtilization = 0.95

// SelectMemoriesWithinBudget sorts records by strategy and greedily
// adds them while tokensUsed+recordTokens <= budget, stopping early
// once earlyStopUtilization of budget is consumed. nowMillis anchors
// the recency/relevance decay calculations.
func SelectMemoriesWithinBudget(records []*types.MemoryRecord, budgetTokens int, strategy Strategy, nowMillis int64) []*types.MemoryRecord {
	ranked := make([]*types.MemoryRecord, len(records))
	copy(ranked, records)

	scorer := scoreFor(strategy, nowMillis)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scorer(ranked[i]) > scorer(ranked[j])
	})

	var out []*types.MemoryRecord
	tokensUsed := 0
	stopAt := int(float64(budgetTokens) * earlyStopUtilization)

	for _, rec := range ranked {
		if tokensUsed >= stopAt {
			break
		}
		cost := EstimateTokens(rec.Content)
		if tokensUsed+cost > budgetTokens {
			continue
		}
		out = append(out, rec)
		tokensUsed += cost
	}
	return out
}

func scoreFor(strategy Strategy, nowMillis int64) func(*types.MemoryRecord) float64 {
	switch strategy {
	case StrategyRecency:
		return func(r *types.MemoryRecord) float64 { return float64(r.Metadata.Timestamp) }
	case StrategyRelevance:
		return func(r *types.MemoryRecord) float64 { return relevanceScore(r, nowMillis) }
	case StrategyBalanced:
		return func(r *types.MemoryRecord) float64 { return balancedScore(r, nowMillis) }
	case StrategyImportance:
		fallthrough
	default:
		return func(r *types.MemoryRecord) float64 { return r.Metadata.Importance }
	}
}

func recencyFactor(timestampMillis, nowMillis int64) float64 {
	days := float64(nowMillis-timestampMillis) / (24 * 60 * 60 * 1000)
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / 30)
}

func frequencyFactor(accessCount int64) float64 {
	f := math.Log10(float64(accessCount)+1) / 2
	if f > 1 {
		f = 1
	}
	if f < 0 {
		f = 0
	}
	return f
}

// relevanceScore is `0.4*importance + 0.3*recency + 0.3*frequency`.
func relevanceScore(r *types.MemoryRecord, nowMillis int64) float64 {
	return 0.4*r.Metadata.Importance +
		0.3*recencyFactor(r.Metadata.Timestamp, nowMillis) +
		0.3*frequencyFactor(r.AccessCount)
}

// contentQuality approximates the balanced strategy's "quality" term:
// 0.5 if the record carries an embedding, plus a length-scaled
// component capped at 0.5, saturating around 500 characters of
// content.
func contentQuality(r *types.MemoryRecord) float64 {
	q := 0.0
	if len(r.Embedding) > 0 {
		q += 0.5
	}
	lengthScore := float64(len(r.Content)) / 500
	if lengthScore > 0.5 {
		lengthScore = 0.5
	}
	return q + lengthScore
}

// balancedScore is the balanced strategy: weights {0.35, 0.30, 0.20,
// 0.15} over {importance, recency, frequency, quality}.
func balancedScore(r *types.MemoryRecord, nowMillis int64) float64 {
	return 0.35*r.Metadata.Importance +
		0.30*recencyFactor(r.Metadata.Timestamp, nowMillis) +
		0.20*frequencyFactor(r.AccessCount) +
		0.15*contentQuality(r)
}
