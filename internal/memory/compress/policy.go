// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compress implements the memory core's compression policy and
// engine: four independent triggers decide whether a user's record set
// should be compressed, and four strategies (merge/summarize/ignore/
// update) execute the compaction once candidate groups are identified.
package compress

import (
	"math"
	"math/rand"

	"github.com/aleutian-labs/memcore/internal/memory/budget"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// Trigger names one of the four independent conditions Policy checks.
type Trigger string

const (
	TriggerTokenLimit Trigger = "token_limit"
	TriggerCount      Trigger = "count"
	TriggerAge        Trigger = "age"
	TriggerRedundancy Trigger = "redundancy"
)

// Policy holds the thresholds used as defaults, each independently
// overridable.
type Policy struct {
	TokenBudget              int
	TokenThresholdPercent    float64
	CountLimit               int
	CountThresholdFraction   float64
	AgeDaysThreshold         int
	AgeRecordCountThreshold  int
	AgeFractionThreshold     float64
	RedundancySampleSize     int
	RedundancyPairSampleSize int
	RedundancySimilarityCut  float64
	RedundancyThreshold      float64
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		TokenBudget:              budget.DefaultTotalBudget,
		TokenThresholdPercent:    0.8,
		CountLimit:               1000,
		CountThresholdFraction:   0.9,
		AgeDaysThreshold:         30,
		AgeRecordCountThreshold:  100,
		AgeFractionThreshold:     0.1,
		RedundancySampleSize:     200,
		RedundancyPairSampleSize: 100,
		RedundancySimilarityCut:  0.8,
		RedundancyThreshold:      0.3,
	}
}

// ShouldCompress evaluates all four triggers against records and
// returns whether any fired, plus which ones did. rnd drives the
// redundancy trigger's sampling; pass a seeded rand.Rand for
// deterministic tests.
func (p Policy) ShouldCompress(records []*types.MemoryRecord, nowMillis int64, rnd *rand.Rand) (bool, []Trigger) {
	var fired []Trigger

	if p.tokenLimitTriggered(records) {
		fired = append(fired, TriggerTokenLimit)
	}
	if p.countTriggered(records) {
		fired = append(fired, TriggerCount)
	}
	if p.ageTriggered(records, nowMillis) {
		fired = append(fired, TriggerAge)
	}
	if p.redundancyTriggered(records, rnd) {
		fired = append(fired, TriggerRedundancy)
	}

	return len(fired) > 0, fired
}

func (p Policy) tokenLimitTriggered(records []*types.MemoryRecord) bool {
	total := 0
	for _, r := range records {
		total += budget.EstimateTokens(r.Content)
	}
	return float64(total) > p.TokenThresholdPercent*float64(p.TokenBudget)
}

func (p Policy) countTriggered(records []*types.MemoryRecord) bool {
	return float64(len(records)) > p.CountThresholdFraction*float64(p.CountLimit)
}

func (p Policy) ageTriggered(records []*types.MemoryRecord, nowMillis int64) bool {
	if len(records) == 0 {
		return false
	}
	ageMillis := int64(p.AgeDaysThreshold) * 24 * 60 * 60 * 1000
	old := 0
	for _, r := range records {
		if nowMillis-r.Metadata.Timestamp > ageMillis {
			old++
		}
	}
	return old > p.AgeRecordCountThreshold && float64(old) > p.AgeFractionThreshold*float64(len(records))
}

func (p Policy) redundancyTriggered(records []*types.MemoryRecord, rnd *rand.Rand) bool {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	embedded := make([]*types.MemoryRecord, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) > 0 {
			embedded = append(embedded, r)
		}
	}
	if len(embedded) < 2 {
		return false
	}

	sample := sampleRecords(embedded, p.RedundancySampleSize, rnd)
	pairs := samplePairs(sample, p.RedundancyPairSampleSize, rnd)
	if len(pairs) == 0 {
		return false
	}

	var above []float64
	for _, pr := range pairs {
		sim := cosineSimilarity(pr[0].Embedding, pr[1].Embedding)
		if sim > p.RedundancySimilarityCut {
			above = append(above, sim)
		}
	}
	if len(above) == 0 {
		return false
	}

	fraction := float64(len(above)) / float64(len(pairs))
	mean := 0.0
	for _, s := range above {
		mean += s
	}
	mean /= float64(len(above))

	return fraction*mean > p.RedundancyThreshold
}

func sampleRecords(records []*types.MemoryRecord, n int, rnd *rand.Rand) []*types.MemoryRecord {
	if len(records) <= n {
		return records
	}
	shuffled := make([]*types.MemoryRecord, len(records))
	copy(shuffled, records)
	rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:n]
}

type recordPair [2]*types.MemoryRecord

func samplePairs(records []*types.MemoryRecord, n int, rnd *rand.Rand) []recordPair {
	if len(records) < 2 {
		return nil
	}
	maxPairs := len(records) * (len(records) - 1) / 2
	if n > maxPairs {
		n = maxPairs
	}

	var pairs []recordPair
	for len(pairs) < n {
		i := rnd.Intn(len(records))
		j := rnd.Intn(len(records))
		if i == j {
			continue
		}
		pairs = append(pairs, recordPair{records[i], records[j]})
	}
	return pairs
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
