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
	"sort"
	"strings"

	"github.com/aleutian-labs/memcore/internal/memory/budget"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

const (
	mergeMinGroupSize       = 2
	mergeMaxGroupSize       = 5
	mergeSimilarityThreshold = 0.85

	summarizeMinGroupSize  = 5
	summarizeMaxGapMillis  = 60 * 60 * 1000
	summarizeHeaderRunes   = 80

	ignoreAgeDaysThreshold   = 60
	ignoreImportanceCeiling  = 0.3
	ignoreMaxAccessCount     = 1
)

// Strategy names one of the four compaction strategies the engine
// applies to a candidate group.
type Strategy string

const (
	StrategyMerge     Strategy = "merge"
	StrategySummarize Strategy = "summarize"
	StrategyIgnore    Strategy = "ignore"
	StrategyUpdate    Strategy = "update"
)

// Result is what one executed strategy returns: the ids deleted, the
// record created (if any), and the net tokens saved.
type Result struct {
	Strategy    Strategy
	Deleted     []string
	Created     *types.MemoryRecord
	TokensSaved int
}

// Report sums every executed strategy's Result for one compression
// pass.
type Report struct {
	Deleted     int
	Created     int
	TokensSaved int
	Results     []Result
}

func (rep *Report) add(r Result) {
	rep.Deleted += len(r.Deleted)
	if r.Created != nil {
		rep.Created++
	}
	rep.TokensSaved += r.TokensSaved
	rep.Results = append(rep.Results, r)
}

// Engine groups a user's records into merge/summarize/ignore
// candidates and executes each.
type Engine struct {
	idGen func() string
}

// NewEngine constructs an Engine; idGen mints ids for newly created
// records (tests can inject a deterministic generator).
func NewEngine(idGen func() string) *Engine {
	return &Engine{idGen: idGen}
}

func (e *Engine) newID() string {
	if e.idGen != nil {
		return e.idGen()
	}
	return ""
}

// Run finds merge, summarize, and ignore candidate groups among
// records and executes each, returning the combined Report. Update is
// not run here: it requires an explicit conflict pairing and is
// invoked directly via RunUpdate by the caller that detected it.
func (e *Engine) Run(records []*types.MemoryRecord, nowMillis int64) Report {
	var rep Report
	consumed := make(map[string]bool, len(records))

	for _, group := range e.findMergeGroups(records, consumed) {
		rep.add(e.merge(group))
	}
	remaining := unconsumed(records, consumed)

	for _, group := range e.findSummarizeGroups(remaining, consumed) {
		rep.add(e.summarize(group))
	}
	remaining = unconsumed(records, consumed)

	if group := e.findIgnoreGroup(remaining, nowMillis); len(group) > 0 {
		for _, r := range group {
			consumed[r.ID] = true
		}
		rep.add(e.ignore(group))
	}

	return rep
}

func unconsumed(records []*types.MemoryRecord, consumed map[string]bool) []*types.MemoryRecord {
	out := make([]*types.MemoryRecord, 0, len(records))
	for _, r := range records {
		if !consumed[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// findMergeGroups greedily clusters records whose pairwise mean cosine
// similarity stays above mergeSimilarityThreshold, capping each
// cluster at mergeMaxGroupSize and requiring at least
// mergeMinGroupSize members.
func (e *Engine) findMergeGroups(records []*types.MemoryRecord, consumed map[string]bool) [][]*types.MemoryRecord {
	var groups [][]*types.MemoryRecord
	used := make(map[string]bool, len(records))

	for i, seed := range records {
		if used[seed.ID] || len(seed.Embedding) == 0 {
			continue
		}
		cluster := []*types.MemoryRecord{seed}

		for j := i + 1; j < len(records) && len(cluster) < mergeMaxGroupSize; j++ {
			cand := records[j]
			if used[cand.ID] || len(cand.Embedding) == 0 {
				continue
			}
			if meanSimilarityToCluster(cluster, cand) > mergeSimilarityThreshold {
				cluster = append(cluster, cand)
			}
		}

		if len(cluster) >= mergeMinGroupSize {
			for _, r := range cluster {
				used[r.ID] = true
				consumed[r.ID] = true
			}
			groups = append(groups, cluster)
		}
	}
	return groups
}

func meanSimilarityToCluster(cluster []*types.MemoryRecord, cand *types.MemoryRecord) float64 {
	total := 0.0
	for _, m := range cluster {
		total += cosineSimilarity(m.Embedding, cand.Embedding)
	}
	return total / float64(len(cluster))
}

// findSummarizeGroups looks for runs of summarizeMinGroupSize or more
// records, sorted by timestamp, whose average consecutive gap is below
// summarizeMaxGapMillis.
func (e *Engine) findSummarizeGroups(records []*types.MemoryRecord, consumed map[string]bool) [][]*types.MemoryRecord {
	if len(records) < summarizeMinGroupSize {
		return nil
	}

	sorted := make([]*types.MemoryRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Metadata.Timestamp < sorted[j].Metadata.Timestamp })

	var groups [][]*types.MemoryRecord
	start := 0
	for start+summarizeMinGroupSize <= len(sorted) {
		end := len(sorted)
		found := false
		for end-start >= summarizeMinGroupSize {
			run := sorted[start:end]
			if averageGap(run) < summarizeMaxGapMillis {
				groups = append(groups, run)
				for _, r := range run {
					consumed[r.ID] = true
				}
				start = end
				found = true
				break
			}
			end--
		}
		if !found {
			start++
		}
	}
	return groups
}

func averageGap(run []*types.MemoryRecord) float64 {
	if len(run) < 2 {
		return 0
	}
	total := int64(0)
	for i := 1; i < len(run); i++ {
		total += run[i].Metadata.Timestamp - run[i-1].Metadata.Timestamp
	}
	return float64(total) / float64(len(run)-1)
}

// findIgnoreGroup collects records old, unimportant, and rarely
// accessed enough to delete outright.
func (e *Engine) findIgnoreGroup(records []*types.MemoryRecord, nowMillis int64) []*types.MemoryRecord {
	ageMillis := int64(ignoreAgeDaysThreshold) * 24 * 60 * 60 * 1000
	var group []*types.MemoryRecord
	for _, r := range records {
		if nowMillis-r.Metadata.Timestamp > ageMillis &&
			r.Metadata.Importance < ignoreImportanceCeiling &&
			r.AccessCount <= ignoreMaxAccessCount {
			group = append(group, r)
		}
	}
	return group
}

func (e *Engine) merge(group []*types.MemoryRecord) Result {
	ids := make([]string, len(group))
	contents := make([]string, len(group))
	maxImportance := 0.0
	tokensBefore := 0
	for i, r := range group {
		ids[i] = r.ID
		contents[i] = r.Content
		if r.Metadata.Importance > maxImportance {
			maxImportance = r.Metadata.Importance
		}
		tokensBefore += budget.EstimateTokens(r.Content)
	}

	merged := &types.MemoryRecord{
		ID:      e.newID(),
		Content: strings.Join(contents, " | "),
		Metadata: types.MemoryMetadata{
			UserID:     group[0].Metadata.UserID,
			Type:       group[0].Metadata.Type,
			Timestamp:  types.NowMillis(),
			Importance: maxImportance,
		},
	}

	tokensAfter := budget.EstimateTokens(merged.Content)
	return Result{Strategy: StrategyMerge, Deleted: ids, Created: merged, TokensSaved: tokensBefore - tokensAfter}
}

func (e *Engine) summarize(group []*types.MemoryRecord) Result {
	ids := make([]string, len(group))
	tokensBefore := 0
	var builder strings.Builder
	header := truncate(group[0].Content, summarizeHeaderRunes)
	builder.WriteString(header)

	for i, r := range group {
		ids[i] = r.ID
		tokensBefore += budget.EstimateTokens(r.Content)
		builder.WriteString(" ")
		builder.WriteString(r.Content)
	}

	summary := &types.MemoryRecord{
		ID:      e.newID(),
		Content: builder.String(),
		Metadata: types.MemoryMetadata{
			UserID:     group[0].Metadata.UserID,
			Type:       types.LongTerm,
			Timestamp:  types.NowMillis(),
			Importance: maxImportanceOf(group),
		},
	}

	tokensAfter := budget.EstimateTokens(summary.Content)
	return Result{Strategy: StrategySummarize, Deleted: ids, Created: summary, TokensSaved: tokensBefore - tokensAfter}
}

func maxImportanceOf(group []*types.MemoryRecord) float64 {
	max := 0.0
	for _, r := range group {
		if r.Metadata.Importance > max {
			max = r.Metadata.Importance
		}
	}
	return max
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

func (e *Engine) ignore(group []*types.MemoryRecord) Result {
	ids := make([]string, len(group))
	tokensSaved := 0
	for i, r := range group {
		ids[i] = r.ID
		tokensSaved += budget.EstimateTokens(r.Content)
	}
	return Result{Strategy: StrategyIgnore, Deleted: ids, TokensSaved: tokensSaved}
}

// RunUpdate applies the update strategy to an explicit set of records
// describing the same entity at different times: the newest survives,
// the rest are deleted.
func (e *Engine) RunUpdate(group []*types.MemoryRecord) Result {
	if len(group) == 0 {
		return Result{Strategy: StrategyUpdate}
	}
	newest := group[0]
	for _, r := range group[1:] {
		if r.Metadata.Timestamp > newest.Metadata.Timestamp {
			newest = r
		}
	}

	var ids []string
	tokensSaved := 0
	for _, r := range group {
		if r.ID == newest.ID {
			continue
		}
		ids = append(ids, r.ID)
		tokensSaved += budget.EstimateTokens(r.Content)
	}
	return Result{Strategy: StrategyUpdate, Deleted: ids, TokensSaved: tokensSaved}
}
