// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conflict implements the memory core's Conflict Resolver:
// five free-text detectors that flag contradictory or duplicate
// records, severity scoring, credibility-based resolution policies,
// and a cosine-similarity pre-filter bounding detection cost.
package conflict

import (
	"math"
	"sort"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// Type is the closed set of conflict classifications a detector can
// raise.
type Type string

const (
	// TypeFactualContradiction is raised by the semantic detector: high
	// embedding similarity but low surface-word agreement.
	TypeFactualContradiction Type = "factual_contradiction"
	// TypeFactual is raised by the copula-pattern fact detector.
	TypeFactual Type = "factual"
	// TypeTemporal is raised when both records carry differing date
	// tokens.
	TypeTemporal Type = "temporal"
	// TypeOutdated is a Temporal conflict where the gap between the two
	// records' timestamps exceeds OutdatedThresholdMillis. There is no
	// dedicated detector for it; it is treated as a Temporal sub-case.
	TypeOutdated Type = "outdated"
	// TypePreference is raised when both records carry opposite-polarity
	// preference keywords.
	TypePreference Type = "preference_change"
	// TypeDuplicate is raised when surface-word Jaccard similarity
	// exceeds DuplicateJaccardThreshold.
	TypeDuplicate Type = "duplicate"
	// TypeContextualMismatch is a reserved classification that none of
	// the five detectors raises; Resolve routes it, like any type without
	// a specific policy, to flag_for_review with no winner.
	TypeContextualMismatch Type = "contextual_mismatch"
)

// Severity is the closed set of conflict severities.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is the closed set of resolution actions.
type Action string

const (
	ActionMerge             Action = "merge"
	ActionReplace           Action = "replace"
	ActionArchive           Action = "archive"
	ActionFlagForReview     Action = "flag_for_review"
	ActionCreateAlternative Action = "create_alternative"
	ActionUpdateConfidence  Action = "update_confidence"
)

const (
	// SemanticSimilarityThreshold is detector 1's embedding-similarity
	// floor.
	SemanticSimilarityThreshold = 0.8
	// SemanticSurfaceCeiling is detector 1's surface-agreement ceiling.
	SemanticSurfaceCeiling = 0.6
	// FactualKeySimilarityThreshold is detector 2's fact-key similarity
	// floor.
	FactualKeySimilarityThreshold = 0.8
	// FactualValueSimilarityCeiling is detector 2's fact-value similarity
	// ceiling.
	FactualValueSimilarityCeiling = 0.3
	// DuplicateJaccardThreshold is detector 5's surface-similarity floor.
	DuplicateJaccardThreshold = 0.9
	// OutdatedThresholdMillis marks a Temporal conflict as Outdated once
	// the two records' timestamps diverge by more than 30 days.
	OutdatedThresholdMillis = 30 * 24 * 60 * 60 * 1000

	// DefaultPreFilterTopK bounds the candidate set compared against a
	// new record when embeddings are present.
	DefaultPreFilterTopK = 10
)

// Conflict is one detected contradiction or duplication between two
// records.
type Conflict struct {
	ID             string
	Type           Type
	Severity       Severity
	RecordA        *types.MemoryRecord
	RecordB        *types.MemoryRecord
	AutoResolvable bool
	Suggested      Action
}

// Detector runs the five conflict detectors against newRecord and a
// bounded candidate set.
type Detector struct {
	idGen func() string
}

// NewDetector builds a Detector. idGen mints conflict ids; if nil,
// every conflict gets an empty ID.
func NewDetector(idGen func() string) *Detector {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	return &Detector{idGen: idGen}
}

// Detect runs all five detectors for newRecord against candidates,
// applying the cosine-similarity pre-filter: when embeddings are
// present, candidates are narrowed to the top K by similarity first.
func (d *Detector) Detect(newRecord *types.MemoryRecord, candidates []*types.MemoryRecord) []Conflict {
	pool := d.preFilter(newRecord, candidates)

	var out []Conflict
	for _, existing := range pool {
		if existing.ID == newRecord.ID {
			continue
		}
		out = append(out, d.detectPair(newRecord, existing)...)
	}
	return out
}

// preFilter narrows candidates to the top DefaultPreFilterTopK by
// cosine similarity when both records carry embeddings; otherwise the
// full candidate set is returned unmodified.
func (d *Detector) preFilter(newRecord *types.MemoryRecord, candidates []*types.MemoryRecord) []*types.MemoryRecord {
	if len(newRecord.Embedding) == 0 || len(candidates) <= DefaultPreFilterTopK {
		return candidates
	}

	type scored struct {
		rec   *types.MemoryRecord
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		scoredList = append(scoredList, scored{rec: c, score: cosineSimilarity(newRecord.Embedding, c.Embedding)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })

	limit := DefaultPreFilterTopK
	if limit > len(scoredList) {
		limit = len(scoredList)
	}
	out := make([]*types.MemoryRecord, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, scoredList[i].rec)
	}
	return out
}

func (d *Detector) detectPair(a, b *types.MemoryRecord) []Conflict {
	var out []Conflict
	if c, ok := d.detectSemantic(a, b); ok {
		out = append(out, c)
	}
	if c, ok := d.detectFactual(a, b); ok {
		out = append(out, c)
	}
	if c, ok := d.detectTemporal(a, b); ok {
		out = append(out, c)
	}
	if c, ok := d.detectPreference(a, b); ok {
		out = append(out, c)
	}
	if c, ok := d.detectDuplicate(a, b); ok {
		out = append(out, c)
	}
	return out
}

func (d *Detector) newConflict(typ Type, a, b *types.MemoryRecord, semanticSim, contentSim float64) Conflict {
	severity := severityFromGap(semanticSim - contentSim)
	return Conflict{
		ID:             d.idGen(),
		Type:           typ,
		Severity:       severity,
		RecordA:        a,
		RecordB:        b,
		AutoResolvable: severity == SeverityLow || severity == SeverityMedium || severity == SeverityHigh,
		Suggested:      suggestedAction(typ, severity),
	}
}

// severityFromGap classifies semanticSimilarity − contentSimilarity
// into the closed severity set.
func severityFromGap(gap float64) Severity {
	switch {
	case gap >= 0.6:
		return SeverityCritical
	case gap >= 0.4:
		return SeverityHigh
	case gap >= 0.2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// suggestedAction maps a conflict's Type to its default resolution.
// ActionMerge and ActionCreateAlternative are part of the closed Action
// set but have no policy mapping of their own here; they are reserved
// for future detector types and unreachable from the five implemented
// above.
func suggestedAction(typ Type, severity Severity) Action {
	switch typ {
	case TypeFactualContradiction, TypeFactual:
		return ActionReplace
	case TypeTemporal, TypeOutdated:
		return ActionReplace
	case TypePreference:
		return ActionReplace
	case TypeDuplicate:
		return ActionArchive
	case TypeContextualMismatch:
		return ActionFlagForReview
	default:
		return ActionFlagForReview
	}
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
