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
	"regexp"
	"strings"
	"unicode"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// detectSemantic is detector 1: high embedding similarity paired with
// low surface-word agreement flags a factual_contradiction.
func (d *Detector) detectSemantic(a, b *types.MemoryRecord) (Conflict, bool) {
	if len(a.Embedding) == 0 || len(b.Embedding) == 0 {
		return Conflict{}, false
	}
	sim := cosineSimilarity(a.Embedding, b.Embedding)
	if sim < SemanticSimilarityThreshold {
		return Conflict{}, false
	}
	surface := jaccardSimilarity(contentWords(a.Content), contentWords(b.Content))
	if surface >= SemanticSurfaceCeiling {
		return Conflict{}, false
	}
	return d.newConflict(TypeFactualContradiction, a, b, sim, surface), true
}

// copulaPatterns match a fixed set of fact patterns: "X 是 Y",
// "X：Y", "X 为 Y".
var copulaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\p{Han}\w]{1,20})是([\p{Han}\w]{1,30})`),
	regexp.MustCompile(`([\p{Han}\w]{1,20})：([\p{Han}\w]{1,30})`),
	regexp.MustCompile(`([\p{Han}\w]{1,20})为([\p{Han}\w]{1,30})`),
}

// extractFacts pulls (key, value) pairs out of text via the copula
// pattern set.
func extractFacts(text string) map[string]string {
	facts := map[string]string{}
	for _, re := range copulaPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			key := strings.TrimSpace(m[1])
			val := strings.TrimSpace(m[2])
			if key == "" || val == "" {
				continue
			}
			facts[key] = val
		}
	}
	return facts
}

// detectFactual is detector 2: two facts are contradictory when their
// keys are similar (>0.8) but their values are not (<0.3).
func (d *Detector) detectFactual(a, b *types.MemoryRecord) (Conflict, bool) {
	factsA := extractFacts(a.Content)
	factsB := extractFacts(b.Content)
	if len(factsA) == 0 || len(factsB) == 0 {
		return Conflict{}, false
	}

	for keyA, valA := range factsA {
		for keyB, valB := range factsB {
			keySim := jaccardSimilarity(runeTokens(keyA), runeTokens(keyB))
			if keySim <= FactualKeySimilarityThreshold {
				continue
			}
			valSim := jaccardSimilarity(runeTokens(valA), runeTokens(valB))
			if valSim >= FactualValueSimilarityCeiling {
				continue
			}
			semanticSim := 0.0
			if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
				semanticSim = cosineSimilarity(a.Embedding, b.Embedding)
			}
			contentSim := jaccardSimilarity(contentWords(a.Content), contentWords(b.Content))
			return d.newConflict(TypeFactual, a, b, semanticSim, contentSim), true
		}
	}
	return Conflict{}, false
}

var temporalTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday|next week|last week|next month|last month|next year|last year)\b`),
	regexp.MustCompile(`(今天|明天|昨天|下周|上周|下个月|上个月|明年|去年)`),
}

// temporalToken returns the first date/relative-time token found in
// text, matched against a fixed pattern set.
func temporalToken(text string) (string, bool) {
	for _, re := range temporalTokenPatterns {
		if m := re.FindString(text); m != "" {
			return strings.ToLower(m), true
		}
	}
	return "", false
}

// detectTemporal is detector 3: both records carry a date/relative-time
// token but the tokens differ. Gaps beyond OutdatedThresholdMillis in
// the records' own timestamps are reclassified as Outdated.
func (d *Detector) detectTemporal(a, b *types.MemoryRecord) (Conflict, bool) {
	tokA, okA := temporalToken(a.Content)
	tokB, okB := temporalToken(b.Content)
	if !okA || !okB || tokA == tokB {
		return Conflict{}, false
	}

	semanticSim := 0.0
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		semanticSim = cosineSimilarity(a.Embedding, b.Embedding)
	}
	contentSim := jaccardSimilarity(contentWords(a.Content), contentWords(b.Content))

	typ := TypeTemporal
	gap := a.Metadata.Timestamp - b.Metadata.Timestamp
	if gap < 0 {
		gap = -gap
	}
	if gap > OutdatedThresholdMillis {
		typ = TypeOutdated
	}
	return d.newConflict(typ, a, b, semanticSim, contentSim), true
}

var (
	positivePreferenceKeywords = []string{"喜欢", "爱好"}
	negativePreferenceKeywords = []string{"讨厌", "不喜欢"}
)

func preferencePolarity(text string) (positive, negative bool) {
	for _, kw := range positivePreferenceKeywords {
		if strings.Contains(text, kw) {
			positive = true
		}
	}
	for _, kw := range negativePreferenceKeywords {
		if strings.Contains(text, kw) {
			negative = true
		}
	}
	return positive, negative
}

// detectPreference is detector 4: both records carry a preference
// keyword with opposite polarity.
func (d *Detector) detectPreference(a, b *types.MemoryRecord) (Conflict, bool) {
	posA, negA := preferencePolarity(a.Content)
	posB, negB := preferencePolarity(b.Content)
	if !(posA || negA) || !(posB || negB) {
		return Conflict{}, false
	}
	opposite := (posA && negB && !negA) || (negA && posB && !posA)
	if !opposite {
		return Conflict{}, false
	}

	semanticSim := 0.0
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		semanticSim = cosineSimilarity(a.Embedding, b.Embedding)
	}
	contentSim := jaccardSimilarity(contentWords(a.Content), contentWords(b.Content))
	return d.newConflict(TypePreference, a, b, semanticSim, contentSim), true
}

// detectDuplicate is detector 5: surface-word Jaccard similarity
// exceeds DuplicateJaccardThreshold.
func (d *Detector) detectDuplicate(a, b *types.MemoryRecord) (Conflict, bool) {
	sim := jaccardSimilarity(contentWords(a.Content), contentWords(b.Content))
	if sim <= DuplicateJaccardThreshold {
		return Conflict{}, false
	}
	semanticSim := sim
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		semanticSim = cosineSimilarity(a.Embedding, b.Embedding)
	}
	return d.newConflict(TypeDuplicate, a, b, semanticSim, sim), true
}

// contentWords tokenizes text into lowercased ASCII words plus
// individual CJK runes, the unit Jaccard similarity is computed over.
func contentWords(text string) map[string]struct{} {
	out := map[string]struct{}{}
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			out[strings.ToLower(word.String())] = struct{}{}
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out[string(r)] = struct{}{}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}

func runeTokens(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		out[string(unicode.ToLower(r))] = struct{}{}
	}
	return out
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
