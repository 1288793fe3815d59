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

import "github.com/aleutian-labs/memcore/internal/memory/types"

// Resolution is the outcome of applying a conflict's policy: which
// record wins, which loses, and what the caller (the enhanced memory
// manager) should do to the loser.
type Resolution struct {
	Conflict Conflict
	Action   Action
	WinnerID string
	LoserID  string
}

// Resolve applies the resolution policy to c, deciding the winner/loser
// by the criterion each conflict Type specifies:
// Factual-family conflicts compare credibility; Temporal/Outdated/
// Preference conflicts compare recency ("newer wins"); Duplicate
// archives the lower-credibility record; Contextual mismatch (the
// fallback) names no winner and always resolves to flag_for_review.
func Resolve(c Conflict, nowMillis int64) Resolution {
	switch c.Type {
	case TypeFactualContradiction, TypeFactual:
		winner, loser := byCredibility(c.RecordA, c.RecordB, nowMillis)
		return Resolution{Conflict: c, Action: ActionReplace, WinnerID: winner.ID, LoserID: loser.ID}

	case TypeTemporal, TypeOutdated, TypePreference:
		winner, loser := byRecency(c.RecordA, c.RecordB)
		return Resolution{Conflict: c, Action: ActionReplace, WinnerID: winner.ID, LoserID: loser.ID}

	case TypeDuplicate:
		winner, loser := byCredibility(c.RecordA, c.RecordB, nowMillis)
		return Resolution{Conflict: c, Action: ActionArchive, WinnerID: winner.ID, LoserID: loser.ID}

	default:
		return Resolution{Conflict: c, Action: ActionFlagForReview}
	}
}

func byCredibility(a, b *types.MemoryRecord, nowMillis int64) (winner, loser *types.MemoryRecord) {
	if Credibility(a, nowMillis) >= Credibility(b, nowMillis) {
		return a, b
	}
	return b, a
}

func byRecency(a, b *types.MemoryRecord) (winner, loser *types.MemoryRecord) {
	if a.Metadata.Timestamp >= b.Metadata.Timestamp {
		return a, b
	}
	return b, a
}
