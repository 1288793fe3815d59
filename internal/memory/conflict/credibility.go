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
	"math"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

const (
	freshnessHalfLifeMillis  = 7 * 24 * 60 * 60 * 1000
	accessFrequencySaturation = 10

	weightFreshness     = 0.3
	weightAccessFreq    = 0.2
	weightImportance    = 0.3
	weightCompleteness  = 0.2
)

// Credibility scores rec as a weighted sum of four evidence signals:
// temporal freshness (exponential decay, 7-day half-life), access
// frequency (saturated at 10), assigned importance, and contextual
// completeness (presence of category/tags).
func Credibility(rec *types.MemoryRecord, nowMillis int64) float64 {
	ageMillis := float64(nowMillis - rec.Metadata.Timestamp)
	if ageMillis < 0 {
		ageMillis = 0
	}
	freshness := math.Pow(0.5, ageMillis/freshnessHalfLifeMillis)

	accessFreq := float64(rec.AccessCount) / accessFrequencySaturation
	if accessFreq > 1 {
		accessFreq = 1
	}

	importance := rec.Metadata.Importance
	if importance > 1 {
		importance = 1
	} else if importance < 0 {
		importance = 0
	}

	completeness := 0.0
	if rec.Metadata.Category != "" {
		completeness += 0.5
	}
	if len(rec.Metadata.Tags) > 0 {
		completeness += 0.5
	}

	return weightFreshness*freshness +
		weightAccessFreq*accessFreq +
		weightImportance*importance +
		weightCompleteness*completeness
}
