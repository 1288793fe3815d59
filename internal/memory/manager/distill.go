// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/aleutian-labs/memcore/internal/memory/budget"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

const distillRetrieveLimit = 50

// distillTypeOrder is the priority order DistillMemoriesForContext
// selects within, highest priority first.
var distillTypeOrder = []types.MemoryType{
	types.Pinned, types.Profile, types.LongTerm, types.MidTerm, types.ShortTerm,
}

var bucketByType = map[types.MemoryType]budget.Bucket{
	types.Pinned:    budget.BucketPinned,
	types.Profile:   budget.BucketProfile,
	types.LongTerm:  budget.BucketLongTerm,
	types.MidTerm:   budget.BucketMidTerm,
	types.ShortTerm: budget.BucketShortTerm,
}

// DistillMemoriesForContext retrieves up to 50 candidates via Query,
// bucket them by type, allocate the token budget across buckets, select
// within each bucket's budget using the relevance strategy, and render
// a sectioned text block ordered pinned -> profile -> longTerm ->
// midTerm -> shortTerm.
func (m *Manager) DistillMemoriesForContext(ctx context.Context, userID, query string, totalBudget int) (string, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "manager.DistillMemoriesForContext")
	defer span.End()

	resp, err := m.Query(ctx, userID, query, QueryOptions{MaxResults: distillRetrieveLimit})
	if err != nil {
		return "", err
	}

	byType := make(map[types.MemoryType][]*types.MemoryRecord)
	for _, r := range resp.Results {
		byType[r.Record.Metadata.Type] = append(byType[r.Record.Metadata.Type], r.Record)
	}

	if totalBudget <= 0 {
		totalBudget = m.totalBudget
	}
	alloc := budget.AllocateBudget(totalBudget, nil)
	now := types.NowMillis()

	var sections []string
	for _, typ := range distillTypeOrder {
		records := byType[typ]
		if len(records) == 0 {
			continue
		}
		bucket, ok := bucketByType[typ]
		if !ok {
			continue
		}
		selected := budget.SelectMemoriesWithinBudget(records, alloc.Tokens[bucket], budget.StrategyRelevance, now)
		if len(selected) == 0 {
			continue
		}
		sections = append(sections, renderSection(typ, selected))
	}

	return strings.Join(sections, "\n\n"), nil
}

func renderSection(typ types.MemoryType, records []*types.MemoryRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", sectionTitle(typ))
	for _, r := range records {
		fmt.Fprintf(&b, "- %s\n", r.Content)
	}
	return b.String()
}

func sectionTitle(typ types.MemoryType) string {
	switch typ {
	case types.Pinned:
		return "Pinned"
	case types.Profile:
		return "Profile"
	case types.LongTerm:
		return "Long-term"
	case types.MidTerm:
		return "Mid-term"
	case types.ShortTerm:
		return "Short-term"
	default:
		return string(typ)
	}
}
