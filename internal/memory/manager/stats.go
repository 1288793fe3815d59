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

	"github.com/aleutian-labs/memcore/internal/memory/budget"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// MemoryStats summarizes a user's memory store for GetMemoryStats.
type MemoryStats struct {
	Total       int
	ByType      map[types.MemoryType]int
	TotalTokens int
}

// GetMemoryStats reports per-type counts and an estimated total token
// footprint for userID's records.
func (m *Manager) GetMemoryStats(ctx context.Context, userID string) MemoryStats {
	_, span := telemetry.Tracer.Start(ctx, "manager.GetMemoryStats")
	defer span.End()

	records := m.vectors.GetByUser(userID)
	stats := MemoryStats{Total: len(records), ByType: make(map[types.MemoryType]int)}
	for _, r := range records {
		stats.ByType[r.Metadata.Type]++
		stats.TotalTokens += estimateTokensOf(r)
	}
	return stats
}

func estimateTokensOf(r *types.MemoryRecord) int {
	return budget.EstimateTokens(r.Content)
}
