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
	"math/rand"

	"github.com/aleutian-labs/memcore/internal/memory/compress"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// AutoCompressMemories fetches a user's records, checks compress.Policy's
// four triggers, and invokes the compression engine if any fired.
func (m *Manager) AutoCompressMemories(ctx context.Context, userID string) (compress.Report, error) {
	_, span := telemetry.Tracer.Start(ctx, "manager.AutoCompressMemories")
	defer span.End()

	records := m.vectors.GetByUser(userID)
	now := types.NowMillis()

	fired, _ := m.policy.ShouldCompress(records, now, rand.New(rand.NewSource(now)))
	if !fired {
		return compress.Report{}, nil
	}

	report := m.engine.Run(records, now)
	m.applyCompressionReport(ctx, userID, report)
	return report, nil
}

// applyCompressionReport deletes consumed records and adds the engine's
// synthesized replacements to the vector store, recording each mutation
// on the transaction log.
func (m *Manager) applyCompressionReport(ctx context.Context, userID string, report compress.Report) {
	for _, result := range report.Results {
		for _, id := range result.Deleted {
			if rec, ok := m.vectors.GetByID(id); ok {
				prior := rec.Clone()
				if m.vectors.Remove(id) {
					m.log.RecordRemove(id, prior, map[string]string{"compression_strategy": string(result.Strategy)})
					if m.bm25 != nil {
						_ = m.bm25.Remove(ctx, prior.Metadata.UserID, id)
					}
				}
			}
		}
		if result.Created != nil {
			created, err := m.vectors.Add(ctx, result.Created.Content, types.MemoryMetadata{
				UserID: userID,
				Type:   result.Created.Metadata.Type,
			}, &result.Created.Metadata.Importance)
			if err == nil {
				m.log.RecordAdd(created.ID, map[string]string{"compression_strategy": string(result.Strategy)})
				if m.bm25 != nil {
					_ = m.bm25.Index(ctx, created)
				}
			}
		}
		telemetry.CompressionRunsTotal.WithLabelValues(string(result.Strategy)).Inc()
	}
}
