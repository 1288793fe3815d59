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
	"time"

	"github.com/aleutian-labs/memcore/internal/memory/conflict"
	"github.com/aleutian-labs/memcore/internal/memory/memerr"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

const beforeConflictResolutionCheckpoint = "before_conflict_resolution"

// UpdateMemory classifies input into one or more records, adds each to
// the vector store and BM25 index, optionally detects and auto-resolves
// conflicts with a rollback-on-failure chain, optionally extracts graph
// entities and relations, commits the transaction, and returns a
// summary.
func (m *Manager) UpdateMemory(ctx context.Context, userID, input string, opts UpdateOptions) (UpdateResult, error) {
	if err := m.validate.Struct(opts); err != nil {
		return UpdateResult{}, memerr.Wrap(memerr.InputValidationFailed, "manager.UpdateMemory", "validate options", err)
	}

	startedAt := time.Now()
	ctx, span := telemetry.Tracer.Start(ctx, "manager.UpdateMemory")
	defer span.End()

	result := UpdateResult{}

	// Step 1: classify input into one or more (content, type, importance) items.
	items := classifyInput(input)

	// Step 2: add each item to the vector store, index it for keyword
	// search, and record an `add` operation on the transaction log.
	var added []*types.MemoryRecord
	for _, item := range items {
		rec, err := m.vectors.Add(ctx, item.content, types.MemoryMetadata{
			UserID: userID,
			Type:   item.memType,
		}, &item.importance)
		if err != nil {
			result.Errors = append(result.Errors, errString(err))
			continue
		}
		if m.bm25 != nil {
			if err := m.bm25.Index(ctx, rec); err != nil {
				result.Errors = append(result.Errors, errString(err))
			}
		}
		m.log.RecordAdd(rec.ID, map[string]string{"type": string(rec.Metadata.Type)})
		added = append(added, rec)
		result.VectorsAdded++
	}

	// Step 3: optionally detect conflicts between each new record and
	// the user's existing records.
	var conflicts []conflict.Conflict
	if opts.DetectConflicts {
		candidates := m.vectors.GetByUser(userID)
		for _, rec := range added {
			conflicts = append(conflicts, m.detector.Detect(rec, candidates)...)
		}
		result.ConflictsDetected = len(conflicts)
		for _, c := range conflicts {
			telemetry.ConflictsDetectedTotal.WithLabelValues(string(c.Type)).Inc()
		}
	}

	// Step 4-5: optionally auto-resolve detected conflicts, checkpointing
	// first so a failed resolution can roll back to the pre-resolution
	// state rather than leave the store half-mutated.
	if opts.AutoResolve && len(conflicts) > 0 {
		m.log.CreateCheckpoint(beforeConflictResolutionCheckpoint)
		resolved, err := m.resolveConflicts(ctx, conflicts)
		result.ConflictsResolved = resolved
		if err != nil {
			result.Errors = append(result.Errors, errString(err))
			if rbErr := m.log.Rollback(ctx, beforeConflictResolutionCheckpoint); rbErr != nil {
				// Checkpointed rollback failed; fall back to a full
				// rollback of the entire transaction so far.
				if fullErr := m.log.Rollback(ctx, ""); fullErr != nil {
					// Both rollback attempts failed. Log at the highest
					// level available and continue without crashing the
					// caller's request.
					m.logger.Error("update memory: rollback chain exhausted, store may be inconsistent",
						"user_id", userID, "checkpoint_error", errString(rbErr), "full_rollback_error", errString(fullErr))
				}
			}
		}
	}

	// Step 6: optionally extract graph entities/relations from the new
	// content. Failures here are non-fatal to the overall update.
	if opts.ExtractGraph && m.graph != nil && m.entityExtractor != nil {
		summary := &GraphExtractionSummary{}
		for _, rec := range added {
			entities := m.entityExtractor.Extract(ctx, rec.Content, userID, rec.ID, rec.Metadata.Timestamp)
			for _, e := range entities {
				if err := m.graph.UpsertEntity(ctx, e); err != nil {
					result.Errors = append(result.Errors, errString(err))
					continue
				}
				summary.EntitiesExtracted++
			}
			if m.relationExtractor != nil && len(entities) > 0 {
				relations := m.relationExtractor.Extract(rec.Content, entities, userID, rec.ID, rec.Metadata.Timestamp)
				for _, r := range relations {
					if err := m.graph.UpsertRelation(ctx, r); err != nil {
						result.Errors = append(result.Errors, errString(err))
						continue
					}
					summary.RelationsExtracted++
				}
			}
		}
		result.GraphExtracted = summary
	}

	// Step 7: commit and return.
	m.log.Commit(userID, startedAt)
	result.Success = len(result.Errors) == 0
	return result, nil
}

// resolveConflicts applies conflict.Resolve's policy to each detected
// conflict, archiving or replacing the loser in the vector store and
// recording the resolution on the transaction log.
func (m *Manager) resolveConflicts(ctx context.Context, conflicts []conflict.Conflict) (int, error) {
	resolved := 0
	now := types.NowMillis()
	for _, c := range conflicts {
		if !c.AutoResolvable {
			continue
		}
		res := conflict.Resolve(c, now)
		if res.Action == conflict.ActionFlagForReview || res.LoserID == "" {
			continue
		}

		loser, ok := m.vectors.GetByID(res.LoserID)
		if !ok {
			continue
		}
		priorLoser := loser.Clone()

		if !m.vectors.Remove(res.LoserID) {
			continue
		}
		if m.bm25 != nil {
			_ = m.bm25.Remove(ctx, priorLoser.Metadata.UserID, res.LoserID)
		}
		m.log.RecordConflictResolution(res.LoserID, priorLoser, map[string]string{
			"conflict_type": string(c.Type),
			"action":        string(res.Action),
			"winner_id":     res.WinnerID,
		})
		resolved++
		telemetry.ConflictsResolvedTotal.WithLabelValues(string(res.Action)).Inc()
	}
	return resolved, nil
}
