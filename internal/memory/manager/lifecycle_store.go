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

	"github.com/aleutian-labs/memcore/internal/memory/bm25"
	"github.com/aleutian-labs/memcore/internal/memory/types"
	"github.com/aleutian-labs/memcore/internal/memory/vectorstore"
)

// lifecycleStore adapts *vectorstore.Store to lifecycle.RecordStore: the
// vector store keys records by user internally but doesn't expose a
// UserIDs/Retype surface directly, since nothing else needs it. It also
// keeps the BM25 index's `type` column in sync with a Retype, since the
// vector store and BM25 index are otherwise independent copies of the
// same record.
type lifecycleStore struct {
	vectors *vectorstore.Store
	bm25    *bm25.Index
}

func newLifecycleStore(v *vectorstore.Store, idx *bm25.Index) *lifecycleStore {
	return &lifecycleStore{vectors: v, bm25: idx}
}

func (s *lifecycleStore) UserIDs() []string {
	seen := make(map[string]struct{})
	for _, rec := range s.vectors.GetAll() {
		seen[rec.Metadata.UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func (s *lifecycleStore) RecordsByUser(userID string) []*types.MemoryRecord {
	return s.vectors.GetByUser(userID)
}

func (s *lifecycleStore) Delete(id string) bool {
	rec, found := s.vectors.GetByID(id)
	if !s.vectors.Remove(id) {
		return false
	}
	if s.bm25 != nil && found {
		_ = s.bm25.Remove(context.Background(), rec.Metadata.UserID, id)
	}
	return true
}

func (s *lifecycleStore) Retype(id string, newType types.MemoryType, newImportance float64) bool {
	if !s.vectors.Retype(id, newType, newImportance) {
		return false
	}
	if s.bm25 != nil {
		if rec, ok := s.vectors.GetByID(id); ok {
			_ = s.bm25.Index(context.Background(), rec)
		}
	}
	return true
}
