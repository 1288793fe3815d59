// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorstore implements the memory core's process-wide vector
// store: a keyed store of memory records with embeddings, persisted to
// two JSON files under atomic temp-file rename, with writes coalesced
// through a single-flight save queue.
package vectorstore

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-labs/memcore/internal/memory/embedding"
	"github.com/aleutian-labs/memcore/internal/memory/memerr"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// SearchFilter narrows a Search call: user-id match is mandatory,
// time range and type set are optional.
type SearchFilter struct {
	UserID   string
	Types    map[types.MemoryType]struct{}
	Since    *int64
	Until    *int64
	MinScore float64
	Limit    int
}

// ScoredRecord pairs a record with its cosine similarity to the query.
type ScoredRecord struct {
	Record     *types.MemoryRecord
	Similarity float64
}

// CleanupOptions configures cleanupExpired.
type CleanupOptions struct {
	MaxAge             time.Duration
	MaxVectorsPerUser  int
	MinImportance      float64
}

// CleanupResult reports what cleanupExpired did.
type CleanupResult struct {
	Removed int
	Kept    int
}

var (
	constructMu         sync.Mutex
	constructInitializing bool
)

// Store is a process-wide singleton: one constructor, guarded by an
// `initializing` re-entrancy flag that rejects concurrent construction.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*types.MemoryRecord
	byUser   map[string]map[string]struct{}
	dirty    bool
	saveMu   sync.Mutex
	saveCh   chan struct{} // non-nil while a save is in flight

	embedder *embedding.Service
	persist  Persister
	logger   *slog.Logger

	ready bool
}

// Persister abstracts the atomic two-file JSON write so tests can swap
// in an in-memory double without touching disk.
type Persister interface {
	Load() (records map[string]*types.MemoryRecord, err error)
	Save(records map[string]*types.MemoryRecord) error
}

// New constructs a Store, loading any existing persisted state. A
// second concurrent call while construction is in flight fails fast
// with STORE_NOT_READY rather than racing into a partial state.
func New(ctx context.Context, embedder *embedding.Service, persister Persister, logger *slog.Logger) (*Store, error) {
	constructMu.Lock()
	if constructInitializing {
		constructMu.Unlock()
		return nil, memerr.New(memerr.StoreNotReady, "vectorstore.New", "construction already in progress")
	}
	constructInitializing = true
	constructMu.Unlock()
	defer func() {
		constructMu.Lock()
		constructInitializing = false
		constructMu.Unlock()
	}()

	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		records:  make(map[string]*types.MemoryRecord),
		byUser:   make(map[string]map[string]struct{}),
		embedder: embedder,
		persist:  persister,
		logger:   logger,
	}

	loaded, err := persister.Load()
	if err != nil {
		return nil, memerr.Wrap(memerr.PersistenceFailed, "vectorstore.New", "load existing state", err)
	}
	for id, rec := range loaded {
		s.records[id] = rec
		s.indexUser(rec)
		_ = id
	}

	s.ready = true
	return s, nil
}

func (s *Store) indexUser(rec *types.MemoryRecord) {
	set, ok := s.byUser[rec.Metadata.UserID]
	if !ok {
		set = make(map[string]struct{})
		s.byUser[rec.Metadata.UserID] = set
	}
	set[rec.ID] = struct{}{}
}

func (s *Store) checkReady(op string) error {
	if !s.ready {
		return memerr.New(memerr.StoreNotReady, op, "vector store not initialized")
	}
	return nil
}

// Add creates a record, computes its embedding, and marks the store
// dirty.
func (s *Store) Add(ctx context.Context, content string, meta types.MemoryMetadata, importance *float64) (*types.MemoryRecord, error) {
	if err := s.checkReady("vectorstore.Add"); err != nil {
		return nil, err
	}

	res, err := s.embedder.Embed(ctx, embedding.Input{Text: content}, false)
	if err != nil {
		return nil, memerr.Wrap(memerr.EmbeddingFailed, "vectorstore.Add", "embed content", err)
	}

	imp := meta.Importance
	if importance != nil {
		imp = *importance
	}
	imp = clamp01(imp)

	rec := &types.MemoryRecord{
		ID:        uuid.NewString(),
		Content:   content,
		Embedding: res.Embedding,
		Metadata: types.MemoryMetadata{
			UserID:     meta.UserID,
			Type:       meta.Type,
			Timestamp:  types.NowMillis(),
			Importance: imp,
			Category:   meta.Category,
			Tags:       meta.Tags,
		},
	}

	s.mu.Lock()
	s.records[rec.ID] = rec
	s.indexUser(rec)
	s.mu.Unlock()

	s.markDirty()
	return rec, nil
}

// Restore reinserts rec verbatim (same id, embedding, and access
// counters), bypassing embedding and id generation. The transaction
// log's rollback uses this to replay `remove -> add(priorRecord)` and
// `update -> replace with prior` inversions.
func (s *Store) Restore(rec *types.MemoryRecord) error {
	if err := s.checkReady("vectorstore.Restore"); err != nil {
		return err
	}
	cp := rec.Clone()

	s.mu.Lock()
	s.records[cp.ID] = cp
	s.indexUser(cp)
	s.mu.Unlock()

	s.markDirty()
	return nil
}

// Remove deletes a record and updates the per-user secondary index.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		delete(s.records, id)
		if set, ok := s.byUser[rec.Metadata.UserID]; ok {
			delete(set, id)
		}
	}
	s.mu.Unlock()

	if ok {
		s.markDirty()
	}
	return ok
}

// GetByID is a synchronous view.
func (s *Store) GetByID(id string) (*types.MemoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// GetByUser is a synchronous view.
func (s *Store) GetByUser(userID string) []*types.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make([]*types.MemoryRecord, 0, len(ids))
	for id := range ids {
		out = append(out, s.records[id])
	}
	return out
}

// GetAll is a synchronous view.
func (s *Store) GetAll() []*types.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.MemoryRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// MarkAccessed bumps AccessCount/LastAccessed on a successful retrieval
// hit.
func (s *Store) MarkAccessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		rec.AccessCount++
		rec.LastAccessed = types.NowMillis()
	}
}

// Retype rewrites a record's type and importance under the store lock
// and marks the store dirty so the change survives a restart. Lifecycle
// upgrade/downgrade decisions go through this rather than mutating a
// GetByID result directly.
func (s *Store) Retype(id string, newType types.MemoryType, newImportance float64) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		rec.Metadata.Type = newType
		rec.Metadata.Importance = newImportance
	}
	s.mu.Unlock()

	if ok {
		s.markDirty()
	}
	return ok
}

// Search returns candidates above filter.MinScore ordered by descending
// cosine similarity, applying the user-id/time-range/type filters
// before scoring.
func (s *Store) Search(ctx context.Context, query string, filter SearchFilter) ([]ScoredRecord, error) {
	if err := s.checkReady("vectorstore.Search"); err != nil {
		return nil, err
	}

	res, err := s.embedder.Embed(ctx, embedding.Input{Text: query}, false)
	if err != nil {
		return nil, memerr.Wrap(memerr.EmbeddingFailed, "vectorstore.Search", "embed query", err)
	}

	s.mu.RLock()
	candidates := s.byUser[filter.UserID]
	scored := make([]ScoredRecord, 0, len(candidates))
	for id := range candidates {
		rec := s.records[id]
		if !passesFilter(rec, filter) {
			continue
		}
		sim := cosineSimilarity(res.Embedding, rec.Embedding)
		if sim < filter.MinScore {
			continue
		}
		scored = append(scored, ScoredRecord{Record: rec, Similarity: sim})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if filter.Limit > 0 && len(scored) > filter.Limit {
		scored = scored[:filter.Limit]
	}
	return scored, nil
}

func passesFilter(rec *types.MemoryRecord, filter SearchFilter) bool {
	if filter.Types != nil {
		if _, ok := filter.Types[rec.Metadata.Type]; !ok {
			return false
		}
	}
	if filter.Since != nil && rec.Metadata.Timestamp < *filter.Since {
		return false
	}
	if filter.Until != nil && rec.Metadata.Timestamp > *filter.Until {
		return false
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CleanupExpired deletes candidates that are simultaneously too old AND
// below the importance floor, with an optional per-user retention cap.
func (s *Store) CleanupExpired(opts CleanupOptions) CleanupResult {
	now := types.NowMillis()
	maxAgeMillis := opts.MaxAge.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for userID, ids := range s.byUser {
		var survivors []*types.MemoryRecord
		for id := range ids {
			rec := s.records[id]
			if rec.Metadata.Type.Protected() {
				survivors = append(survivors, rec)
				continue
			}
			tooOld := maxAgeMillis > 0 && now-rec.Metadata.Timestamp > maxAgeMillis
			tooUnimportant := rec.Metadata.Importance < opts.MinImportance
			if tooOld && tooUnimportant {
				delete(s.records, id)
				removed++
				continue
			}
			survivors = append(survivors, rec)
		}

		if opts.MaxVectorsPerUser > 0 && len(survivors) > opts.MaxVectorsPerUser {
			sort.Slice(survivors, func(i, j int) bool {
				return survivors[i].Metadata.Importance > survivors[j].Metadata.Importance
			})
			for _, rec := range survivors[opts.MaxVectorsPerUser:] {
				if rec.Metadata.Type.Protected() {
					continue
				}
				delete(s.records, rec.ID)
				delete(ids, rec.ID)
				removed++
			}
			survivors = survivors[:opts.MaxVectorsPerUser]
		}

		newSet := make(map[string]struct{}, len(survivors))
		for _, rec := range survivors {
			newSet[rec.ID] = struct{}{}
		}
		s.byUser[userID] = newSet
	}

	if removed > 0 {
		go s.markDirty()
	}
	return CleanupResult{Removed: removed, Kept: len(s.records)}
}

// markDirty implements the single-flight save queue: any call sets the
// dirty flag and, when no save is in flight, starts runSave, which
// clears the flag before each write and restores it on failure so the
// next call retries.
// Concurrent callers that arrive while a save is already in flight
// share that in-flight write instead of double-saving.
func (s *Store) markDirty() {
	s.saveMu.Lock()
	s.dirty = true
	if s.saveCh != nil {
		// A save is already in flight; it will pick up this write
		// because it snapshots records after acquiring saveMu below.
		s.saveMu.Unlock()
		return
	}
	done := make(chan struct{})
	s.saveCh = done
	s.saveMu.Unlock()

	go s.runSave(done)
}

// runSave owns the in-flight save slot (s.saveCh) until it observes a
// clean write: it loops, re-snapshotting and re-saving, for as long as
// a concurrent markDirty call sets the dirty flag again while a save is
// underway. This is what makes the coalescing safe — a writer that
// arrives mid-save is guaranteed its data gets persisted by this same
// in-flight save loop rather than being silently dropped once the slot
// is released.
func (s *Store) runSave(done chan struct{}) {
	defer close(done)

	for {
		s.saveMu.Lock()
		s.dirty = false
		s.saveMu.Unlock()

		s.mu.RLock()
		snapshot := make(map[string]*types.MemoryRecord, len(s.records))
		for id, rec := range s.records {
			snapshot[id] = rec
		}
		s.mu.RUnlock()

		err := s.persist.Save(snapshot)

		s.saveMu.Lock()
		if err != nil {
			s.dirty = true
			s.saveCh = nil
			s.saveMu.Unlock()
			s.logger.Error("vectorstore: persist failed, will retry on next write", slog.String("error", err.Error()))
			go func() {
				time.Sleep(time.Second)
				if s.isDirty() {
					s.markDirty()
				}
			}()
			return
		}
		if s.dirty {
			// A writer arrived during this save; loop again while
			// still holding the in-flight slot instead of releasing it.
			s.saveMu.Unlock()
			continue
		}
		s.saveCh = nil
		s.saveMu.Unlock()
		return
	}
}

func (s *Store) isDirty() bool {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.dirty
}

