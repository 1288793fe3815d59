// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manager implements the memory core's enhanced memory manager:
// the orchestrator exposing UpdateMemory/Query/DistillMemoriesForContext/
// AutoCompressMemories/lifecycle evaluation, wiring the vector store,
// BM25 index, knowledge graph, extractors, conflict resolver,
// compression engine, token budget manager, and transaction log behind
// one programmatic surface.
package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aleutian-labs/memcore/internal/memory/bm25"
	"github.com/aleutian-labs/memcore/internal/memory/budget"
	"github.com/aleutian-labs/memcore/internal/memory/compress"
	"github.com/aleutian-labs/memcore/internal/memory/conflict"
	"github.com/aleutian-labs/memcore/internal/memory/extract"
	"github.com/aleutian-labs/memcore/internal/memory/graph"
	"github.com/aleutian-labs/memcore/internal/memory/lifecycle"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/txlog"
	"github.com/aleutian-labs/memcore/internal/memory/types"
	"github.com/aleutian-labs/memcore/internal/memory/vectorstore"
)

// UpdateOptions configures UpdateMemory. go-playground/validator struct
// tags give UpdateMemory/Query their INPUT_VALIDATION_FAILED boundary.
type UpdateOptions struct {
	DetectConflicts bool `validate:"-"`
	AutoResolve     bool `validate:"-"`
	ExtractGraph    bool `validate:"-"`
}

// QueryOptions configures Query's hybrid search.
type QueryOptions struct {
	MaxResults        int     `validate:"omitempty,min=1,max=500"`
	SemanticThreshold float64 `validate:"omitempty,min=0,max=1"`
	IncludeGraph      bool    `validate:"-"`
	IncludeConflicts  bool    `validate:"-"`
	EntityName        string  `validate:"omitempty,max=256"`
}

const defaultMaxResults = 10

// GraphExtractionSummary reports what graph extraction produced during
// an UpdateMemory call.
type GraphExtractionSummary struct {
	EntitiesExtracted  int
	RelationsExtracted int
}

// UpdateResult is UpdateMemory's return contract.
type UpdateResult struct {
	Success           bool
	VectorsAdded      int
	ConflictsDetected int
	ConflictsResolved int
	GraphExtracted    *GraphExtractionSummary
	Errors            []string
}

// Manager is the Enhanced Memory Manager orchestrator. One Manager is
// constructed per process, holding every leaf component it coordinates.
type Manager struct {
	vectors *vectorstore.Store
	bm25    *bm25.Index
	graph   *graph.Index

	entityExtractor   *extract.EntityExtractor
	relationExtractor *extract.RelationExtractor
	detector          *conflict.Detector
	engine            *compress.Engine
	policy            compress.Policy
	lifecycleMgr      *lifecycle.Manager
	log               *txlog.Log

	totalBudget int
	validate    *validator.Validate
	logger      *slog.Logger
}

// Dependencies bundles the constructed leaf components a Manager
// orchestrates. graph/entityExtractor/relationExtractor are optional:
// a nil graph disables graph features without failing construction,
// so graph extraction during UpdateMemory stays optional.
type Dependencies struct {
	Vectors           *vectorstore.Store
	BM25              *bm25.Index
	Graph             *graph.Index
	EntityExtractor   *extract.EntityExtractor
	RelationExtractor *extract.RelationExtractor
	TotalBudget       int
	IDGen             func() string
	Logger            *slog.Logger
}

// New wires deps into a Manager.
func New(deps Dependencies) *Manager {
	logger := telemetry.Logger(deps.Logger)
	totalBudget := deps.TotalBudget
	if totalBudget <= 0 {
		totalBudget = budget.DefaultTotalBudget
	}

	m := &Manager{
		vectors:           deps.Vectors,
		bm25:              deps.BM25,
		graph:             deps.Graph,
		entityExtractor:   deps.EntityExtractor,
		relationExtractor: deps.RelationExtractor,
		detector:          conflict.NewDetector(deps.IDGen),
		engine:            compress.NewEngine(deps.IDGen),
		policy:            compress.DefaultPolicy(),
		log:               txlog.New(&bm25SyncedRecordStore{vectors: deps.Vectors, bm25: deps.BM25}, logger),
		totalBudget:       totalBudget,
		validate:          validator.New(),
		logger:            logger,
	}
	m.policy.TokenBudget = totalBudget
	m.lifecycleMgr = lifecycle.NewManager(newLifecycleStore(deps.Vectors, deps.BM25), logger)

	return m
}

// bm25SyncedRecordStore adapts *vectorstore.Store to txlog.RecordStore,
// keeping the BM25 index in step with a rollback's Restore/Remove the
// same way resolveConflicts keeps it in step with a forward apply.
type bm25SyncedRecordStore struct {
	vectors *vectorstore.Store
	bm25    *bm25.Index
}

func (s *bm25SyncedRecordStore) Restore(rec *types.MemoryRecord) error {
	if err := s.vectors.Restore(rec); err != nil {
		return err
	}
	if s.bm25 != nil {
		_ = s.bm25.Index(context.Background(), rec)
	}
	return nil
}

func (s *bm25SyncedRecordStore) Remove(id string) bool {
	rec, found := s.vectors.GetByID(id)
	if !s.vectors.Remove(id) {
		return false
	}
	if s.bm25 != nil && found {
		_ = s.bm25.Remove(context.Background(), rec.Metadata.UserID, id)
	}
	return true
}

// StartLifecycleEvaluation starts the periodic lifecycle loop; pairs
// with StopLifecycleEvaluation.
func (m *Manager) StartLifecycleEvaluation(ctx context.Context, interval time.Duration) {
	m.lifecycleMgr.Start(ctx, interval)
}

// StopLifecycleEvaluation halts the periodic lifecycle loop.
func (m *Manager) StopLifecycleEvaluation() {
	m.lifecycleMgr.Stop()
}

// errString collects err.Error() into a result.Errors-style slice
// element, skipping nil errors.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
