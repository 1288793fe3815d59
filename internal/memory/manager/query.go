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
	"math"
	"sort"
	"time"

	"github.com/aleutian-labs/memcore/internal/memory/bm25"
	"github.com/aleutian-labs/memcore/internal/memory/conflict"
	"github.com/aleutian-labs/memcore/internal/memory/memerr"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/types"
	"github.com/aleutian-labs/memcore/internal/memory/vectorstore"
)

const (
	vectorWeight   = 0.7
	bm25Weight     = 0.3
	timeDecayHalf  = 7 * 24 * time.Hour
)

// QueryResult is one result item from Query, carrying both scores a
// caller might want to inspect alongside the record itself.
type QueryResult struct {
	Record         *types.MemoryRecord
	VectorScore    float64
	BM25Score      float64
	CombinedScore  float64
	Conflicts      []conflict.Conflict
}

// QueryResponse is Query's full return contract.
type QueryResponse struct {
	Results     []QueryResult
	Graph       *GraphContext
	QueryTimeMs int64
}

// GraphContext is the optional graph-resolution attachment to a query
// response: entities mentioned by name in the query, resolved against
// the knowledge graph.
type GraphContext struct {
	Entities []*types.GraphEntity
}

// Query runs a hybrid search: vector search then BM25 search, each at
// 2x the requested result count, per-max score normalization, a 0.7/0.3
// weighted combination, a MemoryTypeWeights x 7-day time-decay rerank,
// truncation to maxResults, access tracking on every returned record,
// and optional graph/conflict attachment.
func (m *Manager) Query(ctx context.Context, userID, query string, opts QueryOptions) (QueryResponse, error) {
	if err := m.validate.Struct(opts); err != nil {
		telemetry.EnhancedQueryTotal.WithLabelValues("invalid_input").Inc()
		return QueryResponse{}, memerr.Wrap(memerr.InputValidationFailed, "manager.Query", "validate options", err)
	}

	start := time.Now()
	ctx, span := telemetry.Tracer.Start(ctx, "manager.Query")
	defer span.End()

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	fanoutLimit := maxResults * 2

	vectorHits, bm25Hits := m.hybridSearch(ctx, userID, query, opts, fanoutLimit)

	combined := combineScores(vectorHits, bm25Hits, m.vectors.GetByID)
	now := types.NowMillis()
	rerankByTimeDecay(combined, now)

	sort.Slice(combined, func(i, j int) bool { return combined[i].CombinedScore > combined[j].CombinedScore })
	if len(combined) > maxResults {
		combined = combined[:maxResults]
	}
	for i := range combined {
		m.vectors.MarkAccessed(combined[i].Record.ID)
	}

	if opts.IncludeConflicts {
		candidates := m.vectors.GetByUser(userID)
		for i := range combined {
			combined[i].Conflicts = m.detector.Detect(combined[i].Record, candidates)
		}
	}

	resp := QueryResponse{Results: combined, QueryTimeMs: time.Since(start).Milliseconds()}
	if opts.IncludeGraph && m.graph != nil && opts.EntityName != "" {
		if e, ok := m.graph.FindEntityByName(userID, opts.EntityName); ok {
			sub := m.graph.ExtractSubgraph(e.ID, 0)
			resp.Graph = &GraphContext{Entities: append([]*types.GraphEntity{e}, sub.Entities...)}
		}
	}

	telemetry.EnhancedQueryTotal.WithLabelValues("success").Inc()
	telemetry.EnhancedQueryLatency.Observe(time.Since(start).Seconds())
	return resp, nil
}

// hybridSearch runs the vector-store and BM25 searches for userID/query
// and returns their raw, unnormalized hit lists.
func (m *Manager) hybridSearch(ctx context.Context, userID, query string, opts QueryOptions, limit int) ([]vectorstore.ScoredRecord, []bm25.Hit) {
	vectorHits, err := m.vectors.Search(ctx, query, vectorstore.SearchFilter{
		UserID:   userID,
		MinScore: opts.SemanticThreshold,
		Limit:    limit,
	})
	if err != nil {
		vectorHits = nil
	}

	var bm25Hits []bm25.Hit
	if m.bm25 != nil {
		bm25Hits = m.bm25.Search(ctx, query, bm25.SearchOptions{UserID: userID, Limit: limit})
	}
	return vectorHits, bm25Hits
}

// combineScores merges vector and BM25 hits into one per-record result
// set, normalizing each score list by its own max before combining
// 0.7*vector + 0.3*bm25. lookup resolves a BM25-only hit's memory id
// to its record, since bm25.Hit carries no record of its own.
func combineScores(vectorHits []vectorstore.ScoredRecord, bm25Hits []bm25.Hit, lookup func(id string) (*types.MemoryRecord, bool)) []QueryResult {
	maxVector := 0.0
	for _, h := range vectorHits {
		if h.Similarity > maxVector {
			maxVector = h.Similarity
		}
	}
	maxBM25 := 0.0
	for _, h := range bm25Hits {
		if h.Score > maxBM25 {
			maxBM25 = h.Score
		}
	}

	byID := make(map[string]*QueryResult)
	order := make([]string, 0, len(vectorHits)+len(bm25Hits))

	for _, h := range vectorHits {
		norm := 0.0
		if maxVector > 0 {
			norm = h.Similarity / maxVector
		}
		byID[h.Record.ID] = &QueryResult{Record: h.Record, VectorScore: norm}
		order = append(order, h.Record.ID)
	}
	for _, h := range bm25Hits {
		norm := 0.0
		if maxBM25 > 0 {
			norm = h.Score / maxBM25
		}
		if existing, ok := byID[h.MemoryID]; ok {
			existing.BM25Score = norm
			continue
		}
		rec, ok := lookup(h.MemoryID)
		if !ok {
			continue
		}
		order = append(order, h.MemoryID)
		byID[h.MemoryID] = &QueryResult{Record: rec, BM25Score: norm}
	}

	out := make([]QueryResult, 0, len(byID))
	seen := make(map[string]struct{}, len(byID))
	for _, id := range order {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		r := byID[id]
		if r.Record == nil {
			continue
		}
		r.CombinedScore = vectorWeight*r.VectorScore + bm25Weight*r.BM25Score
		out = append(out, *r)
	}
	return out
}

// rerankByTimeDecay multiplies each result's combined score by its
// memory type's weight and an exponential decay exp(-age/7 days).
func rerankByTimeDecay(results []QueryResult, nowMillis int64) {
	halfLifeMillis := float64(timeDecayHalf.Milliseconds())
	for i := range results {
		rec := results[i].Record
		weight := types.MemoryTypeWeights[rec.Metadata.Type]
		if weight == 0 {
			weight = 1.0
		}
		age := float64(nowMillis - rec.Metadata.Timestamp)
		if age < 0 {
			age = 0
		}
		decay := math.Exp(-age / halfLifeMillis)
		results[i].CombinedScore *= weight * (0.7 + 0.3*decay)
	}
}
