// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memcore is the memory core's root facade: a programmatic
// surface with no wire protocol of its own, left to whatever gateway
// embeds it. Core wires the embedding service, vector store, BM25
// index, knowledge graph, extractors, and the Enhanced Memory Manager
// orchestrator behind one constructor.
package memcore

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/aleutian-labs/memcore/internal/memory/bm25"
	"github.com/aleutian-labs/memcore/internal/memory/embedding"
	"github.com/aleutian-labs/memcore/internal/memory/extract"
	"github.com/aleutian-labs/memcore/internal/memory/graph"
	"github.com/aleutian-labs/memcore/internal/memory/manager"
	"github.com/aleutian-labs/memcore/internal/memory/memconfig"
	"github.com/aleutian-labs/memcore/internal/memory/vectorstore"
)

// defaultOpenAIEmbeddingsURL and defaultLocalEmbeddingsURL are the
// well-known endpoints used when EMBEDDING_PROVIDER selects openai/
// local and no EMBEDDING_SERVICE_URL override is set.
const (
	defaultOpenAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"
	defaultLocalEmbeddingsURL  = "http://localhost:11434/api/embed"
	defaultRemoteRPS           = 5
)

// Core is the memory core's full programmatic surface: every
// updateMemory/query/distill/compress/lifecycle/graph operation, plus
// lifecycle of the resources New opened.
type Core struct {
	*manager.Manager

	embedder    *embedding.Service
	bm25        *bm25.Index
	graphStore  *graph.Store
	badgerCache *embedding.BadgerCache
}

// New opens a Core against cfg's persisted-state layout: the vector
// store's JSON files and the BM25 SQLite database under
// cfg.MemoryDir+"_vectors", the graph SQLite database under
// cfg.MemoryDir, and an optional BadgerDB-backed embedding cache under
// cfg.EmbeddingCacheDir.
func New(ctx context.Context, cfg memconfig.Config) (*Core, error) {
	if err := os.MkdirAll(cfg.MemoryDir, 0o755); err != nil {
		return nil, fmt.Errorf("memcore: create data dir: %w", err)
	}

	var badgerCache *embedding.BadgerCache
	if cfg.EmbeddingCacheDir != "" {
		bc, err := embedding.OpenBadgerCache(cfg.EmbeddingCacheDir, cfg.EmbeddingCacheTTL, nil)
		if err != nil {
			return nil, fmt.Errorf("memcore: open embedding cache: %w", err)
		}
		badgerCache = bc
	}

	provider := resolveRemoteProvider(cfg)
	embedder := embedding.NewWithCachePersistence(cfg, provider, badgerCache, nil)

	persister, err := vectorstore.NewFilePersister(cfg.VectorStoreDir())
	if err != nil {
		closeAll(badgerCache, nil, nil, embedder)
		return nil, fmt.Errorf("memcore: create vector persister: %w", err)
	}
	vectors, err := vectorstore.New(ctx, embedder, persister, nil)
	if err != nil {
		closeAll(badgerCache, nil, nil, embedder)
		return nil, fmt.Errorf("memcore: open vector store: %w", err)
	}

	bmIndex, err := bm25.Open(cfg.BM25Path(), nil)
	if err != nil {
		closeAll(badgerCache, nil, nil, embedder)
		return nil, fmt.Errorf("memcore: open bm25 index: %w", err)
	}

	graphStore, err := graph.Open(cfg.GraphPath(), nil)
	if err != nil {
		closeAll(badgerCache, bmIndex, nil, embedder)
		return nil, fmt.Errorf("memcore: open graph store: %w", err)
	}
	graphIdx, err := graph.NewIndex(ctx, graphStore, nil)
	if err != nil {
		closeAll(badgerCache, bmIndex, graphStore, embedder)
		return nil, fmt.Errorf("memcore: build graph index: %w", err)
	}

	entitySet, entityRules, err := extract.DefaultEntityRules()
	if err != nil {
		closeAll(badgerCache, bmIndex, graphStore, embedder)
		return nil, fmt.Errorf("memcore: load entity rules: %w", err)
	}
	_, relationRules, err := extract.DefaultRelationRules()
	if err != nil {
		closeAll(badgerCache, bmIndex, graphStore, embedder)
		return nil, fmt.Errorf("memcore: load relation rules: %w", err)
	}
	entityExtractor := extract.NewEntityExtractor(entitySet, entityRules, nil, cfg.EmbeddingTimeout, nil)
	relationExtractor := extract.NewRelationExtractor(relationRules)

	mgr := manager.New(manager.Dependencies{
		Vectors:           vectors,
		BM25:              bmIndex,
		Graph:             graphIdx,
		EntityExtractor:   entityExtractor,
		RelationExtractor: relationExtractor,
		TotalBudget:       cfg.TokenBudgetTotal,
		IDGen:             uuid.NewString,
	})

	if cfg.LifecycleEnabled {
		mgr.StartLifecycleEvaluation(ctx, cfg.LifecycleInterval)
	}

	return &Core{
		Manager:     mgr,
		embedder:    embedder,
		bm25:        bmIndex,
		graphStore:  graphStore,
		badgerCache: badgerCache,
	}, nil
}

// Close releases every resource New opened: the lifecycle scheduler (if
// running), the embedding cache, and the BM25/graph/embedding-cache
// handles. The vector store has no separate handle to close; its state
// is flushed on every mutating call via its single-flight save queue.
func (c *Core) Close() error {
	c.StopLifecycleEvaluation()
	return closeAll(c.badgerCache, c.bm25, c.graphStore, c.embedder)
}

func closeAll(badgerCache *embedding.BadgerCache, bmIndex *bm25.Index, graphStore *graph.Store, embedder *embedding.Service) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if embedder != nil {
		embedder.Close()
	}
	if bmIndex != nil {
		record(bmIndex.Close())
	}
	if graphStore != nil {
		record(graphStore.Close())
	}
	if badgerCache != nil {
		record(badgerCache.Close())
	}
	return firstErr
}

// resolveRemoteProvider builds the Provider matching cfg's selected
// backend. simple/anthropic return nil, letting embedding.Service's own
// fallback/anthropic-degradation logic take over.
func resolveRemoteProvider(cfg memconfig.Config) embedding.Provider {
	switch cfg.EmbeddingProvider {
	case memconfig.ProviderOpenAI:
		url := os.Getenv("EMBEDDING_SERVICE_URL")
		if url == "" {
			url = defaultOpenAIEmbeddingsURL
		}
		return embedding.NewRemoteProvider("openai", cfg.EmbeddingModel, url, cfg.EmbeddingAPIKey, defaultRemoteRPS, nil)
	case memconfig.ProviderLocal:
		url := os.Getenv("EMBEDDING_SERVICE_URL")
		if url == "" {
			url = defaultLocalEmbeddingsURL
		}
		return embedding.NewRemoteProvider("local", cfg.EmbeddingModel, url, cfg.EmbeddingAPIKey, defaultRemoteRPS, nil)
	default:
		return nil
	}
}
