// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding implements the memory core's Embedding Service: a
// pluggable-backend, cached, dimension-normalized embedding producer
// with a deterministic fallback that degrades gracefully instead of
// failing the caller.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"time"

	"github.com/aleutian-labs/memcore/internal/memory/asyncutil"
	"github.com/aleutian-labs/memcore/internal/memory/memconfig"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
)

// Result is the Embedding Service's response: the embedding, the
// model that produced it, and whether it was served from cache.
type Result struct {
	Embedding []float32
	Model     string
	Cached    bool
}

// retryBaseDelay, retryCapDelay, and defaultMaxRetries implement
// exponential backoff: base 1s, cap 10s, default 3 attempts.
const (
	retryBaseDelay   = 1 * time.Second
	retryCapDelay    = 10 * time.Second
	defaultMaxRetries = 3
)

// Service is the memory core's embedding producer. One Service is
// constructed per process and shared by every component that needs
// vectors (vector store, conflict resolver's pre-filter, graph entity
// similarity).
type Service struct {
	dimension  int
	timeout    time.Duration
	maxRetries int

	provider Provider
	fallback *fallbackProvider

	cache  *cache
	logger *slog.Logger
}

// New builds a Service from cfg. The concrete Provider is selected by
// cfg.EmbeddingProvider; "anthropic" is accepted but has no native
// embeddings API, so it logs once and routes through the deterministic
// fallback rather than silently aliasing to another
// backend. The cache is memory-only; use NewWithCachePersistence for
// cross-restart persistence.
func New(cfg memconfig.Config, provider Provider, logger *slog.Logger) *Service {
	return newService(cfg, provider, nil, logger)
}

// NewWithCachePersistence is New, but backs the embedding cache with
// persist so cached vectors survive a process restart: a BadgerDB-
// backed cross-restart cache, keyed the same way as the in-memory LRU.
func NewWithCachePersistence(cfg memconfig.Config, provider Provider, persist *BadgerCache, logger *slog.Logger) *Service {
	return newService(cfg, provider, persist, logger)
}

func newService(cfg memconfig.Config, provider Provider, persist *BadgerCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	fb := &fallbackProvider{dim: cfg.EmbeddingDimension}

	if cfg.EmbeddingProvider == memconfig.ProviderAnthropic {
		logger.Warn("embedding: anthropic provider has no native embeddings API, degrading to deterministic fallback",
			slog.String("configured_provider", string(cfg.EmbeddingProvider)))
		provider = nil
	}
	if provider == nil {
		provider = fb
	}

	maxRetries := cfg.EmbeddingMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	timeout := cfg.EmbeddingTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Service{
		dimension:  cfg.EmbeddingDimension,
		timeout:    timeout,
		maxRetries: maxRetries,
		provider:   provider,
		fallback:   fb,
		cache:      newCacheWithPersistence(5000, cfg.EmbeddingCacheTTL, persist),
		logger:     logger,
	}
}

// Close stops the cache's background TTL sweep.
func (s *Service) Close() { s.cache.close() }

// cacheKey computes sha256(providerId|modelId|input).
func cacheKey(providerID, modelID string, input []byte) string {
	h := sha256.New()
	h.Write([]byte(providerID))
	h.Write([]byte{'|'})
	h.Write([]byte(modelID))
	h.Write([]byte{'|'})
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// Embed computes the embedding for in, consulting the cache unless
// skipCache is set. On any terminal provider failure it degrades to the
// deterministic fallback rather than returning an error: the fallback
// may still produce a degraded vector, in which case the call succeeds
// with cached=false, model="…-fallback".
func (s *Service) Embed(ctx context.Context, in Input, skipCache bool) (Result, error) {
	key := cacheKey(s.provider.ID(), s.provider.Model(), in.raw())

	if !skipCache {
		if entry, ok := s.cache.get(key); ok {
			telemetry.EmbeddingCacheHitTotal.WithLabelValues("hit").Inc()
			return Result{Embedding: entry.Embedding, Model: entry.Model, Cached: true}, nil
		}
		telemetry.EmbeddingCacheHitTotal.WithLabelValues("miss").Inc()
	}

	vec, model, err := s.embedWithRetry(ctx, in)
	if err != nil {
		// embedWithRetry already degraded through the fallback on its
		// own terminal failure; reaching here means even the fallback
		// provider errored, which only happens for programmer error
		// (e.g. dimension <= 0), so this is a genuine failure.
		return Result{}, err
	}

	coerced, mismatched := coerceDimension(vec, s.dimension)
	if mismatched {
		s.logger.Warn("embedding: result dimension mismatch, coerced",
			slog.Int("got", len(vec)), slog.Int("want", s.dimension))
	}
	normalized := l2NormalizeFloat32(coerced)

	result := Result{Embedding: normalized, Model: model, Cached: false}
	if !skipCache {
		s.cache.put(key, CacheEntry{Embedding: normalized, Model: model, InsertedAt: time.Now()})
	}
	return result, nil
}

// embedWithRetry drives the provider through up to maxRetries attempts
// with exponential backoff, each bounded by the service timeout, then
// degrades to the deterministic fallback on terminal failure.
func (s *Service) embedWithRetry(ctx context.Context, in Input) ([]float32, string, error) {
	delay := retryBaseDelay
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var vec []float32
		err := asyncutil.WithTimeout(ctx, s.timeout, func(cctx context.Context) error {
			v, err := s.provider.Embed(cctx, in)
			vec = v
			return err
		})
		if err == nil {
			return vec, s.provider.Model(), nil
		}
		lastErr = err

		if attempt < s.maxRetries-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = s.maxRetries
			}
			delay *= 2
			if delay > retryCapDelay {
				delay = retryCapDelay
			}
		}
	}

	s.logger.Warn("embedding: provider exhausted retries, degrading to fallback",
		slog.String("provider", s.provider.ID()), slog.String("error", lastErr.Error()))
	telemetry.EmbeddingFallbackTotal.WithLabelValues("provider_exhausted").Inc()

	vec, err := s.fallback.Embed(ctx, in)
	if err != nil {
		return nil, "", err
	}
	return vec, s.fallback.Model(), nil
}

// EmbedBatch embeds every input, dispatching to the provider's batch
// endpoint is not modeled here since no in-pack remote API exposes one
// generically; instead each input goes through Embed with bounded
// concurrency. A provider-native batch endpoint is an optional
// optimization the fallback path does not require.
func (s *Service) EmbedBatch(ctx context.Context, inputs []Input, skipCache bool) ([]Result, []error) {
	return asyncutil.BatchMap(ctx, inputs, 8, func(cctx context.Context, in Input) (Result, error) {
		return s.Embed(cctx, in, skipCache)
	})
}

func l2NormalizeFloat32(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
