// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpec(t *testing.T) {
	c := Default()

	assert.Equal(t, ProviderSimple, c.EmbeddingProvider)
	assert.Equal(t, 384, c.EmbeddingDimension)
	assert.Equal(t, 30*time.Second, c.EmbeddingTimeout)
	assert.Equal(t, 3, c.EmbeddingMaxRetries)
	assert.Equal(t, 24*time.Hour, c.EmbeddingCacheTTL)
	assert.Equal(t, 100000, c.TokenBudgetTotal)
	assert.Equal(t, 0.8, c.CompressionTokenThresholdPercent)
	assert.Equal(t, 1000, c.CompressionCountLimit)
	assert.Equal(t, 30, c.CompressionAgeDays)
	assert.Equal(t, 0.3, c.CompressionRedundancyThreshold)
	assert.Equal(t, 24*time.Hour, c.LifecycleInterval)
}

func TestDerivedPaths(t *testing.T) {
	c := Default()
	c.MemoryDir = "/data/memory"

	assert.Equal(t, "/data/memory_vectors", c.VectorStoreDir())
	assert.Equal(t, "/data/memory_vectors/bm25.sqlite", c.BM25Path())
	assert.Equal(t, "/data/memory/graph.sqlite", c.GraphPath())
}

func TestNewFromEnvOverridesAndValidates(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("MEMORY_TOKEN_BUDGET", "50000")
	t.Setenv("LIFECYCLE_INTERVAL", "3600000")

	c, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, c.EmbeddingProvider)
	assert.Equal(t, 50000, c.TokenBudgetTotal)
	assert.Equal(t, time.Hour, c.LifecycleInterval)
}

func TestNewFromEnvSetsEmbeddingCacheDir(t *testing.T) {
	c := Default()
	assert.Empty(t, c.EmbeddingCacheDir, "cache persistence is opt-in: empty means memory-only")

	t.Setenv("EMBEDDING_CACHE_DIR", "/data/memory_cache")

	c, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/data/memory_cache", c.EmbeddingCacheDir)
}

func TestNewFromEnvUnknownProviderForcesSimple(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "nonsense")

	c, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderSimple, c.EmbeddingProvider)
}

func TestNewFromEnvRejectsMalformedValue(t *testing.T) {
	t.Setenv("MEMORY_TOKEN_BUDGET", "not-a-number")

	_, err := NewFromEnv()
	require.Error(t, err)
}
