// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memconfig loads the memory core's environment-variable
// configuration surface: embedding provider selection, storage paths,
// and compression/lifecycle thresholds. Construction never fails on a
// bare environment — every field degrades to a documented default,
// falling back rather than refusing to start.
package memconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EmbeddingProvider identifies which embedding backend a Manager selects.
// An absent/unrecognized EMBEDDING_PROVIDER forces Simple.
type EmbeddingProvider string

const (
	ProviderOpenAI    EmbeddingProvider = "openai"
	ProviderAnthropic EmbeddingProvider = "anthropic"
	ProviderLocal     EmbeddingProvider = "local"
	ProviderSimple    EmbeddingProvider = "simple"
)

// Config is the fully resolved configuration for a Manager instance.
type Config struct {
	EmbeddingProvider  EmbeddingProvider
	EmbeddingModel     string
	EmbeddingAPIKey    string
	EmbeddingDimension int
	EmbeddingTimeout   time.Duration
	EmbeddingMaxRetries int
	EmbeddingCacheTTL  time.Duration

	MemoryDir string

	// EmbeddingCacheDir, when non-empty, enables cross-restart embedding
	// cache persistence via BadgerDB at the given directory (expansion
	// of in-memory-only cache). Empty keeps the cache
	// memory-only, matching the original contract exactly.
	EmbeddingCacheDir string

	TokenBudgetTotal int

	CompressionEnabled              bool
	CompressionTokenThresholdPercent float64
	CompressionCountLimit           int
	CompressionAgeDays              int
	CompressionRedundancyThreshold  float64
	CompressionAuto                 bool

	LifecycleEnabled bool
	LifecycleInterval time.Duration
}

// Default returns the built-in defaults for every configuration key.
func Default() Config {
	return Config{
		EmbeddingProvider:   ProviderSimple,
		EmbeddingModel:      "simple",
		EmbeddingDimension:  384,
		EmbeddingTimeout:    30 * time.Second,
		EmbeddingMaxRetries: 3,
		EmbeddingCacheTTL:   24 * time.Hour,

		MemoryDir: "./data/memory",

		TokenBudgetTotal: 100000,

		CompressionEnabled:               false,
		CompressionTokenThresholdPercent: 0.8,
		CompressionCountLimit:            1000,
		CompressionAgeDays:               30,
		CompressionRedundancyThreshold:   0.3,
		CompressionAuto:                  false,

		LifecycleEnabled:  false,
		LifecycleInterval: 24 * time.Hour,
	}
}

// VectorStoreDir, BM25Path, and GraphPath derive the persisted-state
// layout from MemoryDir: "memory_vectors/vectors.json",
// "memory_vectors/index.json", "memory_vectors/bm25.sqlite",
// "memory/graph.sqlite".
func (c Config) VectorStoreDir() string { return c.MemoryDir + "_vectors" }
func (c Config) BM25Path() string       { return c.MemoryDir + "_vectors/bm25.sqlite" }
func (c Config) GraphPath() string      { return c.MemoryDir + "/graph.sqlite" }

// NewFromEnv resolves Config by layering the recognized environment
// variables over Default(). A malformed numeric/duration value is
// reported as an error rather than silently ignored, since a bad
// threshold can silently defeat the lifecycle manager's guarantees.
func NewFromEnv() (Config, error) {
	c := Default()

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		switch EmbeddingProvider(v) {
		case ProviderOpenAI, ProviderAnthropic, ProviderLocal, ProviderSimple:
			c.EmbeddingProvider = EmbeddingProvider(v)
		default:
			c.EmbeddingProvider = ProviderSimple
		}
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.EmbeddingModel = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		c.EmbeddingAPIKey = v
	}
	if err := envInt("EMBEDDING_DIMENSIONS", &c.EmbeddingDimension); err != nil {
		return c, err
	}
	if err := envMillis("EMBEDDING_TIMEOUT", &c.EmbeddingTimeout); err != nil {
		return c, err
	}
	if err := envInt("EMBEDDING_MAX_RETRIES", &c.EmbeddingMaxRetries); err != nil {
		return c, err
	}
	if err := envMillis("EMBEDDING_CACHE_TTL", &c.EmbeddingCacheTTL); err != nil {
		return c, err
	}
	if v := os.Getenv("MEMORY_DIR"); v != "" {
		c.MemoryDir = v
	}
	if v := os.Getenv("EMBEDDING_CACHE_DIR"); v != "" {
		c.EmbeddingCacheDir = v
	}
	if err := envInt("MEMORY_TOKEN_BUDGET", &c.TokenBudgetTotal); err != nil {
		return c, err
	}
	if err := envBool("COMPRESSION_ENABLED", &c.CompressionEnabled); err != nil {
		return c, err
	}
	if err := envFloat("COMPRESSION_TOKEN_THRESHOLD_PERCENT", &c.CompressionTokenThresholdPercent); err != nil {
		return c, err
	}
	if err := envInt("COMPRESSION_COUNT_LIMIT", &c.CompressionCountLimit); err != nil {
		return c, err
	}
	if err := envInt("COMPRESSION_AGE_DAYS", &c.CompressionAgeDays); err != nil {
		return c, err
	}
	if err := envFloat("COMPRESSION_REDUNDANCY_THRESHOLD", &c.CompressionRedundancyThreshold); err != nil {
		return c, err
	}
	if err := envBool("COMPRESSION_AUTO", &c.CompressionAuto); err != nil {
		return c, err
	}
	if err := envBool("LIFECYCLE_ENABLED", &c.LifecycleEnabled); err != nil {
		return c, err
	}
	if err := envMillis("LIFECYCLE_INTERVAL", &c.LifecycleInterval); err != nil {
		return c, err
	}

	return c, nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("memconfig: parse %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("memconfig: parse %s=%q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("memconfig: parse %s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}

// envMillis parses a millisecond integer; every interval/timeout key
// is expressed in milliseconds.
func envMillis(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("memconfig: parse %s=%q: %w", key, v, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
