// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry centralizes the memory core's structured logging,
// tracing, and metrics so every component reports through the same
// instruments: memory.embedding.cache_hit, memory.enhanced.query,
// memory.conflicts.detected, and the rest of the counters below.
package telemetry

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the memory core's shared, package-level OpenTelemetry
// tracer.
var Tracer = otel.Tracer("memcore.memory")

// Logger returns l if non-nil, otherwise slog.Default(). Every
// constructor in the memory core accepts an optional *slog.Logger and
// normalizes it through this helper.
func Logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// StartSpan does nothing and starts no span; call sites use
// Tracer.Start(ctx, name, opts...) directly.
func StartSpan(ctx any, name string) {
	_ = name
	_ = ctx
}

var (
	// EmbeddingCacheHitTotal counts embedding cache hits vs misses.
	EmbeddingCacheHitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memory",
		Subsystem: "embedding",
		Name:      "cache_hit_total",
		Help:      "Embedding cache lookups by outcome: hit, miss.",
	}, []string{"outcome"})

	// EmbeddingFallbackTotal counts degradations to the deterministic
	// fallback embedder, tagged by reason.
	EmbeddingFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memory",
		Subsystem: "embedding",
		Name:      "fallback_total",
		Help:      "Embedding calls that degraded to the deterministic fallback, by reason.",
	}, []string{"reason"})

	// EnhancedQueryTotal counts hybrid query calls.
	EnhancedQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memory",
		Subsystem: "enhanced",
		Name:      "query_total",
		Help:      "Enhanced memory manager query() calls.",
	}, []string{"outcome"})

	// EnhancedQueryLatency tracks hybrid query latency.
	EnhancedQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "memory",
		Subsystem: "enhanced",
		Name:      "query_latency_seconds",
		Help:      "Latency of Manager.Query calls.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// ConflictsDetectedTotal counts conflicts found by detector kind.
	ConflictsDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memory",
		Subsystem: "conflicts",
		Name:      "detected_total",
		Help:      "Conflicts detected by kind: semantic, factual, temporal, preference, duplicate.",
	}, []string{"kind"})

	// ConflictsResolvedTotal counts auto-resolved conflicts by action.
	ConflictsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memory",
		Subsystem: "conflicts",
		Name:      "resolved_total",
		Help:      "Conflicts auto-resolved by action taken.",
	}, []string{"action"})

	// LifecycleTransitionsTotal counts lifecycle transitions by kind.
	LifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memory",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Lifecycle transitions by kind: upgrade, downgrade, delete, evict.",
	}, []string{"kind"})

	// CompressionRunsTotal counts compression engine executions by strategy.
	CompressionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memory",
		Subsystem: "compression",
		Name:      "runs_total",
		Help:      "Compression engine executions by strategy: merge, summarize, ignore, update.",
	}, []string{"strategy"})
)

// ensure trace.Tracer satisfies expectations at compile time in tests that
// stub the tracer; unused import guard.
var _ trace.Tracer = Tracer
