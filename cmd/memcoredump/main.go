// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// memcoredump inspects the memory core's persisted embedding cache.
//
// The embedding cache persists embedding vectors in BadgerDB between
// process restarts when EMBEDDING_CACHE_DIR is set. This tool opens the
// cache read-only and prints a human-readable summary: keys, TTL
// remaining, vector dimension, L2 norm, and a short sample of each
// vector.
//
// Usage:
//
//	memcoredump [--path /path/to/embedding/cache]
//
// If --path is not given, reads EMBEDDING_CACHE_DIR from the
// environment.
//
// Exit codes:
//
//	0 — success (including "empty cache", which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// cacheKeyPrefix must match embedding/badgercache.go exactly.
const cacheKeyPrefix = "embedding/cache/v1/"

// cacheEntry mirrors embedding.CacheEntry's gob wire shape without
// importing the internal package, the same way routing_cache_dump
// decodes the router cache's gob payload independently of its source
// package.
type cacheEntry struct {
	Embedding  []float32
	Model      string
	InsertedAt time.Time
}

func main() {
	pathFlag := flag.String("path", "", "Path to embedding BadgerDB cache directory (overrides EMBEDDING_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("EMBEDDING_CACHE_DIR")
	}
	if dbPath == "" {
		fatalf("no cache path given: pass --path or set EMBEDDING_CACHE_DIR")
	}

	fmt.Printf("Embedding cache path: %s\n", dbPath)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Cache directory does not exist. EMBEDDING_CACHE_DIR is unset or the core has not yet written any vectors.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type row struct {
		key       string
		expiresAt time.Time
		hasExpiry bool
		entry     cacheEntry
		rawSize   int
		decodeErr error
	}

	var rows []row

	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(cacheKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var r row
			r.key = strings.TrimPrefix(string(item.Key()), cacheKeyPrefix)

			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				r.hasExpiry = true
				r.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				r.decodeErr = fmt.Errorf("copy value: %w", err)
				rows = append(rows, r)
				continue
			}
			r.rawSize = len(raw)

			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&r.entry); err != nil {
				r.decodeErr = fmt.Errorf("gob decode: %w", err)
			}
			rows = append(rows, r)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(rows) == 0 {
		fmt.Println("\nNo embedding cache entries found.")
		os.Exit(0)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })

	fmt.Printf("\nFound %d cache entr%s:\n", len(rows), plural(len(rows), "y", "ies"))
	fmt.Println(strings.Repeat("─", 80))

	for i, r := range rows {
		fmt.Printf("\n[%d] Key:    %s\n", i+1, r.key)

		if r.hasExpiry {
			remaining := time.Until(r.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:    EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:    %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					r.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:    no expiry set\n")
		}

		fmt.Printf("    Size:   %s\n", formatBytes(r.rawSize))

		if r.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", r.decodeErr)
			continue
		}

		dims := len(r.entry.Embedding)
		norm := l2Norm(r.entry.Embedding)
		fmt.Printf("    Model:  %s\n", r.entry.Model)
		fmt.Printf("    Dims:   %d\n", dims)
		fmt.Printf("    L2Norm: %.4f\n", norm)
		fmt.Printf("    Sample: %s\n", formatSample(r.entry.Embedding, 4))
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d entr%s, cache path: %s\n",
		len(rows), plural(len(rows), "y", "ies"), dbPath)
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func formatSample(v []float32, n int) string {
	if len(v) == 0 {
		return "[]"
	}
	if n > len(v) {
		n = len(v)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("%+.4f", v[i])
	}
	suffix := ""
	if len(v) > n {
		suffix = " ..."
	}
	return "[" + strings.Join(parts, ", ") + suffix + "]"
}

func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "memcoredump: "+format+"\n", args...)
	os.Exit(1)
}
