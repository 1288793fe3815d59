// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// badgerCacheKeyPrefix namespaces embedding cache entries within the
// BadgerDB keyspace, versioned so a future encoding change can't
// collide with entries written by an older build.
const badgerCacheKeyPrefix = "embedding/cache/v1/"

var errBadgerCacheMiss = errors.New("embedding: badger cache miss")

// BadgerCache persists embedding cache entries across process restarts,
// keyed by the same sha256(provider|model|input) cacheKey the in-memory
// LRU uses. It is optional: a Service with no BadgerCache configured
// runs in memory-only mode, unaffected by BadgerDB's availability.
type BadgerCache struct {
	db     *dgbadger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// OpenBadgerCache opens (or creates) a BadgerDB instance at path for
// cross-restart embedding cache persistence. ttl <= 0 uses
// memconfig's EmbeddingCacheTTL default of 24h.
func OpenBadgerCache(path string, ttl time.Duration, logger *slog.Logger) (*BadgerCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	db, err := dgbadger.Open(dgbadger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("embedding: open badger cache at %s: %w", path, err)
	}
	return &BadgerCache{db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the underlying BadgerDB handle.
func (b *BadgerCache) Close() error { return b.db.Close() }

// Load looks up key, returning (entry, true, nil) on hit, (zero, false,
// nil) on miss or TTL expiry, and (zero, false, err) on storage or
// decode failure.
func (b *BadgerCache) Load(key string) (CacheEntry, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *dgbadger.Txn) error {
		item, err := txn.Get(badgerCacheKey(key))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errBadgerCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, errBadgerCacheMiss) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("embedding: badger cache load: %w", err)
	}

	var entry CacheEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		return CacheEntry{}, false, fmt.Errorf("embedding: badger cache decode: %w", err)
	}
	return entry, true, nil
}

// Save persists entry under key with the configured TTL, enforced by
// BadgerDB's native GC rather than an application-level expiry check.
func (b *BadgerCache) Save(key string, entry CacheEntry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entry); err != nil {
		return fmt.Errorf("embedding: badger cache encode: %w", err)
	}
	err := b.db.Update(func(txn *dgbadger.Txn) error {
		e := dgbadger.NewEntry(badgerCacheKey(key), buf.Bytes()).WithTTL(b.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("embedding: badger cache save: %w", err)
	}
	return nil
}

func badgerCacheKey(key string) []byte {
	return []byte(badgerCacheKeyPrefix + key)
}
