// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph implements the memory core's Graph Store and Index:
// SQLite-persisted entities and relations, plus an in-memory
// adjacency-list cache with neighbor, BFS path, and subgraph queries.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/aleutian-labs/memcore/internal/memory/memerr"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// Store persists entities and relations to SQLite. All writes are
// serialized through a single global mutex; reads do not take it.
type Store struct {
	db     *sql.DB
	writeMu sync.Mutex
	logger *slog.Logger
}

// Open creates (or reuses) the SQLite database at path and ensures its
// schema and indexes exist.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, memerr.Wrap(memerr.SQLFailed, "graph.Open", "open database", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, memerr.Wrap(memerr.SQLFailed, "graph.Open", "apply pragma", err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL,
			aliases    TEXT NOT NULL DEFAULT '[]',
			properties TEXT NOT NULL DEFAULT '{}',
			confidence REAL NOT NULL,
			memoryId   TEXT,
			sourceTs   INTEGER,
			userId     TEXT NOT NULL,
			accessCount INTEGER NOT NULL DEFAULT 0,
			lastAccessed INTEGER NOT NULL DEFAULT 0,
			importance REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_name ON entities(userId, name)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_type ON entities(userId, type)`,
		`CREATE TABLE IF NOT EXISTS relations (
			id          TEXT PRIMARY KEY,
			sourceId    TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			targetId    TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			type        TEXT NOT NULL,
			properties  TEXT NOT NULL DEFAULT '{}',
			confidence  REAL NOT NULL,
			timestamp   INTEGER NOT NULL,
			startTime   INTEGER,
			endTime     INTEGER,
			memoryId    TEXT,
			userId      TEXT NOT NULL,
			UNIQUE(sourceId, type, targetId)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(sourceId)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(targetId)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_user_type ON relations(userId, type)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return memerr.Wrap(memerr.SQLFailed, "graph.migrate", "apply schema", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// UpsertEntity inserts or updates an entity, serialized on the global
// write mutex.
func (s *Store) UpsertEntity(ctx context.Context, e *types.GraphEntity) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	aliases, err := json.Marshal(aliasSlice(e.Aliases))
	if err != nil {
		return err
	}
	props, err := json.Marshal(e.Properties)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, type, aliases, properties, confidence, memoryId, sourceTs, userId, accessCount, lastAccessed, importance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, type = excluded.type, aliases = excluded.aliases,
			properties = excluded.properties, confidence = excluded.confidence,
			memoryId = excluded.memoryId, sourceTs = excluded.sourceTs,
			accessCount = excluded.accessCount, lastAccessed = excluded.lastAccessed,
			importance = excluded.importance`,
		e.ID, e.Name, string(e.Type), string(aliases), string(props), e.Confidence,
		e.Source.MemoryID, e.Source.Timestamp, e.Metadata.UserID,
		e.Metadata.AccessCount, e.Metadata.LastAccessed, e.Metadata.Importance)
	if err != nil {
		return memerr.Wrap(memerr.SQLFailed, "graph.UpsertEntity", "upsert", err)
	}
	return nil
}

// DeleteEntity removes an entity and cascades to its relations,
// enforced both by the FK ON DELETE CASCADE and an explicit relation
// delete for drivers where FK enforcement might be compiled out.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM relations WHERE sourceId = ? OR targetId = ?`, id, id); err != nil {
		return memerr.Wrap(memerr.SQLFailed, "graph.DeleteEntity", "cascade relations", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
		return memerr.Wrap(memerr.SQLFailed, "graph.DeleteEntity", "delete entity", err)
	}
	return nil
}

// UpsertRelation inserts or updates a relation. Duplicate
// (sourceId, type, targetId) triples update in place, and an existing
// relation id is updated to the new endpoints and fields.
func (s *Store) UpsertRelation(ctx context.Context, r *types.GraphRelation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	props, err := json.Marshal(r.Properties)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relations (id, sourceId, targetId, type, properties, confidence, timestamp, startTime, endTime, memoryId, userId)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sourceId, type, targetId) DO UPDATE SET
			properties = excluded.properties, confidence = excluded.confidence,
			timestamp = excluded.timestamp, startTime = excluded.startTime,
			endTime = excluded.endTime, memoryId = excluded.memoryId
		ON CONFLICT(id) DO UPDATE SET
			sourceId = excluded.sourceId, targetId = excluded.targetId, type = excluded.type,
			properties = excluded.properties, confidence = excluded.confidence,
			timestamp = excluded.timestamp, startTime = excluded.startTime,
			endTime = excluded.endTime, memoryId = excluded.memoryId`,
		r.ID, r.SourceID, r.TargetID, string(r.Type), string(props), r.Confidence,
		r.Temporal.Timestamp, r.Temporal.StartTime, r.Temporal.EndTime,
		r.Source.MemoryID, r.Source.UserID)
	if err != nil {
		return memerr.Wrap(memerr.SQLFailed, "graph.UpsertRelation", "upsert", err)
	}
	return nil
}

// LoadAll returns every entity and relation, used to (re)build the
// in-memory index at startup before it can answer traversal queries.
func (s *Store) LoadAll(ctx context.Context) ([]*types.GraphEntity, []*types.GraphRelation, error) {
	entities, err := s.loadEntities(ctx)
	if err != nil {
		return nil, nil, err
	}
	relations, err := s.loadRelations(ctx)
	if err != nil {
		return nil, nil, err
	}
	return entities, relations, nil
}

func (s *Store) loadEntities(ctx context.Context) ([]*types.GraphEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, aliases, properties, confidence, memoryId, sourceTs, userId, accessCount, lastAccessed, importance
		FROM entities`)
	if err != nil {
		return nil, memerr.Wrap(memerr.SQLFailed, "graph.loadEntities", "query", err)
	}
	defer rows.Close()

	var out []*types.GraphEntity
	for rows.Next() {
		var e types.GraphEntity
		var aliasesJSON, propsJSON string
		var memoryID sql.NullString
		var sourceTs sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &aliasesJSON, &propsJSON, &e.Confidence,
			&memoryID, &sourceTs, &e.Metadata.UserID, &e.Metadata.AccessCount,
			&e.Metadata.LastAccessed, &e.Metadata.Importance); err != nil {
			return nil, err
		}
		e.Source.MemoryID = memoryID.String
		e.Source.Timestamp = sourceTs.Int64

		var aliasList []string
		_ = json.Unmarshal([]byte(aliasesJSON), &aliasList)
		e.Aliases = aliasSet(aliasList)

		e.Properties = map[string]string{}
		_ = json.Unmarshal([]byte(propsJSON), &e.Properties)

		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *Store) loadRelations(ctx context.Context) ([]*types.GraphRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sourceId, targetId, type, properties, confidence, timestamp, startTime, endTime, memoryId, userId
		FROM relations`)
	if err != nil {
		return nil, memerr.Wrap(memerr.SQLFailed, "graph.loadRelations", "query", err)
	}
	defer rows.Close()

	var out []*types.GraphRelation
	for rows.Next() {
		var r types.GraphRelation
		var propsJSON string
		var startTime, endTime sql.NullInt64
		var memoryID sql.NullString
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &propsJSON, &r.Confidence,
			&r.Temporal.Timestamp, &startTime, &endTime, &memoryID, &r.Source.UserID); err != nil {
			return nil, err
		}
		if startTime.Valid {
			v := startTime.Int64
			r.Temporal.StartTime = &v
		}
		if endTime.Valid {
			v := endTime.Int64
			r.Temporal.EndTime = &v
		}
		r.Source.MemoryID = memoryID.String

		r.Properties = map[string]string{}
		_ = json.Unmarshal([]byte(propsJSON), &r.Properties)

		out = append(out, &r)
	}
	return out, rows.Err()
}

func aliasSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

func aliasSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, a := range list {
		out[a] = struct{}{}
	}
	return out
}
