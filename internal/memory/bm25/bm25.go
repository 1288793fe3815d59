// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bm25 implements the memory core's BM25 Index: a full-text
// keyword index keyed on memory ids, backed by an embedded SQLite FTS5
// table with an automatic LIKE-predicate fallback, and a per-user
// write queue to avoid SQLite lock contention.
package bm25

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aleutian-labs/memcore/internal/memory/memerr"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

const (
	defaultQueryTimeout = 200 * time.Millisecond
	defaultIndexTimeout = 500 * time.Millisecond
)

// Hit is one search result: a memory id with its normalized score.
type Hit struct {
	MemoryID string
	Score    float64
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	UserID   string
	Type     types.MemoryType
	Limit    int
	MinScore float64
}

// Index is the BM25 full-text index over memory records.
type Index struct {
	db      *sql.DB
	queues  *userQueues
	logger  *slog.Logger

	queryTimeout time.Duration
	indexTimeout time.Duration

	ftsAvailable bool
}

// Open creates (or reuses) the SQLite database at path and ensures the
// schema exists. It probes for FTS5 support at startup; when
// unavailable the index transparently uses the LIKE-predicate fallback
// for every query.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, memerr.Wrap(memerr.SQLFailed, "bm25.Open", "open database", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, memerr.Wrap(memerr.SQLFailed, "bm25.Open", "apply pragma", err)
		}
	}

	idx := &Index{
		db:           db,
		queues:       newUserQueues(),
		logger:       logger,
		queryTimeout: defaultQueryTimeout,
		indexTimeout: defaultIndexTimeout,
	}

	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	_, ftsErr := idx.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_fts USING fts5(
			memoryId UNINDEXED,
			userId UNINDEXED,
			type UNINDEXED,
			content,
			importance UNINDEXED,
			timestamp UNINDEXED
		)`)
	if ftsErr == nil {
		idx.ftsAvailable = true
		return nil
	}

	idx.logger.Warn("bm25: FTS5 unavailable, degrading to LIKE-predicate search",
		slog.String("error", ftsErr.Error()))

	_, err := idx.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_plain (
			memoryId   TEXT PRIMARY KEY,
			userId     TEXT NOT NULL,
			type       TEXT NOT NULL,
			content    TEXT NOT NULL,
			importance REAL NOT NULL,
			timestamp  INTEGER NOT NULL
		)`)
	if err != nil {
		return memerr.Wrap(memerr.SQLFailed, "bm25.migrate", "create fallback table", err)
	}
	return nil
}

func (idx *Index) table() string {
	if idx.ftsAvailable {
		return "memory_fts"
	}
	return "memory_plain"
}

// Close closes the underlying database.
func (idx *Index) Close() error { return idx.db.Close() }

// Index inserts or updates a single record, serialized through that
// user's write queue.
func (idx *Index) Index(ctx context.Context, rec *types.MemoryRecord) error {
	return idx.queues.run(rec.Metadata.UserID, func() error {
		return idx.indexOne(ctx, rec)
	})
}

// IndexBatch inserts or updates several records for the same user
// within one serialized write.
func (idx *Index) IndexBatch(ctx context.Context, userID string, recs []*types.MemoryRecord) error {
	return idx.queues.run(userID, func() error {
		for _, rec := range recs {
			if err := idx.indexOne(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (idx *Index) indexOne(ctx context.Context, rec *types.MemoryRecord) error {
	cctx, cancel := context.WithTimeout(ctx, idx.indexTimeout)
	defer cancel()

	content := indexTokens(rec.Content)

	_, err := idx.db.ExecContext(cctx, fmt.Sprintf(`
		DELETE FROM %s WHERE memoryId = ?`, idx.table()), rec.ID)
	if err != nil {
		return classifyErr(cctx, "bm25.Index", err)
	}

	_, err = idx.db.ExecContext(cctx, fmt.Sprintf(`
		INSERT INTO %s (memoryId, userId, type, content, importance, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`, idx.table()),
		rec.ID, rec.Metadata.UserID, string(rec.Metadata.Type), content,
		rec.Metadata.Importance, rec.Metadata.Timestamp)
	if err != nil {
		return classifyErr(cctx, "bm25.Index", err)
	}
	return nil
}

// Remove deletes a record from the index, serialized per user.
func (idx *Index) Remove(ctx context.Context, userID, id string) error {
	return idx.queues.run(userID, func() error {
		cctx, cancel := context.WithTimeout(ctx, idx.indexTimeout)
		defer cancel()
		_, err := idx.db.ExecContext(cctx, fmt.Sprintf(`DELETE FROM %s WHERE memoryId = ?`, idx.table()), id)
		if err != nil {
			return classifyErr(cctx, "bm25.Remove", err)
		}
		return nil
	})
}

// Search scores candidates by count of matched keywords normalized to
// [0,1], applying the requested filters. On timeout the caller
// receives an empty result, since BM25 is a read path and read paths
// never fail the caller.
func (idx *Index) Search(ctx context.Context, query string, opts SearchOptions) []Hit {
	keywords := queryKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, idx.queryTimeout)
	defer cancel()

	var sqlBuilder strings.Builder
	args := []any{}

	if idx.ftsAvailable {
		sqlBuilder.WriteString(fmt.Sprintf(`SELECT memoryId, content, userId, type FROM %s WHERE content MATCH ?`, idx.table()))
		args = append(args, buildMatchQuery(keywords))
	} else {
		sqlBuilder.WriteString(fmt.Sprintf(`SELECT memoryId, content, userId, type FROM %s WHERE (`, idx.table()))
		for i, kw := range keywords {
			if i > 0 {
				sqlBuilder.WriteString(" OR ")
			}
			sqlBuilder.WriteString("content LIKE ?")
			args = append(args, "%"+kw+"%")
		}
		sqlBuilder.WriteString(")")
	}
	if opts.UserID != "" {
		sqlBuilder.WriteString(" AND userId = ?")
		args = append(args, opts.UserID)
	}
	if opts.Type != "" {
		sqlBuilder.WriteString(" AND type = ?")
		args = append(args, string(opts.Type))
	}

	rows, err := idx.db.QueryContext(cctx, sqlBuilder.String(), args...)
	if err != nil {
		idx.logger.Warn("bm25: search failed, returning empty result", slog.String("error", err.Error()))
		return nil
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var memoryID, content, userID, typ string
		if err := rows.Scan(&memoryID, &content, &userID, &typ); err != nil {
			continue
		}
		matched := 0
		lower := strings.ToLower(content)
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				matched++
			}
		}
		score := float64(matched) / float64(len(keywords))
		if score < opts.MinScore {
			continue
		}
		hits = append(hits, Hit{MemoryID: memoryID, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits
}

// buildMatchQuery composes an FTS5 MATCH expression OR-ing every
// keyword, each quoted as a phrase. The LIKE predicate is built
// separately in Search and only when FTS5 is unavailable.
func buildMatchQuery(keywords []string) string {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = `"` + strings.ReplaceAll(kw, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// classifyErr maps a context deadline into memerr.SQLTimeout and
// anything else into memerr.SQLFailed.
func classifyErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return memerr.Wrap(memerr.SQLTimeout, op, "sql operation timed out", err)
	}
	return memerr.Wrap(memerr.SQLFailed, op, "sql operation failed", err)
}
