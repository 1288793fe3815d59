// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vectorstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// FilePersister implements Persister over two JSON files under dir:
// "vectors.json" holds the full records, "index.json" holds the
// lightweight per-user id index rebuilt on load for a fast startup
// sanity check.
type FilePersister struct {
	dir string
}

// NewFilePersister returns a FilePersister rooted at dir, creating dir
// if it does not exist.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create data dir: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

func (p *FilePersister) vectorsPath() string { return filepath.Join(p.dir, "vectors.json") }
func (p *FilePersister) indexPath() string   { return filepath.Join(p.dir, "index.json") }

type wireRecord struct {
	ID           string              `json:"id"`
	Content      string              `json:"content"`
	Embedding    []float32           `json:"embedding"`
	UserID       string              `json:"userId"`
	Type         types.MemoryType    `json:"type"`
	Timestamp    int64               `json:"timestamp"`
	Importance   float64             `json:"importance"`
	Category     string              `json:"category,omitempty"`
	Tags         []string            `json:"tags,omitempty"`
	AccessCount  int64               `json:"accessCount"`
	LastAccessed int64               `json:"lastAccessed"`
}

type userIndex map[string][]string // userId -> record ids, the "index.json" secondary view

// Load reads vectors.json, returning an empty store on a missing file
// (first run) rather than an error.
func (p *FilePersister) Load() (map[string]*types.MemoryRecord, error) {
	data, err := os.ReadFile(p.vectorsPath())
	if os.IsNotExist(err) {
		return map[string]*types.MemoryRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	var wire []wireRecord
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("vectorstore: decode vectors.json: %w", err)
	}

	out := make(map[string]*types.MemoryRecord, len(wire))
	for _, w := range wire {
		out[w.ID] = &types.MemoryRecord{
			ID:        w.ID,
			Content:   w.Content,
			Embedding: w.Embedding,
			Metadata: types.MemoryMetadata{
				UserID:     w.UserID,
				Type:       w.Type,
				Timestamp:  w.Timestamp,
				Importance: w.Importance,
				Category:   w.Category,
				Tags:       w.Tags,
			},
			AccessCount:  w.AccessCount,
			LastAccessed: w.LastAccessed,
		}
	}
	return out, nil
}

// Save writes both JSON files atomically: each is written to a sibling
// "*.tmp" file and then renamed over the target.
func (p *FilePersister) Save(records map[string]*types.MemoryRecord) error {
	wire := make([]wireRecord, 0, len(records))
	idx := make(userIndex)
	for _, rec := range records {
		wire = append(wire, wireRecord{
			ID:           rec.ID,
			Content:      rec.Content,
			Embedding:    rec.Embedding,
			UserID:       rec.Metadata.UserID,
			Type:         rec.Metadata.Type,
			Timestamp:    rec.Metadata.Timestamp,
			Importance:   rec.Metadata.Importance,
			Category:     rec.Metadata.Category,
			Tags:         rec.Metadata.Tags,
			AccessCount:  rec.AccessCount,
			LastAccessed: rec.LastAccessed,
		})
		idx[rec.Metadata.UserID] = append(idx[rec.Metadata.UserID], rec.ID)
	}

	if err := atomicWriteJSON(p.vectorsPath(), wire); err != nil {
		return fmt.Errorf("vectorstore: write vectors.json: %w", err)
	}
	if err := atomicWriteJSON(p.indexPath(), idx); err != nil {
		return fmt.Errorf("vectorstore: write index.json: %w", err)
	}
	return nil
}

// atomicWriteJSON marshals v and writes it to path via a temp file in
// the same directory followed by os.Rename, so a crash mid-write never
// leaves a truncated target file.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
