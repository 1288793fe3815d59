// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package types defines the memory core's shared data model: the
// MemoryRecord at the center of every component, the knowledge-graph
// entity/relation types, and the enumerated closed sets that drive
// lifecycle and rerank behavior.
package types

import "time"

// MemoryType is the closed set of memory tiers. Pinned and profile
// records are exempt from all automatic lifecycle transitions and
// deletions.
type MemoryType string

const (
	ShortTerm MemoryType = "shortTerm"
	MidTerm   MemoryType = "midTerm"
	LongTerm  MemoryType = "longTerm"
	Pinned    MemoryType = "pinned"
	Profile   MemoryType = "profile"
)

// Protected reports whether t is exempt from lifecycle transitions and
// deletion.
func (t MemoryType) Protected() bool {
	return t == Pinned || t == Profile
}

// Valid reports whether t is one of the closed set of memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case ShortTerm, MidTerm, LongTerm, Pinned, Profile:
		return true
	default:
		return false
	}
}

// MemoryTypeWeights is the single canonical rerank weight table: the
// ambiguity between inline per-call weights and a separately-named
// MEMORY_TYPE_WEIGHTS constant is resolved by using this one table
// everywhere a type weight is needed.
var MemoryTypeWeights = map[MemoryType]float64{
	Pinned:    1.5,
	Profile:   1.3,
	LongTerm:  1.2,
	MidTerm:   1.0,
	ShortTerm: 0.8,
}

// MemoryMetadata carries the classification fields of a MemoryRecord.
type MemoryMetadata struct {
	UserID     string
	Type       MemoryType
	Timestamp  int64 // epoch milliseconds when created
	Importance float64
	Category   string
	Tags       []string
}

// MemoryRecord is the central entity shared by every component. Its id
// is immutable once assigned; Embedding, when non-empty, has exactly
// the embedding service's configured dimension and unit L2 norm.
type MemoryRecord struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  MemoryMetadata

	AccessCount  int64
	LastAccessed int64 // epoch milliseconds, updated on every successful retrieval hit
}

// Clone returns a deep copy safe to mutate independently of r, used by
// the transaction log to snapshot pre-images.
func (r *MemoryRecord) Clone() *MemoryRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Embedding != nil {
		cp.Embedding = make([]float32, len(r.Embedding))
		copy(cp.Embedding, r.Embedding)
	}
	if r.Metadata.Tags != nil {
		cp.Metadata.Tags = make([]string, len(r.Metadata.Tags))
		copy(cp.Metadata.Tags, r.Metadata.Tags)
	}
	return &cp
}

// NowMillis returns the current time as epoch milliseconds, the unit
// MemoryRecord.Metadata.Timestamp and LastAccessed are stored in.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// EntityType is the closed set of knowledge-graph entity kinds.
type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityLocation     EntityType = "LOCATION"
	EntityEvent        EntityType = "EVENT"
	EntityConcept      EntityType = "CONCEPT"
	EntityProduct      EntityType = "PRODUCT"
	EntityTime         EntityType = "TIME"
	EntitySkill        EntityType = "SKILL"
	EntityPreference   EntityType = "PREFERENCE"
)

// EntityTypeImportance is the static type→importance table used to
// derive a GraphEntity's importance from extractor confidence, scaled
// by confidence.
var EntityTypeImportance = map[EntityType]float64{
	EntityPerson:       0.8,
	EntityOrganization: 0.7,
	EntityLocation:     0.6,
	EntityEvent:        0.6,
	EntityConcept:      0.5,
	EntityProduct:      0.6,
	EntityTime:         0.4,
	EntitySkill:        0.7,
	EntityPreference:   0.7,
}

// EntitySource records provenance of a GraphEntity within the text it
// was extracted from.
type EntitySource struct {
	MemoryID  string
	Timestamp int64
}

// EntityMetadata carries per-user access bookkeeping for a GraphEntity,
// mirroring MemoryRecord's access counters so upgrade/downgrade logic
// can treat entities uniformly.
type EntityMetadata struct {
	UserID       string
	AccessCount  int64
	LastAccessed int64
	Importance   float64
}

// GraphEntity is a knowledge-graph node.
type GraphEntity struct {
	ID         string
	Name       string
	Type       EntityType
	Aliases    map[string]struct{}
	Properties map[string]string
	Confidence float64
	Source     EntitySource
	Metadata   EntityMetadata
}

// RelationType is the closed set of knowledge-graph edge kinds.
type RelationType string

const (
	RelWorksAt         RelationType = "WORKS_AT"
	RelLocatedIn       RelationType = "LOCATED_IN"
	RelKnows           RelationType = "KNOWS"
	RelLikes           RelationType = "LIKES"
	RelDislikes        RelationType = "DISLIKES"
	RelHasSkill        RelationType = "HAS_SKILL"
	RelParticipatedIn  RelationType = "PARTICIPATED_IN"
	RelRelatedTo       RelationType = "RELATED_TO"
	RelOwns            RelationType = "OWNS"
	RelHappenedAt      RelationType = "HAPPENED_AT"
)

// RelationTemporal records the timestamps attached to a GraphRelation.
type RelationTemporal struct {
	Timestamp int64
	StartTime *int64
	EndTime   *int64
}

// RelationSource records the provenance of a GraphRelation.
type RelationSource struct {
	MemoryID string
	UserID   string
}

// GraphRelation is a knowledge-graph edge. Duplicate (SourceID, Type,
// TargetID) triples upsert in place; on entity deletion all
// referencing relations cascade-delete.
type GraphRelation struct {
	ID         string
	SourceID   string
	TargetID   string
	Type       RelationType
	Properties map[string]string
	Confidence float64
	Temporal   RelationTemporal
	Source     RelationSource
}

// NeighborDirection selects which edges a neighbor query traverses.
type NeighborDirection string

const (
	DirOut  NeighborDirection = "out"
	DirIn   NeighborDirection = "in"
	DirBoth NeighborDirection = "both"
)
