// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryTypeProtected(t *testing.T) {
	assert.True(t, Pinned.Protected())
	assert.True(t, Profile.Protected())
	assert.False(t, ShortTerm.Protected())
	assert.False(t, MidTerm.Protected())
	assert.False(t, LongTerm.Protected())
}

func TestMemoryTypeWeightsCanonicalTable(t *testing.T) {
	assert.Equal(t, 1.5, MemoryTypeWeights[Pinned])
	assert.Equal(t, 1.3, MemoryTypeWeights[Profile])
	assert.Equal(t, 1.2, MemoryTypeWeights[LongTerm])
	assert.Equal(t, 1.0, MemoryTypeWeights[MidTerm])
	assert.Equal(t, 0.8, MemoryTypeWeights[ShortTerm])
}

func TestCloneIsDeep(t *testing.T) {
	r := &MemoryRecord{
		ID:        "m1",
		Embedding: []float32{1, 2, 3},
		Metadata: MemoryMetadata{
			Tags: []string{"a", "b"},
		},
	}
	cp := r.Clone()
	cp.Embedding[0] = 99
	cp.Metadata.Tags[0] = "z"

	assert.Equal(t, float32(1), r.Embedding[0])
	assert.Equal(t, "a", r.Metadata.Tags[0])
}

func TestMemoryTypeValid(t *testing.T) {
	assert.True(t, MemoryType("pinned").Valid())
	assert.False(t, MemoryType("bogus").Valid())
}
