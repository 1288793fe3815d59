// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(SQLFailed, "bm25.Search", "query failed", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "bm25.Search")
	assert.Contains(t, err.Error(), "boom")
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(StoreNotReady, "vectorstore.Add", "not ready")
	b := New(StoreNotReady, "vectorstore.Search", "not ready")
	c := New(SQLFailed, "bm25.Search", "failed")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestCodeOf(t *testing.T) {
	err := New(HardLimitUnsatisfiable, "lifecycle.enforceCap", "protected records exceed cap")

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, HardLimitUnsatisfiable, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}
