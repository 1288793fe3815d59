// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package asyncutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutSucceeds(t *testing.T) {
	err := WithTimeout(context.Background(), 50*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatchMapPreservesOrderAndIsolatesFailures(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	results, errs := BatchMap(context.Background(), items, 2, func(ctx context.Context, n int) (int, error) {
		if n == 3 {
			return 0, errors.New("boom")
		}
		return n * 10, nil
	})

	assert.Equal(t, []int{10, 20, 0, 40, 50}, results)
	require.Len(t, errs, 5)
	assert.Nil(t, errs[0])
	assert.Error(t, errs[2])
}

func TestSafeSettleRecoversPanic(t *testing.T) {
	err := SafeSettle(func() error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected")
}

func TestSafeSettlePassesThroughError(t *testing.T) {
	want := errors.New("plain failure")
	err := SafeSettle(func() error { return want })
	assert.Equal(t, want, err)
}
