// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package asyncutil collects the memory core's small concurrency
// primitives: context-scoped timeout wrapping, bounded-concurrency
// batch map, and panic-safe goroutine settling.
package asyncutil

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// WithTimeout runs fn with a derived context bounded by d and returns
// its error, or ctx.Err() if d elapses first. The embedding service
// wraps its provider calls through this helper so a hung backend can't
// block its caller past the configured budget; the BM25 index sets its
// own context deadlines instead.
func WithTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

// BatchMap runs fn over every item in items with at most concurrency
// goroutines in flight at once, collecting results in input order. A
// single item's error does not cancel the others — it is recorded at
// its slot and fn is simply not retried.
func BatchMap[T any, R any](ctx context.Context, items []T, concurrency int, fn func(context.Context, T) (R, error)) ([]R, []error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]R, len(items))
	errs := make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				errs[i] = gctx.Err()
				return nil
			}
			defer func() { <-sem }()

			r, err := fn(gctx, item)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait() // per-item errors already captured in errs; never aborts the batch

	return results, errs
}

// SafeSettle runs fn and recovers any panic into an error, so a
// panicking callback returns an error to its caller instead of
// unwinding the goroutine.
func SafeSettle(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("asyncutil: recovered panic: %v", r)
		}
	}()
	return fn()
}
