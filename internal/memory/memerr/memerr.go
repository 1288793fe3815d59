// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memerr defines the memory core's error taxonomy.
//
// Every component wraps failures in a *Error carrying a stable Code so
// callers can branch with errors.Is/errors.As instead of matching strings.
package memerr

import (
	"errors"
	"fmt"
)

// Code is a stable error classification used across the memory core.
type Code string

const (
	// StoreNotReady is returned when an API is called before the owning
	// component finished initialization.
	StoreNotReady Code = "STORE_NOT_READY"

	// EmbeddingFailed marks an embedding call that exhausted retries. The
	// caller may still receive a usable (degraded) vector from the
	// fallback path; this code is only attached when even the fallback
	// could not produce a result.
	EmbeddingFailed Code = "EMBEDDING_FAILED"

	// PersistenceFailed marks a vector-store persistence failure, such as
	// existing state that cannot be loaded at construction. A failed
	// background JSON write is logged, not returned, and its dirty flag is
	// restored so the write is retried on the next trigger.
	PersistenceFailed Code = "PERSISTENCE_FAILED"

	// SQLTimeout marks a BM25 or graph SQL operation that exceeded its
	// per-call timeout.
	SQLTimeout Code = "SQL_TIMEOUT"

	// SQLFailed marks a BM25 or graph SQL operation that failed for a
	// reason other than timeout.
	SQLFailed Code = "SQL_FAILED"

	// InputValidationFailed marks malformed caller-supplied options.
	InputValidationFailed Code = "INPUT_VALIDATION_FAILED"

	// TransactionRollbackFailed is critical: a rollback itself failed and
	// the store may be left in an inconsistent state.
	TransactionRollbackFailed Code = "TRANSACTION_ROLLBACK_FAILED"

	// HardLimitUnsatisfiable marks a lifecycle hard-cap enforcement that
	// could not bring a user under the cap because the protected
	// (pinned/profile) records alone exceed it.
	HardLimitUnsatisfiable Code = "HARD_LIMIT_UNSATISFIABLE"
)

// Error is the memory core's wrapped error type. It is comparable via
// errors.Is against the sentinels below and exposes Code via errors.As.
type Error struct {
	Code    Code
	Op      string // component/operation that raised the error, e.g. "vectorstore.Add"
	Err     error  // underlying cause, may be nil
	Message string // human-readable detail
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target carries the same Code, so callers can write
// errors.Is(err, memerr.New(memerr.StoreNotReady, "", "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New builds an *Error with no wrapped cause.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap builds an *Error around an existing cause.
func Wrap(code Code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// CodeOf extracts the Code carried by err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
