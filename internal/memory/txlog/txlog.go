// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package txlog implements the memory core's transaction log: an
// append-only record of mutations against the vector store, with named
// checkpoints and reverse-order rollback.
package txlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// OpType names the four mutation kinds the log can record.
type OpType string

const (
	OpAdd               OpType = "add"
	OpRemove            OpType = "remove"
	OpUpdate            OpType = "update"
	OpConflictResolution OpType = "resolve_conflict"
)

// Operation is one entry in the log: a type, target id, optional
// prior/new state, timestamp, and optional metadata.
type Operation struct {
	Type       OpType
	TargetID   string
	PriorState *types.MemoryRecord
	NewState   *types.MemoryRecord
	Timestamp  int64
	Metadata   map[string]string
}

// RecordStore is the narrow surface the log needs to invert an
// operation during rollback. vectorstore.Store satisfies it.
type RecordStore interface {
	Restore(rec *types.MemoryRecord) error
	Remove(id string) bool
}

// checkpoint pairs a name with the operation count at the moment it
// was taken.
type checkpoint struct {
	name   string
	offset int
}

// Log is the process's transaction log. One Log is expected to guard
// a single RecordStore; callers serialize access to it the same way
// vectorstore.Store serializes its own mutations.
type Log struct {
	mu          sync.Mutex
	store       RecordStore
	logger      *slog.Logger
	operations  []Operation
	checkpoints []checkpoint
}

// New constructs a Log bound to store.
func New(store RecordStore, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, logger: logger}
}

// RecordAdd appends an `add` operation for a freshly created record.
func (l *Log) RecordAdd(id string, metadata map[string]string) {
	l.append(Operation{Type: OpAdd, TargetID: id, Timestamp: types.NowMillis(), Metadata: metadata})
}

// RecordRemove appends a `remove` operation, retaining priorRecord so
// rollback can reinsert it verbatim.
func (l *Log) RecordRemove(id string, priorRecord *types.MemoryRecord, metadata map[string]string) {
	l.append(Operation{
		Type:       OpRemove,
		TargetID:   id,
		PriorState: priorRecord.Clone(),
		Timestamp:  types.NowMillis(),
		Metadata:   metadata,
	})
}

// RecordUpdate appends an `update` operation, retaining both the prior
// and next states.
func (l *Log) RecordUpdate(id string, prior, next *types.MemoryRecord, metadata map[string]string) {
	l.append(Operation{
		Type:       OpUpdate,
		TargetID:   id,
		PriorState: prior.Clone(),
		NewState:   next.Clone(),
		Timestamp:  types.NowMillis(),
		Metadata:   metadata,
	})
}

// RecordConflictResolution appends a `resolve_conflict` operation. The
// record passed is the one that lost the conflict and was (or will be)
// removed; its pre-resolution state is kept so rollback can restore it.
func (l *Log) RecordConflictResolution(id string, resolved *types.MemoryRecord, metadata map[string]string) {
	l.append(Operation{
		Type:       OpConflictResolution,
		TargetID:   id,
		PriorState: resolved.Clone(),
		Timestamp:  types.NowMillis(),
		Metadata:   metadata,
	})
}

func (l *Log) append(op Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.operations = append(l.operations, op)
}

// CreateCheckpoint stores the current operation count under name.
func (l *Log) CreateCheckpoint(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkpoints = append(l.checkpoints, checkpoint{name: name, offset: len(l.operations)})
}

// Rollback replays operations in reverse order back to checkpointName
// (or to the start of the log if checkpointName is empty), inverting
// each one: add -> remove, remove -> add(priorRecord),
// update -> replace with prior, resolve_conflict -> restore(priorRecord).
//
// Every step is attempted even if an earlier one fails; failures are
// counted and logged at error level, and an aggregate error is
// returned once all steps have run. A rollback to a named checkpoint
// trims the log to that checkpoint's offset; a full rollback clears
// it entirely.
func (l *Log) Rollback(ctx context.Context, checkpointName string) error {
	l.mu.Lock()
	offset := 0
	if checkpointName != "" {
		found := false
		for i := len(l.checkpoints) - 1; i >= 0; i-- {
			if l.checkpoints[i].name == checkpointName {
				offset = l.checkpoints[i].offset
				found = true
				break
			}
		}
		if !found {
			l.mu.Unlock()
			return fmt.Errorf("txlog: unknown checkpoint %q", checkpointName)
		}
	}
	toUndo := make([]Operation, len(l.operations)-offset)
	copy(toUndo, l.operations[offset:])
	l.mu.Unlock()

	var errCount int
	for i := len(toUndo) - 1; i >= 0; i-- {
		if err := l.invert(toUndo[i]); err != nil {
			errCount++
			l.logger.Error("txlog rollback step failed",
				"op_type", toUndo[i].Type, "target_id", toUndo[i].TargetID, "error", err)
		}
	}

	l.mu.Lock()
	l.operations = l.operations[:offset]
	if offset == 0 {
		l.checkpoints = nil
	} else {
		trimmed := l.checkpoints[:0]
		for _, cp := range l.checkpoints {
			if cp.offset <= offset {
				trimmed = append(trimmed, cp)
			}
		}
		l.checkpoints = trimmed
	}
	l.mu.Unlock()

	if errCount > 0 {
		return fmt.Errorf("txlog: rollback failed on %d of %d steps", errCount, len(toUndo))
	}
	return nil
}

func (l *Log) invert(op Operation) error {
	switch op.Type {
	case OpAdd:
		l.store.Remove(op.TargetID)
		return nil
	case OpRemove:
		if op.PriorState == nil {
			return fmt.Errorf("remove op for %s has no prior state", op.TargetID)
		}
		return l.store.Restore(op.PriorState)
	case OpUpdate:
		if op.PriorState == nil {
			return fmt.Errorf("update op for %s has no prior state", op.TargetID)
		}
		return l.store.Restore(op.PriorState)
	case OpConflictResolution:
		if op.PriorState == nil {
			return fmt.Errorf("resolve_conflict op for %s has no prior state", op.TargetID)
		}
		return l.store.Restore(op.PriorState)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// Commit clears the log's operations and checkpoints, and logs the
// transaction's id and duration.
func (l *Log) Commit(txID string, startedAt time.Time) {
	l.mu.Lock()
	l.operations = nil
	l.checkpoints = nil
	l.mu.Unlock()

	if txID == "" {
		txID = uuid.NewString()
	}
	l.logger.Info("transaction committed", "tx_id", txID, "duration", time.Since(startedAt))
}

// Len reports the current number of uncommitted operations.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.operations)
}
