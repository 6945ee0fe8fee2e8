// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// lockStripes is the number of row-lock stripes. Writers to the same
// (run, phase) key always hash to the same stripe; different phases rarely
// contend.
const lockStripes = 64

// Config holds configuration for the phase state store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode (no disk persistence). For testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is used for store warnings and BadgerDB's internal logging.
	// If nil, slog.Default() is used and Badger logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC runs.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults: durable writes, 5-minute GC.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration for tests: in-memory, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the durable phase state manager.
//
// Description:
//
//	Keyed by (run, phase). All mutations share one invariant: the commit
//	happens before the row lock is released, and any error during lookup,
//	mutation or commit is caught, logged and converted to a boolean false
//	return. Version increments unconditionally under the row lock; exactly
//	one scheduler instance owns a run at a time, so no compare-and-swap
//	guard is needed (see DESIGN.md for the multi-writer caveat).
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	locks [lockStripes]sync.Mutex

	txns atomic.Int64

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open creates a Store with the given configuration.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the path is missing or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if cfg.GCInterval > 0 {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}

	return s, nil
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("state store value log GC error",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// key builds the row key for a (run, phase) pair.
func key(runID, phaseID string) []byte {
	return []byte("run/" + runID + "/phase/" + phaseID)
}

// lockFor returns the lock stripe for a row key.
func (s *Store) lockFor(k []byte) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(k)
	return &s.locks[h.Sum32()%lockStripes]
}

// TxnCount returns the number of committed write transactions. Test seam
// for the zero-write property of empty update requests.
func (s *Store) TxnCount() int64 {
	return s.txns.Load()
}

// LoadOrCreateDefault returns the persisted state for a phase, creating an
// all-zero default row on first read.
//
// Description:
//
//	Never fails: any lookup or creation error is logged and an in-memory
//	all-zero default is returned instead, so callers can always proceed.
func (s *Store) LoadOrCreateDefault(ctx context.Context, runID, phaseID string) PhaseState {
	k := key(runID, phaseID)

	var st PhaseState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err == nil {
		return st
	}

	if !errors.Is(err, badger.ErrKeyNotFound) {
		s.logger.Warn("phase state lookup failed, using defaults",
			slog.String("run_id", runID),
			slog.String("phase", phaseID),
			slog.String("error", err.Error()),
		)
		return PhaseState{}
	}

	// First read: persist the all-zero default so later updates find a row.
	def := PhaseState{}
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	if ok := s.commit(k, &def); !ok {
		s.logger.Warn("phase state default row creation failed",
			slog.String("run_id", runID),
			slog.String("phase", phaseID),
		)
	}
	return def
}

// Update applies an UpdateRequest to a phase's row.
//
// Description:
//
//	An empty request performs zero writes and returns true immediately,
//	without opening a transaction. Otherwise the row lock is taken, the
//	current row is loaded, the request applied (explicit sets win over
//	increments), Version bumped and LastAttemptAt stamped, and the result
//	committed before the lock is released.
//
// Outputs:
//
//	bool - False if the row does not exist or the commit fails. Errors are
//	    logged, never propagated.
func (s *Store) Update(ctx context.Context, runID, phaseID string, req UpdateRequest) bool {
	if req.empty() {
		return true
	}

	k := key(runID, phaseID)
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	st, ok := s.load(k)
	if !ok {
		s.logger.Warn("phase state update on missing row",
			slog.String("run_id", runID),
			slog.String("phase", phaseID),
		)
		return false
	}

	req.apply(&st)
	s.stamp(&st)

	return s.commit(k, &st)
}

// MarkComplete sets the terminal completion timestamp.
//
// The row is created if missing: a phase may reach terminal state without
// any prior counter mutation.
func (s *Store) MarkComplete(ctx context.Context, runID, phaseID string) bool {
	return s.markTerminal(runID, phaseID, "", true)
}

// MarkFailed sets the terminal failure timestamp and the failure reason.
func (s *Store) MarkFailed(ctx context.Context, runID, phaseID, reason string) bool {
	return s.markTerminal(runID, phaseID, reason, false)
}

func (s *Store) markTerminal(runID, phaseID, reason string, completed bool) bool {
	k := key(runID, phaseID)
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	st, ok := s.load(k)
	if !ok {
		st = PhaseState{}
	}

	now := time.Now().UTC()
	if completed {
		st.CompletedAt = &now
	} else {
		st.FailedAt = &now
		st.LastFailureReason = &reason
	}
	s.stamp(&st)

	return s.commit(k, &st)
}

// load reads a row without taking the lock. Callers that intend to write
// must already hold the row lock.
func (s *Store) load(k []byte) (PhaseState, bool) {
	var st PhaseState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &st)
		})
	})
	if err != nil {
		return PhaseState{}, false
	}
	return st, true
}

// stamp bumps Version and LastAttemptAt. Caller holds the row lock.
func (s *Store) stamp(st *PhaseState) {
	now := time.Now().UTC()
	st.Version++
	st.LastAttemptAt = &now
}

// commit writes the row in one transaction. Caller holds the row lock.
func (s *Store) commit(k []byte, st *PhaseState) bool {
	payload, err := json.Marshal(st)
	if err != nil {
		s.logger.Warn("phase state marshal failed",
			slog.String("key", string(k)),
			slog.String("error", err.Error()),
		)
		return false
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, payload)
	})
	if err != nil {
		s.logger.Warn("phase state commit failed",
			slog.String("key", string(k)),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.txns.Add(1)
	return true
}
