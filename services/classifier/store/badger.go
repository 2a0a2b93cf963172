// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout: "rows\x00<dataset>\x00<seq:8>" for row payloads, where seq
// is a big-endian uint64 from a per-dataset Badger sequence. Iterating
// the dataset prefix yields rows in ingestion order, which keeps the
// first-row-wins dedup stable across restarts. The NUL separator keeps
// dataset ids from colliding with each other's prefixes.
const (
	rowKeyPrefix = "rows\x00"
	seqKeyPrefix = "seq\x00"
	seqBandwidth = 128
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives Badger's internal log lines. If nil, Badger's
	// internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults: durable writes and
// a 5-minute GC cadence.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns configuration for tests: in-memory, no
// sync, no GC.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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

// BadgerStore is a durable FeatureStore over BadgerDB. Rows are stored
// as JSON values under per-dataset sequence keys.
//
// Thread Safety: safe for concurrent use. Badger transactions provide
// the isolation; the store itself keeps no mutable state beyond the
// sequence cache.
type BadgerStore struct {
	db *badger.DB

	mu        sync.Mutex
	sequences map[string]*badger.Sequence

	gcStop chan struct{}
	gcDone chan struct{}
}

// OpenBadgerStore opens (and creates, if needed) a BadgerStore with the
// given configuration. The caller must Close the store when done.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("store: create database directory %s: %w", cfg.Path, err)
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
		return nil, fmt.Errorf("store: open badger database: %w", err)
	}

	s := &BadgerStore{
		db:        db,
		sequences: make(map[string]*badger.Sequence),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// PutRows appends rows to a dataset. Rows are serialized individually
// so partial batches survive a crash up to the last committed
// transaction.
func (s *BadgerStore) PutRows(ctx context.Context, datasetID string, rows []FeatureRow) error {
	if datasetID == "" {
		return fmt.Errorf("store: dataset id must not be empty")
	}
	seq, err := s.sequence(datasetID)
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := seq.Next()
		if err != nil {
			return fmt.Errorf("store: next sequence for %q: %w", datasetID, err)
		}
		value, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("store: encode row %d of %q: %w", i, datasetID, err)
		}
		if err := wb.Set(rowKey(datasetID, n), value); err != nil {
			return fmt.Errorf("store: stage row %d of %q: %w", i, datasetID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("store: commit rows for %q: %w", datasetID, err)
	}
	return nil
}

// Rows returns all rows of a dataset in ingestion order. Returns
// ErrDatasetNotFound when no rows exist under the dataset prefix.
func (s *BadgerStore) Rows(ctx context.Context, datasetID string) ([]FeatureRow, error) {
	prefix := datasetPrefix(datasetID)
	var rows []FeatureRow

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var row FeatureRow
				if err := json.Unmarshal(val, &row); err != nil {
					return fmt.Errorf("store: decode row in %q: %w", datasetID, err)
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrDatasetNotFound, datasetID)
	}
	return rows, nil
}

// Datasets returns the sorted distinct dataset ids with at least one
// stored row.
func (s *BadgerStore) Datasets(ctx context.Context) ([]string, error) {
	prefix := []byte(rowKeyPrefix)
	seen := make(map[string]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			rest := key[len(prefix):]
			if i := bytes.IndexByte(rest, 0); i >= 0 {
				seen[string(rest[:i])] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close releases sequences, stops GC, and closes the database.
func (s *BadgerStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range s.sequences {
		// Release returns unused sequence numbers; gaps are harmless
		// here so the error is only logged.
		if err := seq.Release(); err != nil {
			slog.Warn("Failed to release badger sequence", "error", err)
		}
	}
	return s.db.Close()
}

func (s *BadgerStore) sequence(datasetID string) (*badger.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq, ok := s.sequences[datasetID]; ok {
		return seq, nil
	}
	seq, err := s.db.GetSequence([]byte(seqKeyPrefix+datasetID), seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("store: sequence for %q: %w", datasetID, err)
	}
	s.sequences[datasetID] = seq
	return seq, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && err != badger.ErrNoRewrite && logger != nil {
				logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func datasetPrefix(datasetID string) []byte {
	return []byte(rowKeyPrefix + datasetID + "\x00")
}

func rowKey(datasetID string, seq uint64) []byte {
	key := make([]byte, 0, len(rowKeyPrefix)+len(datasetID)+9)
	key = append(key, rowKeyPrefix...)
	key = append(key, datasetID...)
	key = append(key, 0)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}
