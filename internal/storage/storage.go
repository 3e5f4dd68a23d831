package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Storage keys
const (
	keyOptions     = "options"
	keyBenchStats  = "bench_stats"
	keyFirstLaunch = "first_launch"
)

// Option defaults, matching the engine's.
const (
	DefaultHash    = 16
	DefaultThreads = 1
)

// Options stores the engine settings that survive restarts.
type Options struct {
	Hash    int       `json:"hash"`    // Transposition table size in MB
	Threads int       `json:"threads"` // Search workers
	Updated time.Time `json:"updated"`
}

// DefaultOptions returns default engine options
func DefaultOptions() *Options {
	return &Options{
		Hash:    DefaultHash,
		Threads: DefaultThreads,
	}
}

// BenchStats stores the history of bench runs
type BenchStats struct {
	Runs       int       `json:"runs"`
	TotalNodes uint64    `json:"total_nodes"`
	BestNPS    uint64    `json:"best_nps"`
	LastNPS    uint64    `json:"last_nps"`
	LastHash   int       `json:"last_hash"`
	LastRun    time.Time `json:"last_run"`
}

// BenchRun is the outcome of a single bench command
type BenchRun struct {
	Nodes   uint64
	NPS     uint64
	HashMB  int
	Threads int
}

// Storage wraps BadgerDB for persistent storage
type Storage struct {
	db *badger.DB
}

// NewStorage opens the database in the platform data directory
func NewStorage() (*Storage, error) {
	dbDir, err := GetDatabaseDir()
	if err != nil {
		return nil, err
	}
	return NewStorageAt(dbDir)
}

// NewStorageAt opens the database in dir
func NewStorageAt(dir string) (*Storage, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open options store %s: %w", dir, err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// IsFirstLaunch returns true if this is the first launch
func (s *Storage) IsFirstLaunch() (bool, error) {
	var firstLaunch bool = true

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyFirstLaunch))
		if err == badger.ErrKeyNotFound {
			firstLaunch = true
			return nil
		}
		if err != nil {
			return err
		}
		firstLaunch = false
		return nil
	})

	return firstLaunch, err
}

// MarkFirstLaunchComplete marks that first launch setup is complete
func (s *Storage) MarkFirstLaunchComplete() error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyFirstLaunch), []byte("done"))
	})
}

// SaveOptions saves engine options
func (s *Storage) SaveOptions(opts *Options) error {
	opts.Updated = time.Now()
	return s.put(keyOptions, opts)
}

// LoadOptions loads engine options, returns defaults if not found
func (s *Storage) LoadOptions() (*Options, error) {
	opts := DefaultOptions()
	if err := s.get(keyOptions, opts); err != nil {
		return DefaultOptions(), err
	}

	// Stored values out of range fall back to defaults
	if opts.Hash < 1 {
		opts.Hash = DefaultHash
	}
	if opts.Threads < 1 {
		opts.Threads = DefaultThreads
	}
	return opts, nil
}

// LoadBenchStats loads bench history, returns empty stats if not found
func (s *Storage) LoadBenchStats() (*BenchStats, error) {
	stats := &BenchStats{}
	err := s.get(keyBenchStats, stats)
	return stats, err
}

// RecordBench records a bench run and updates the history
func (s *Storage) RecordBench(run BenchRun) (*BenchStats, error) {
	stats, err := s.LoadBenchStats()
	if err != nil {
		return nil, err
	}

	stats.Runs++
	stats.TotalNodes += run.Nodes
	stats.LastNPS = run.NPS
	stats.LastHash = run.HashMB
	stats.LastRun = time.Now()
	if run.NPS > stats.BestNPS {
		stats.BestNPS = run.NPS
	}

	return stats, s.put(keyBenchStats, stats)
}

func (s *Storage) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Storage) get(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil // Keep defaults
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}
