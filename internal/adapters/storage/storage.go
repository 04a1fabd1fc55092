// Package storage is a small key-value layer over Pebble.
//
// Writes go out with NoSync and a background goroutine syncs the WAL on a
// fixed interval, so a crash loses at most one interval of acknowledged writes.
// Close performs a final sync.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	defaultSyncInterval = 100 * time.Millisecond
	defaultCacheSize    = 32 << 20
	defaultMemTableSize = 16 << 20
)

// Mutation is one entry of an atomic batch. A nil Value deletes Key.
type Mutation struct {
	Key   []byte
	Value []byte
}

// Option configures Storage.
type Option func(*Storage)

// WithSyncInterval sets how often the WAL is synced.
func WithSyncInterval(d time.Duration) Option {
	return func(s *Storage) {
		if d > 0 {
			s.syncInterval = d
		}
	}
}

// WithCacheSize sets the block cache size in bytes.
func WithCacheSize(bytes int64) Option {
	return func(s *Storage) {
		if bytes > 0 {
			s.cacheSize = bytes
		}
	}
}

// Storage is a Pebble-backed key-value store.
type Storage struct {
	db           *pebble.DB
	syncInterval time.Duration
	cacheSize    int64

	stopSync chan struct{}
	wg       sync.WaitGroup
	closed   sync.Once
}

// New opens (or creates) a store at path and starts the sync loop.
func New(path string, opts ...Option) (*Storage, error) {
	s := &Storage{
		syncInterval: defaultSyncInterval,
		cacheSize:    defaultCacheSize,
		stopSync:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	cache := pebble.NewCache(s.cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       cache,
		MemTableSize:                defaultMemTableSize,
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	s.db = db

	s.startSyncLoop()
	return s, nil
}

// Get returns a copy of the value for key, or nil if absent.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a key-value pair.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Delete removes key.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// Apply commits muts atomically: either all are written or none.
func (s *Storage) Apply(muts []Mutation) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, m := range muts {
		var err error
		if m.Value == nil {
			err = batch.Delete(m.Key, nil)
		} else {
			err = batch.Set(m.Key, m.Value, nil)
		}
		if err != nil {
			return err
		}
	}

	return batch.Commit(pebble.NoSync)
}

// IteratePrefix calls fn for each pair whose key starts with prefix, in key order.
// Returning an error from fn stops iteration and returns that error.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound returns the exclusive upper bound of a prefix scan, or nil
// when the prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close stops the sync loop, syncs once more and closes the database.
func (s *Storage) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.stopSync)
		s.wg.Wait()

		if err = s.sync(); err != nil {
			_ = s.db.Close()
			return
		}
		err = s.db.Close()
	})
	return err
}

func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
