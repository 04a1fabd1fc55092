package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/nikhlu07/Credo/internal/adapters/storage"
	"github.com/nikhlu07/Credo/pkg/metrics"
)

// PebbleKV adapts storage.Storage to KV.
type PebbleKV struct {
	db *storage.Storage
}

// OpenPebble opens a pebble-backed KV at dir.
func OpenPebble(dir string, opts ...storage.Option) (*PebbleKV, error) {
	db, err := storage.New(dir, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return &PebbleKV{db: db}, nil
}

// Backend implements KV.
func (p *PebbleKV) Backend() string { return "pebble" }

// Get implements KV.
func (p *PebbleKV) Get(_ context.Context, key []byte) ([]byte, error) {
	start := time.Now()
	v, err := p.db.Get(key)
	if err != nil {
		metrics.RecordStoreError(p.Backend(), "get")
		return nil, fmt.Errorf("%w: get: %w", ErrStorage, err)
	}
	metrics.RecordStoreLatency(p.Backend(), "get", metrics.Since(start))
	return v, nil
}

// Apply implements KV.
func (p *PebbleKV) Apply(_ context.Context, writes []Write) error {
	start := time.Now()
	muts := make([]storage.Mutation, len(writes))
	for i, w := range writes {
		muts[i] = storage.Mutation{Key: w.Key, Value: w.Value}
	}
	if err := p.db.Apply(muts); err != nil {
		metrics.RecordStoreError(p.Backend(), "apply")
		return fmt.Errorf("%w: apply: %w", ErrStorage, err)
	}
	metrics.RecordStoreLatency(p.Backend(), "apply", metrics.Since(start))
	return nil
}

// IteratePrefix implements KV.
func (p *PebbleKV) IteratePrefix(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	err := p.db.IteratePrefix(prefix, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(key, value)
	})
	if err != nil {
		metrics.RecordStoreError(p.Backend(), "iterate")
		return fmt.Errorf("%w: iterate: %w", ErrStorage, err)
	}
	return nil
}

// Close implements KV.
func (p *PebbleKV) Close() error {
	return p.db.Close()
}
