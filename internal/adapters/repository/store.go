// Package repository persists registry and authorizer state on a key-value backend.
package repository

import "context"

// Write is one entry of an atomic batch. A nil Value deletes Key.
type Write struct {
	Key   []byte
	Value []byte
}

// KV is the backend contract shared by the memory and pebble stores.
type KV interface {
	// Get returns the value stored at key, or nil when absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Apply commits writes atomically.
	Apply(ctx context.Context, writes []Write) error
	// IteratePrefix visits keys starting with prefix in byte order.
	IteratePrefix(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error
	// Backend names the implementation, used as a metrics label.
	Backend() string
	Close() error
}
