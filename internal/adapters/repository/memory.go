package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nikhlu07/Credo/pkg/metrics"
)

// MemoryKV keeps everything in a map. Iteration sorts the matching keys.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryKV returns an empty in-memory backend.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Backend implements KV.
func (m *MemoryKV) Backend() string { return "memory" }

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

// Apply implements KV.
func (m *MemoryKV) Apply(_ context.Context, writes []Write) error {
	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, w := range writes {
		if w.Value == nil {
			delete(m.data, string(w.Key))
			continue
		}
		m.data[string(w.Key)] = bytes.Clone(w.Value)
	}
	metrics.RecordStoreLatency(m.Backend(), "apply", metrics.Since(start))
	return nil
}

// IteratePrefix implements KV. fn sees a snapshot taken under the read lock.
func (m *MemoryKV) IteratePrefix(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	p := string(prefix)
	keys := make([]string, 0)
	for k := range m.data {
		if len(k) >= len(p) && k[:len(p)] == p {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = m.data[k]
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close implements KV.
func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
