package worker

import (
	"time"

	"github.com/nikhlu07/Credo/internal/domain/dedupe"
	"github.com/nikhlu07/Credo/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRetryDelay sets the pause before a failed delivery is nacked.
func WithRetryDelay(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d >= 0 {
			w.retryDelay = d
		}
	}
}

// PoolOption applies a configuration option to the Pool.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger shared by the pool and its workers.
func WithPoolLogger(logger logger.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDeduper sets the store of handled message IDs.
func WithDeduper(d dedupe.Deduper) PoolOption {
	return func(p *Pool) {
		if d != nil {
			p.seen = d
		}
	}
}

// WithBuffer sets how many decoded deliveries may wait for a worker.
func WithBuffer(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.buffer = n
		}
	}
}

// WithPoolRetryDelay sets the pause before a failed delivery is nacked.
func WithPoolRetryDelay(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d >= 0 {
			p.retryDelay = d
		}
	}
}
