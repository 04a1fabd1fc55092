package registry

import (
	"time"

	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/pkg/logger"
)

const defaultNamespace = "registry"

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithNamespace scopes the registry's keys, allowing several registries on one store.
func WithNamespace(ns string) Option {
	return func(r *Registry) {
		if ns != "" {
			r.namespace = ns
		}
	}
}

// WithEmitter sets the sink for committed events.
func WithEmitter(e model.Emitter) Option {
	return func(r *Registry) {
		if e != nil {
			r.events = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
