package authorizer

import (
	"time"

	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/pkg/logger"
)

const defaultNamespace = "authorizer"

// Option applies a configuration option to the Authorizer.
type Option func(*Authorizer)

// WithVerifier selects the signature scheme. Defaults to secp256k1.
func WithVerifier(v sigverify.Verifier) Option {
	return func(a *Authorizer) {
		if v != nil {
			a.verifier = v
		}
	}
}

// WithNamespace scopes the authorizer's keys.
func WithNamespace(ns string) Option {
	return func(a *Authorizer) {
		if ns != "" {
			a.namespace = ns
		}
	}
}

// WithEmitter sets the sink for committed events.
func WithEmitter(e model.Emitter) Option {
	return func(a *Authorizer) {
		if e != nil {
			a.events = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Authorizer) {
		if l != nil {
			a.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		if now != nil {
			a.now = now
		}
	}
}
