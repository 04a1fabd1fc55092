// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers a YAML file and CREDO_ environment variables over the defaults.
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Store backends.
const (
	StoreMemory = "memory"
	StorePebble = "pebble"
)

// Signature verifiers.
const (
	VerifierSecp256k1 = "secp256k1"
	VerifierBLS       = "bls"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Owner is the hex address owning the registry and the authorizer.
	// Empty derives a fixed service identity.
	Owner string `koanf:"owner"`

	// AuthorizerIdentity is the hex address the authorizer uses as caller on the registry.
	// Empty derives a fixed service identity.
	AuthorizerIdentity string `koanf:"authorizer_identity"`

	// Signers are authorized at startup. The first one becomes the primary signer.
	Signers []string `koanf:"signers"`

	// Oracles are granted direct registry write access at startup.
	Oracles []string `koanf:"oracles"`

	// StoreBackend selects the state store: memory or pebble.
	StoreBackend string `koanf:"store_backend"`

	// DataDir is the pebble directory. Required for the pebble backend.
	DataDir string `koanf:"data_dir"`

	// Verifier selects the signature scheme: secp256k1 or bls.
	Verifier string `koanf:"verifier"`

	// EventBuffer bounds the per-subscriber event channel.
	EventBuffer int `koanf:"event_buffer"`

	// WorkerCount sets the number of event workers.
	WorkerCount int `koanf:"worker_count"`

	// MaxLeaderboardLimit caps GET /v1/leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// RateLimitRPS and RateLimitBurst bound submissions per client IP. Zero RPS disables limiting.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// MetricsEnabled turns Prometheus recording on. /healthz keeps serving either way.
	MetricsEnabled bool `koanf:"metrics_enabled"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		StoreBackend:        StoreMemory,
		DataDir:             "data",
		Verifier:            VerifierSecp256k1,
		EventBuffer:         1024,
		WorkerCount:         runtime.NumCPU(),
		MaxLeaderboardLimit: 100,
		RateLimitRPS:        20,
		RateLimitBurst:      40,
		MetricsEnabled:      true,
	}
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	switch c.StoreBackend {
	case StoreMemory:
	case StorePebble:
		if c.DataDir == "" {
			return fmt.Errorf("%w: data_dir is required for the pebble backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	}
	switch c.Verifier {
	case VerifierSecp256k1, VerifierBLS:
	default:
		return fmt.Errorf("%w: unknown verifier %q", ErrInvalidConfig, c.Verifier)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	}
	if c.EventBuffer < 0 || c.MaxLeaderboardLimit <= 0 {
		return fmt.Errorf("%w: event_buffer and max_leaderboard_limit out of range", ErrInvalidConfig)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidConfig)
	}
	addrs := make([]string, 0, 2+len(c.Signers)+len(c.Oracles))
	addrs = append(addrs, c.Owner, c.AuthorizerIdentity)
	addrs = append(addrs, c.Signers...)
	addrs = append(addrs, c.Oracles...)
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !common.IsHexAddress(a) {
			return fmt.Errorf("%w: %q is not a hex address", ErrInvalidConfig, a)
		}
	}
	return nil
}

// SignerAddresses parses Signers, skipping blanks.
func (c *Config) SignerAddresses() []common.Address { return parseAddresses(c.Signers) }

// OracleAddresses parses Oracles, skipping blanks.
func (c *Config) OracleAddresses() []common.Address { return parseAddresses(c.Oracles) }

func parseAddresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, common.HexToAddress(s))
	}
	return out
}
