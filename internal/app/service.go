// Package service assembles the registry, the update authorizer and their
// supporting infrastructure into one running service.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/nikhlu07/Credo/internal/adapters/http/api"
	"github.com/nikhlu07/Credo/internal/adapters/mq/eventbus"
	workerpool "github.com/nikhlu07/Credo/internal/adapters/mq/worker"
	"github.com/nikhlu07/Credo/internal/adapters/ranking"
	"github.com/nikhlu07/Credo/internal/adapters/repository"
	"github.com/nikhlu07/Credo/internal/config"
	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/dedupe"
	"github.com/nikhlu07/Credo/internal/domain/registry"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/pkg/logger"
	"github.com/nikhlu07/Credo/pkg/metrics"
)

const (
	registryNamespace   = "registry"
	authorizerNamespace = "authorizer"
	systemMetricsPeriod = 10 * time.Second
)

// ErrNotStarted is returned by accessors used before Start.
var ErrNotStarted = errors.New("service not started")

// DeriveIdentity returns the fixed service identity used when no address is configured.
func DeriveIdentity(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("credo/identity/" + label))[12:])
}

// Service owns every component of a running node.
type Service struct {
	mu sync.RWMutex

	cfg   *config.Config
	kv    repository.KV
	ownKV bool

	bus        *eventbus.Bus
	registry   *registry.Registry
	authorizer *authorizer.Authorizer
	ranking    *ranking.Ranking
	pool       *workerpool.Pool
	deduper    dedupe.Deduper

	owner    common.Address
	identity common.Address
	now      func() time.Time

	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults to config.New().
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithKV supplies an already open store instead of opening one from the configuration.
func WithKV(kv repository.KV) Option {
	return func(s *Service) {
		s.kv = kv
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source of the registry and the authorizer.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		now:    time.Now,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store, builds the components, applies the configured
// authorizations and starts the event workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	s.owner = addressOr(s.cfg.Owner, "owner")
	s.identity = addressOr(s.cfg.AuthorizerIdentity, "authorizer")

	if s.kv == nil {
		kv, err := openKV(s.cfg)
		if err != nil {
			return err
		}
		s.kv = kv
		s.ownKV = true
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := s.build(ctx, runCtx); err != nil {
		cancel()
		s.closeAll()
		return err
	}
	s.cancel = cancel
	s.started = true

	s.logger.Info(ctx, "credo service started",
		logger.String("store", s.kv.Backend()),
		logger.String("verifier", s.authorizer.Scheme()),
		logger.Stringer("owner", s.owner),
		logger.Stringer("authorizer_identity", s.identity),
		logger.Stringer("registry_id", s.registry.ID()),
		logger.Int("workers", s.cfg.WorkerCount),
	)
	return nil
}

func (s *Service) build(ctx, runCtx context.Context) error {
	s.bus = eventbus.New(
		eventbus.WithBuffer(s.cfg.EventBuffer),
		eventbus.WithLogger(s.logger.Named("eventbus")),
	)
	s.ranking = ranking.New(runCtx)

	reg, err := registry.New(ctx, s.kv, s.owner,
		registry.WithNamespace(registryNamespace),
		registry.WithEmitter(s.bus),
		registry.WithLogger(s.logger.Named("registry")),
		registry.WithClock(s.now),
	)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	s.registry = reg

	verifier, err := sigverify.NewVerifier(s.cfg.Verifier)
	if err != nil {
		return fmt.Errorf("select verifier: %w", err)
	}
	auth, err := authorizer.New(ctx, s.kv, reg, s.owner, s.identity,
		authorizer.WithNamespace(authorizerNamespace),
		authorizer.WithVerifier(verifier),
		authorizer.WithEmitter(s.bus),
		authorizer.WithLogger(s.logger.Named("authorizer")),
		authorizer.WithClock(s.now),
	)
	if err != nil {
		return fmt.Errorf("open authorizer: %w", err)
	}
	s.authorizer = auth

	s.deduper = dedupe.NewInMemoryDeduper()
	s.pool = workerpool.NewPool(s.cfg.WorkerCount, s.bus, reg, s.ranking,
		workerpool.WithPoolLogger(s.logger.Named("worker")),
		workerpool.WithDeduper(s.deduper),
		workerpool.WithBuffer(s.cfg.EventBuffer),
	)
	if err := s.pool.Start(runCtx); err != nil {
		return err
	}

	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	if err := s.rebuildRanking(ctx); err != nil {
		return err
	}

	s.group, runCtx = errgroup.WithContext(runCtx)
	s.group.Go(func() error { return s.systemMetricsLoop(runCtx) })
	return nil
}

// bootstrap grants the configured authorizations. It only acts when the
// configured owner still owns the persisted components.
func (s *Service) bootstrap(ctx context.Context) error {
	owner, err := s.registry.Owner(ctx)
	if err != nil {
		return err
	}
	if owner != s.owner {
		s.logger.Warn(ctx, "configured owner does not own the stored registry; skipping bootstrap",
			logger.Stringer("stored_owner", owner), logger.Stringer("configured_owner", s.owner))
		return nil
	}

	for _, oracle := range append([]common.Address{s.identity}, s.cfg.OracleAddresses()...) {
		ok, err := s.registry.IsOracle(ctx, oracle)
		if err != nil {
			return err
		}
		if !ok {
			if err := s.registry.SetOracleAuthorization(ctx, s.owner, oracle, true); err != nil {
				return fmt.Errorf("authorize oracle %s: %w", oracle.Hex(), err)
			}
		}
	}

	signers := s.cfg.SignerAddresses()
	if len(signers) == 0 {
		return nil
	}
	if authOwner, err := s.authorizer.Owner(ctx); err != nil || authOwner != s.owner {
		return err
	}
	primary, err := s.authorizer.PrimarySigner(ctx)
	if err != nil {
		return err
	}
	if primary != signers[0] {
		if err := s.authorizer.UpdateAuthorizedSigner(ctx, s.owner, signers[0]); err != nil {
			return fmt.Errorf("set primary signer: %w", err)
		}
	}
	for _, signer := range signers[1:] {
		ok, err := s.authorizer.IsSigner(ctx, signer)
		if err != nil {
			return err
		}
		if !ok {
			if err := s.authorizer.SetSignerAuthorization(ctx, s.owner, signer, true); err != nil {
				return fmt.Errorf("authorize signer %s: %w", signer.Hex(), err)
			}
		}
	}
	return nil
}

// rebuildRanking loads every active subject of a persisted registry into the ranking.
func (s *Service) rebuildRanking(ctx context.Context) error {
	users, err := s.registry.Users(ctx)
	if err != nil {
		return fmt.Errorf("rebuild ranking: %w", err)
	}
	for _, u := range users {
		rec, err := s.registry.GetScoreData(ctx, u)
		if err != nil {
			return fmt.Errorf("rebuild ranking: %w", err)
		}
		if rec.Active {
			s.ranking.Set(ctx, u, rec.Score)
		}
	}
	if len(users) > 0 {
		s.logger.Info(ctx, "ranking rebuilt from store", logger.Int("users", len(users)))
	}
	return nil
}

func (s *Service) systemMetricsLoop(ctx context.Context) error {
	ticker := time.NewTicker(systemMetricsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateSystemMemoryUsage(m.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}

// Stop shuts the workers down and closes the bus and the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping credo service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.cancel()
	if err := s.group.Wait(); err != nil {
		s.logger.Warn(ctx, "background task", logger.Error(err))
	}
	err := s.closeAll()

	s.started = false
	s.logger.Info(ctx, "credo service stopped")
	return err
}

func (s *Service) closeAll() error {
	var errs []error
	if s.bus != nil {
		errs = append(errs, s.bus.Close())
	}
	if s.ranking != nil {
		errs = append(errs, s.ranking.Close())
	}
	if s.kv != nil && s.ownKV {
		errs = append(errs, s.kv.Close())
		s.kv = nil
		s.ownKV = false
	}
	return errors.Join(errs...)
}

// Registry returns the running registry.
func (s *Service) Registry() *registry.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}

// Authorizer returns the running authorizer.
func (s *Service) Authorizer() *authorizer.Authorizer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorizer
}

// Ranking returns the ranking projection.
func (s *Service) Ranking() *ranking.Ranking {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ranking
}

// Owner returns the effective owner address.
func (s *Service) Owner() common.Address { return s.owner }

// Identity returns the authorizer's registry caller.
func (s *Service) Identity() common.Address { return s.identity }

// APIDependencies bundles the components the HTTP layer serves.
func (s *Service) APIDependencies() (api.Dependencies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return api.Dependencies{}, ErrNotStarted
	}
	return api.Dependencies{
		Submitter: s.authorizer,
		Scores:    s.registry,
		Ranks:     s.ranking,
		Stats:     s,
	}, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"store":       s.cfg.StoreBackend,
		"verifier":    s.cfg.Verifier,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	if n, err := s.registry.UserCount(ctx); err == nil {
		stats["users"] = n
	}
	if oracles, err := s.registry.Oracles(ctx); err == nil {
		stats["oracles"] = len(oracles)
	}
	if signers, err := s.authorizer.Signers(ctx); err == nil {
		stats["signers"] = len(signers)
	}
	stats["ranked"] = s.ranking.Count(ctx)
	stats["pendingEvents"] = s.pool.Pending()
	stats["seenMessages"] = s.deduper.Size()
	stats["registryID"] = s.registry.ID().Hex()
	stats["authorizerIdentity"] = s.identity.Hex()
	return stats
}

func addressOr(hex, label string) common.Address {
	if hex == "" {
		return DeriveIdentity(label)
	}
	return common.HexToAddress(hex)
}

func openKV(cfg *config.Config) (repository.KV, error) {
	switch cfg.StoreBackend {
	case config.StorePebble:
		kv, err := repository.OpenPebble(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open pebble store: %w", err)
		}
		return kv, nil
	default:
		return repository.NewMemoryKV(), nil
	}
}
