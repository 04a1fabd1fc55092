// Package authorizer verifies off-chain signed score updates and relays them
// to the registry.
//
// A submission is accepted only if its deadline has not passed, its nonce is
// the next one for its key, its signing hash was never consumed, and the
// recovered signer is authorized. Nonce and consumed-hash state is committed
// only after the registry accepted the write.
package authorizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/internal/adapters/repository"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/pkg/logger"
	"github.com/nikhlu07/Credo/pkg/metrics"
)

const (
	tableSigner = "signer"
	tableNonce  = "nonce"
	tableUsed   = "used"
	ptrOwner    = "owner"
	ptrPrimary  = "primary_signer"

	kindSingle = "single"
	kindBatch  = "batch"
)

// ScoreWriter is the registry surface the authorizer relays to.
type ScoreWriter interface {
	ID() common.Address
	UpdateScore(ctx context.Context, caller, subject common.Address, score, version uint64) error
	BatchUpdateScores(ctx context.Context, caller common.Address, subjects []common.Address, scores []uint64, version uint64) error
}

// Receipt describes an accepted submission.
type Receipt struct {
	Signer common.Address
	Nonce  uint64
	Hash   common.Hash
}

// Authorizer implements signed update verification.
type Authorizer struct {
	mu        sync.RWMutex
	state     *repository.State
	namespace string
	registry  ScoreWriter
	identity  common.Address
	verifier  sigverify.Verifier
	events    model.Emitter
	log       logger.Logger
	now       func() time.Time
}

// New opens the authorizer stored in kv. identity is the caller it presents to
// the registry, so it needs oracle rights there. On an empty store owner becomes
// the owner and the primary authorized signer.
func New(ctx context.Context, kv repository.KV, registry ScoreWriter, owner, identity common.Address, opts ...Option) (*Authorizer, error) {
	a := &Authorizer{
		namespace: defaultNamespace,
		registry:  registry,
		identity:  identity,
		verifier:  sigverify.Secp256k1{},
		events:    model.NopEmitter,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if registry == nil || owner == model.ZeroAddress || identity == model.ZeroAddress {
		return nil, fmt.Errorf("new authorizer: %w", ErrInvalidAccount)
	}
	a.state = repository.NewState(kv, a.namespace)

	if _, ok, err := a.state.Pointer(ctx, ptrOwner); err != nil {
		return nil, fmt.Errorf("new authorizer: %w", err)
	} else if ok {
		return a, nil
	}

	tx := a.state.Begin()
	tx.SetPointer(ptrOwner, owner)
	tx.SetPointer(ptrPrimary, owner)
	tx.SetFlag(tableSigner, owner, true)
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("new authorizer: %w", err)
	}
	a.refreshSignerGauge(ctx)
	a.events.Emit(ctx,
		model.OwnershipTransferred{Component: a.namespace, Next: owner},
		model.SignerAuthorized{Account: owner, Enabled: true},
	)
	return a, nil
}

// Identity is the caller the authorizer presents to the registry.
func (a *Authorizer) Identity() common.Address { return a.identity }

// Scheme names the signature scheme in use.
func (a *Authorizer) Scheme() string { return a.verifier.Scheme() }

// RegistryID identifies the registry updates are relayed to.
func (a *Authorizer) RegistryID() common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.registry.ID()
}

func (a *Authorizer) nowUnix() uint64 {
	t := a.now().Unix()
	if t < 0 {
		return 0
	}
	return uint64(t)
}

func (a *Authorizer) reject(ctx context.Context, kind string, err error) error {
	metrics.RecordUpdateRejected(kind, reason(err))
	a.log.Warn(ctx, "update rejected", logger.String("kind", kind), logger.Error(err))
	return err
}

// recoverSigner returns the authorized signer of hash or an authorization error.
func (a *Authorizer) recoverSigner(ctx context.Context, hash common.Hash, sig []byte) (common.Address, error) {
	signer, err := a.verifier.Recover(hash, sig)
	metrics.RecordSignatureRecovery(a.verifier.Scheme(), err == nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	ok, err := a.state.Flag(ctx, tableSigner, signer)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnauthorizedSigner, signer.Hex())
	}
	return signer, nil
}

// SubmitScoreUpdate verifies u against signature and relays it to the registry.
// The nonce is keyed by the subject.
func (a *Authorizer) SubmitScoreUpdate(ctx context.Context, u model.ScoreUpdate, signature []byte) (Receipt, error) {
	start := time.Now()
	defer func() { metrics.RecordAuthorizeLatency(metrics.Since(start)) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	rcpt, err := a.submitSingle(ctx, u, signature)
	if err != nil {
		return Receipt{}, a.reject(ctx, kindSingle, fmt.Errorf("submit score update: %w", err))
	}

	metrics.RecordUpdateAccepted(kindSingle)
	a.log.Info(ctx, "score update accepted",
		logger.Stringer("subject", u.Subject), logger.Uint64("score", u.Score),
		logger.Uint64("version", u.Version), logger.Stringer("signer", rcpt.Signer), logger.Uint64("nonce", u.Nonce))
	a.events.Emit(ctx, model.ScoreUpdateSubmitted{
		Subject: u.Subject, Score: u.Score, Version: u.Version, Signer: rcpt.Signer, Nonce: u.Nonce,
	})
	return rcpt, nil
}

func (a *Authorizer) submitSingle(ctx context.Context, u model.ScoreUpdate, signature []byte) (Receipt, error) {
	if u.Deadline < a.nowUnix() {
		return Receipt{}, ErrExpiredDeadline
	}
	tx := a.state.Begin()
	current, err := tx.Counter(ctx, tableNonce, u.Subject)
	if err != nil {
		return Receipt{}, err
	}
	if u.Nonce != current {
		return Receipt{}, fmt.Errorf("%w: want %d, got %d", ErrInvalidNonce, current, u.Nonce)
	}
	if u.Score > model.MaxScore {
		return Receipt{}, ErrInvalidScore
	}
	if u.Subject == model.ZeroAddress {
		return Receipt{}, ErrInvalidUser
	}

	hash := ScoreUpdateHash(u)
	used, err := tx.Marked(ctx, tableUsed, hash)
	if err != nil {
		return Receipt{}, err
	}
	if used {
		return Receipt{}, ErrSignatureReplay
	}

	signer, err := a.recoverSigner(ctx, hash, signature)
	if err != nil {
		return Receipt{}, err
	}

	if err := a.registry.UpdateScore(ctx, a.identity, u.Subject, u.Score, u.Version); err != nil {
		return Receipt{}, err
	}

	tx.Mark(tableUsed, hash)
	tx.SetCounter(tableNonce, u.Subject, current+1)
	if err := tx.Commit(ctx); err != nil {
		a.log.Error(ctx, "registry accepted update but nonce commit failed", logger.Stringer("hash", hash), logger.Error(err))
		return Receipt{}, err
	}
	return Receipt{Signer: signer, Nonce: u.Nonce, Hash: hash}, nil
}

// SubmitBatchScoreUpdate verifies a batch and relays it atomically. The nonce is
// keyed by the recovered signer, so independent signers have independent nonce spaces.
func (a *Authorizer) SubmitBatchScoreUpdate(ctx context.Context, b model.BatchScoreUpdate, signature []byte) (Receipt, error) {
	start := time.Now()
	defer func() { metrics.RecordAuthorizeLatency(metrics.Since(start)) }()

	a.mu.Lock()
	defer a.mu.Unlock()

	rcpt, err := a.submitBatch(ctx, b, signature)
	if err != nil {
		return Receipt{}, a.reject(ctx, kindBatch, fmt.Errorf("submit batch score update: %w", err))
	}

	metrics.RecordUpdateAccepted(kindBatch)
	metrics.RecordBatchSize(len(b.Subjects))
	a.log.Info(ctx, "batch score update accepted",
		logger.Int("count", len(b.Subjects)), logger.Uint64("version", b.Version),
		logger.Stringer("signer", rcpt.Signer), logger.Uint64("nonce", b.Nonce))
	a.events.Emit(ctx, model.BatchScoreUpdateSubmitted{
		Count: len(b.Subjects), Version: b.Version, Signer: rcpt.Signer, Nonce: b.Nonce,
	})
	return rcpt, nil
}

func (a *Authorizer) submitBatch(ctx context.Context, b model.BatchScoreUpdate, signature []byte) (Receipt, error) {
	if b.Deadline < a.nowUnix() {
		return Receipt{}, ErrExpiredDeadline
	}
	if len(b.Subjects) != len(b.Scores) {
		return Receipt{}, ErrLengthMismatch
	}
	if len(b.Subjects) == 0 || len(b.Subjects) > model.MaxBatchSize {
		return Receipt{}, fmt.Errorf("%w: %d entries", ErrInvalidBatchSize, len(b.Subjects))
	}
	for i := range b.Subjects {
		if b.Scores[i] > model.MaxScore {
			return Receipt{}, fmt.Errorf("%w: entry %d", ErrInvalidScore, i)
		}
		if b.Subjects[i] == model.ZeroAddress {
			return Receipt{}, fmt.Errorf("%w: entry %d", ErrInvalidUser, i)
		}
	}

	tx := a.state.Begin()
	hash := BatchUpdateHash(b)
	used, err := tx.Marked(ctx, tableUsed, hash)
	if err != nil {
		return Receipt{}, err
	}
	if used {
		return Receipt{}, ErrSignatureReplay
	}

	signer, err := a.recoverSigner(ctx, hash, signature)
	if err != nil {
		return Receipt{}, err
	}
	current, err := tx.Counter(ctx, tableNonce, signer)
	if err != nil {
		return Receipt{}, err
	}
	if b.Nonce != current {
		return Receipt{}, fmt.Errorf("%w: want %d, got %d", ErrInvalidNonce, current, b.Nonce)
	}

	if err := a.registry.BatchUpdateScores(ctx, a.identity, b.Subjects, b.Scores, b.Version); err != nil {
		return Receipt{}, err
	}

	tx.Mark(tableUsed, hash)
	tx.SetCounter(tableNonce, signer, current+1)
	if err := tx.Commit(ctx); err != nil {
		a.log.Error(ctx, "registry accepted batch but nonce commit failed", logger.Stringer("hash", hash), logger.Error(err))
		return Receipt{}, err
	}
	return Receipt{Signer: signer, Nonce: b.Nonce, Hash: hash}, nil
}

// GetCurrentNonce returns the next expected nonce for key.
func (a *Authorizer) GetCurrentNonce(ctx context.Context, key common.Address) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Counter(ctx, tableNonce, key)
}

// GetScoreUpdateHash returns the hash signers sign for u. It is the same value
// the verification path recovers against.
func (a *Authorizer) GetScoreUpdateHash(u model.ScoreUpdate) common.Hash {
	return ScoreUpdateHash(u)
}

// GetBatchUpdateHash returns the hash signers sign for b.
func (a *Authorizer) GetBatchUpdateHash(b model.BatchScoreUpdate) common.Hash {
	return BatchUpdateHash(b)
}

// IsUsed reports whether a signing hash was already consumed.
func (a *Authorizer) IsUsed(ctx context.Context, hash common.Hash) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Marked(ctx, tableUsed, hash)
}

// IsSigner reports whether account may sign updates.
func (a *Authorizer) IsSigner(ctx context.Context, account common.Address) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Flag(ctx, tableSigner, account)
}

// Signers lists the authorized signers.
func (a *Authorizer) Signers(ctx context.Context) ([]common.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Flagged(ctx, tableSigner)
}

// PrimarySigner returns the signer managed by UpdateAuthorizedSigner.
func (a *Authorizer) PrimarySigner(ctx context.Context) (common.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, _, err := a.state.Pointer(ctx, ptrPrimary)
	return p, err
}

// Owner returns the current owner.
func (a *Authorizer) Owner(ctx context.Context) (common.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, _, err := a.state.Pointer(ctx, ptrOwner)
	return o, err
}

func (a *Authorizer) refreshSignerGauge(ctx context.Context) {
	if signers, err := a.state.Flagged(ctx, tableSigner); err == nil {
		metrics.UpdateAuthorizedSigners(len(signers))
	}
}

func (a *Authorizer) requireOwner(ctx context.Context, caller common.Address) error {
	owner, _, err := a.state.Pointer(ctx, ptrOwner)
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	return nil
}

// SetSignerAuthorization grants or revokes signing rights. Owner only.
func (a *Authorizer) SetSignerAuthorization(ctx context.Context, caller, account common.Address, enabled bool) error {
	const op = "set signer authorization"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireOwner(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tx := a.state.Begin()
	tx.SetFlag(tableSigner, account, enabled)
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.refreshSignerGauge(ctx)
	a.log.Info(ctx, "signer authorization changed", logger.Stringer("account", account), logger.Bool("enabled", enabled))
	a.events.Emit(ctx, model.SignerAuthorized{Account: account, Enabled: enabled})
	return nil
}

// UpdateAuthorizedSigner swaps the primary signer: the previous primary loses
// its rights and next gains them. Owner only.
func (a *Authorizer) UpdateAuthorizedSigner(ctx context.Context, caller, next common.Address) error {
	const op = "update authorized signer"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireOwner(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if next == model.ZeroAddress {
		return fmt.Errorf("%s: %w", op, ErrInvalidAccount)
	}
	tx := a.state.Begin()
	prev, _, err := tx.Pointer(ctx, ptrPrimary)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if prev != next {
		tx.SetFlag(tableSigner, prev, false)
	}
	tx.SetFlag(tableSigner, next, true)
	tx.SetPointer(ptrPrimary, next)
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.refreshSignerGauge(ctx)
	a.log.Info(ctx, "primary signer updated", logger.Stringer("previous", prev), logger.Stringer("next", next))
	a.events.Emit(ctx, model.SignerUpdated{Previous: prev, Next: next})
	return nil
}

// UpdateScoreRegistry points the authorizer at another registry. Owner only.
func (a *Authorizer) UpdateScoreRegistry(ctx context.Context, caller common.Address, next ScoreWriter) error {
	const op = "update score registry"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireOwner(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if next == nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidAccount)
	}
	prev := a.registry.ID()
	a.registry = next

	a.log.Info(ctx, "score registry updated", logger.Stringer("previous", prev), logger.Stringer("next", next.ID()))
	a.events.Emit(ctx, model.RegistryUpdated{Previous: prev, Next: next.ID()})
	return nil
}

// TransferOwnership hands the authorizer to next. Owner only.
func (a *Authorizer) TransferOwnership(ctx context.Context, caller, next common.Address) error {
	const op = "transfer ownership"
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.requireOwner(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if next == model.ZeroAddress {
		return fmt.Errorf("%s: %w", op, ErrInvalidAccount)
	}
	tx := a.state.Begin()
	tx.SetPointer(ptrOwner, next)
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.events.Emit(ctx, model.OwnershipTransferred{Component: a.namespace, Previous: caller, Next: next})
	return nil
}
