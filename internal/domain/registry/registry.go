// Package registry holds the authoritative current score of every subject.
//
// Writes require oracle authorization. Every accepted write pushes the previous
// record onto the subject's history and emits ScoreUpdated; the first write for
// a subject also registers it in the user list. Inactive records report score 0.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nikhlu07/Credo/internal/adapters/repository"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/pkg/logger"
	"github.com/nikhlu07/Credo/pkg/metrics"
)

const (
	tableOracle = "oracle"
	ptrOwner    = "owner"
)

// Registry implements the score registry over a repository.KV.
type Registry struct {
	mu        sync.RWMutex
	state     *repository.State
	namespace string
	id        common.Address
	events    model.Emitter
	log       logger.Logger
	now       func() time.Time
}

// New opens the registry stored in kv. On an empty store owner becomes the owner
// and is authorized as an oracle; on an existing store the persisted owner wins.
func New(ctx context.Context, kv repository.KV, owner common.Address, opts ...Option) (*Registry, error) {
	r := &Registry{
		namespace: defaultNamespace,
		events:    model.NopEmitter,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.state = repository.NewState(kv, r.namespace)
	r.id = common.BytesToAddress(crypto.Keccak256([]byte("credo/registry/" + r.namespace))[12:])

	if owner == model.ZeroAddress {
		return nil, fmt.Errorf("new registry: %w", ErrInvalidAccount)
	}
	if _, ok, err := r.state.Pointer(ctx, ptrOwner); err != nil {
		return nil, fmt.Errorf("new registry: %w", err)
	} else if ok {
		return r, nil
	}

	tx := r.state.Begin()
	tx.SetPointer(ptrOwner, owner)
	tx.SetFlag(tableOracle, owner, true)
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("new registry: %w", err)
	}
	r.emit(ctx,
		model.OwnershipTransferred{Component: r.namespace, Next: owner},
		model.OracleAuthorized{Account: owner, Enabled: true},
	)
	return r, nil
}

// ID is the registry's identity, used when the authorizer is repointed.
func (r *Registry) ID() common.Address { return r.id }

func (r *Registry) emit(ctx context.Context, events ...model.Event) {
	r.events.Emit(ctx, events...)
}

func (r *Registry) requireOracle(ctx context.Context, caller common.Address) error {
	ok, err := r.state.Flag(ctx, tableOracle, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (r *Registry) requireOwner(ctx context.Context, caller common.Address) error {
	owner, _, err := r.state.Pointer(ctx, ptrOwner)
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrNotOwner
	}
	return nil
}

func validateEntry(subject common.Address, score uint64) error {
	if subject == model.ZeroAddress {
		return ErrInvalidSubject
	}
	if score > model.MaxScore {
		return ErrScoreOutOfRange
	}
	return nil
}

// write stages one update in tx and returns the events it produces.
func (r *Registry) write(ctx context.Context, tx *repository.Tx, caller, subject common.Address, score, version uint64, now time.Time) ([]model.Event, error) {
	var events []model.Event

	prev, existed, err := tx.Record(ctx, subject)
	if err != nil {
		return nil, err
	}
	if existed {
		if err := tx.AppendHistory(ctx, subject, prev); err != nil {
			return nil, err
		}
	} else {
		if err := tx.AppendUser(ctx, subject); err != nil {
			return nil, err
		}
		events = append(events, model.UserRegistered{Subject: subject, Timestamp: now})
	}

	rec := model.ScoreRecord{Score: score, Version: version, LastUpdated: now, Active: true, UpdatedBy: caller}
	if err := tx.PutRecord(subject, rec); err != nil {
		return nil, err
	}
	events = append(events, model.ScoreUpdated{Subject: subject, Score: score, Version: version, Timestamp: now, Updater: caller})
	return events, nil
}

// UpdateScore writes a new current record for subject.
func (r *Registry) UpdateScore(ctx context.Context, caller, subject common.Address, score, version uint64) error {
	const op = "update score"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireOracle(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := validateEntry(subject, score); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tx := r.state.Begin()
	events, err := r.write(ctx, tx, caller, subject, score, version, model.Unix(r.now()))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordRegistryWrite("update")
	r.log.Debug(ctx, "score updated",
		logger.Stringer("subject", subject), logger.Uint64("score", score),
		logger.Uint64("version", version), logger.Stringer("caller", caller))
	r.emit(ctx, events...)
	return nil
}

// BatchUpdateScores writes many records in one atomic commit. Every entry is
// validated before anything is staged. Repeated subjects are applied in order.
func (r *Registry) BatchUpdateScores(ctx context.Context, caller common.Address, subjects []common.Address, scores []uint64, version uint64) error {
	const op = "batch update scores"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireOracle(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(subjects) != len(scores) {
		return fmt.Errorf("%s: %w", op, ErrLengthMismatch)
	}
	if len(subjects) > model.MaxBatchSize {
		return fmt.Errorf("%s: %w", op, ErrBatchTooLarge)
	}
	for i := range subjects {
		if err := validateEntry(subjects[i], scores[i]); err != nil {
			return fmt.Errorf("%s: entry %d: %w", op, i, err)
		}
	}

	now := model.Unix(r.now())
	tx := r.state.Begin()
	var events []model.Event
	for i := range subjects {
		ev, err := r.write(ctx, tx, caller, subjects[i], scores[i], version, now)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		events = append(events, ev...)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordRegistryWrite("batch_update")
	r.log.Debug(ctx, "batch scores updated", logger.Int("count", len(subjects)), logger.Stringer("caller", caller))
	r.emit(ctx, events...)
	return nil
}

// GetScore returns the visible score: 0 when inactive or never scored.
func (r *Registry) GetScore(ctx context.Context, subject common.Address) (uint64, error) {
	rec, err := r.GetScoreData(ctx, subject)
	if err != nil {
		return 0, err
	}
	return rec.Visible(), nil
}

// GetScoreData returns the full record regardless of the active flag. A subject
// that was never scored yields the zero record.
func (r *Registry) GetScoreData(ctx context.Context, subject common.Address) (model.ScoreRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, _, err := r.state.Record(ctx, subject)
	if err != nil {
		return model.ScoreRecord{}, fmt.Errorf("get score data: %w", err)
	}
	return rec, nil
}

// DeactivateScore marks subject's record inactive. Score, version and history stay.
func (r *Registry) DeactivateScore(ctx context.Context, caller, subject common.Address) error {
	const op = "deactivate score"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireOracle(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tx := r.state.Begin()
	rec, ok, err := tx.Record(ctx, subject)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok || !rec.Active {
		return fmt.Errorf("%s: %w", op, ErrAlreadyInactive)
	}
	rec.Active = false
	if err := tx.PutRecord(subject, rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordRegistryWrite("deactivate")
	r.log.Debug(ctx, "score deactivated", logger.Stringer("subject", subject), logger.Stringer("caller", caller))
	r.emit(ctx, model.ScoreDeactivated{Subject: subject})
	return nil
}

// IsScoreStale reports whether more than maxAge (whole seconds) has passed
// since the last write. A subject never scored counts from the epoch.
func (r *Registry) IsScoreStale(ctx context.Context, subject common.Address, maxAge time.Duration) (bool, error) {
	rec, err := r.GetScoreData(ctx, subject)
	if err != nil {
		return false, err
	}
	var last int64
	if rec.Exists() {
		last = rec.LastUpdated.Unix()
	}
	return r.now().Unix()-last > int64(maxAge/time.Second), nil
}

// GetActiveScoreCount counts the subjects whose record is active. Duplicates count each time.
func (r *Registry) GetActiveScoreCount(ctx context.Context, subjects []common.Address) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range subjects {
		rec, _, err := r.state.Record(ctx, s)
		if err != nil {
			return 0, fmt.Errorf("active score count: %w", err)
		}
		if rec.Active {
			n++
		}
	}
	return n, nil
}

// SetOracleAuthorization grants or revokes write access. Owner only.
func (r *Registry) SetOracleAuthorization(ctx context.Context, caller, account common.Address, enabled bool) error {
	const op = "set oracle authorization"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireOwner(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tx := r.state.Begin()
	tx.SetFlag(tableOracle, account, enabled)
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.RecordRegistryWrite("oracle_authorization")
	r.log.Info(ctx, "oracle authorization changed", logger.Stringer("account", account), logger.Bool("enabled", enabled))
	r.emit(ctx, model.OracleAuthorized{Account: account, Enabled: enabled})
	return nil
}

// IsOracle reports whether account may write.
func (r *Registry) IsOracle(ctx context.Context, account common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Flag(ctx, tableOracle, account)
}

// Oracles lists the authorized oracles.
func (r *Registry) Oracles(ctx context.Context) ([]common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Flagged(ctx, tableOracle)
}

// Owner returns the current owner.
func (r *Registry) Owner(ctx context.Context) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, _, err := r.state.Pointer(ctx, ptrOwner)
	return owner, err
}

// TransferOwnership hands the registry to next. Oracle rights are not moved.
func (r *Registry) TransferOwnership(ctx context.Context, caller, next common.Address) error {
	const op = "transfer ownership"
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireOwner(ctx, caller); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if next == model.ZeroAddress {
		return fmt.Errorf("%s: %w", op, ErrInvalidAccount)
	}
	tx := r.state.Begin()
	tx.SetPointer(ptrOwner, next)
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r.log.Info(ctx, "registry ownership transferred", logger.Stringer("previous", caller), logger.Stringer("next", next))
	r.emit(ctx, model.OwnershipTransferred{Component: r.namespace, Previous: caller, Next: next})
	return nil
}

// History returns subject's prior records, oldest first.
func (r *Registry) History(ctx context.Context, subject common.Address) ([]model.ScoreRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, err := r.state.History(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return h, nil
}

// Users returns every subject ever scored, in registration order.
func (r *Registry) Users(ctx context.Context) ([]common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Users(ctx)
}

// UserCount returns the number of subjects ever scored.
func (r *Registry) UserCount(ctx context.Context) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.UserCount(ctx)
}

// UserAt returns the index-th registered subject.
func (r *Registry) UserAt(ctx context.Context, index uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok, err := r.state.UserAt(ctx, index)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, fmt.Errorf("user at %d: %w", index, ErrIndexOutOfRange)
	}
	return u, nil
}

// HasScore reports whether subject was ever scored.
func (r *Registry) HasScore(ctx context.Context, subject common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok, err := r.state.Record(ctx, subject)
	return ok, err
}
