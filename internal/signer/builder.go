package signer

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/internal/domain/types"
)

// DefaultTTL is how long a signed payload stays valid.
const DefaultTTL = 5 * time.Minute

// Builder signs payloads with one key.
type Builder struct {
	key sigverify.Signer
	ttl time.Duration
	now func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTTL sets the deadline offset.
func WithTTL(ttl time.Duration) BuilderOption {
	return func(b *Builder) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for deadlines.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder creates a Builder signing with key.
func NewBuilder(key sigverify.Signer, opts ...BuilderOption) *Builder {
	b := &Builder{key: key, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Address returns the signing identity.
func (b *Builder) Address() common.Address { return b.key.Address() }

// Update builds and signs a single update. The subject's current nonce must be supplied.
func (b *Builder) Update(subject common.Address, score, version, nonce uint64) (types.SubmitRequest, error) {
	u := model.ScoreUpdate{
		Subject:  subject,
		Score:    score,
		Version:  version,
		Nonce:    nonce,
		Deadline: types.Deadline(b.now(), b.ttl),
	}
	sig, err := b.key.Sign(authorizer.ScoreUpdateHash(u))
	if err != nil {
		return types.SubmitRequest{}, fmt.Errorf("sign update: %w", err)
	}
	return types.SubmitRequest{Update: u, Signature: sig}, nil
}

// Batch builds and signs a batch update. nonce is the signer's current batch nonce.
func (b *Builder) Batch(subjects []common.Address, scores []uint64, version, nonce uint64) (types.BatchSubmitRequest, error) {
	if len(subjects) != len(scores) {
		return types.BatchSubmitRequest{}, authorizer.ErrLengthMismatch
	}
	u := model.BatchScoreUpdate{
		Subjects: subjects,
		Scores:   scores,
		Version:  version,
		Nonce:    nonce,
		Deadline: types.Deadline(b.now(), b.ttl),
	}
	sig, err := b.key.Sign(authorizer.BatchUpdateHash(u))
	if err != nil {
		return types.BatchSubmitRequest{}, fmt.Errorf("sign batch: %w", err)
	}
	return types.BatchSubmitRequest{BatchScoreUpdate: u, Signature: sig}, nil
}

// Chunk splits entries into batches of at most size.
func Chunk(subjects []common.Address, scores []uint64, size int) ([][]common.Address, [][]uint64) {
	if size <= 0 || size > model.MaxBatchSize {
		size = model.MaxBatchSize
	}
	var subs [][]common.Address
	var scs [][]uint64
	for start := 0; start < len(subjects); start += size {
		end := min(start+size, len(subjects))
		subs = append(subs, subjects[start:end])
		scs = append(scs, scores[start:end])
	}
	return subs, scs
}

// LoadKey parses a signing key for scheme. Secp256k1 keys are hex private
// keys; BLS keys are hex seeds of at least 32 bytes.
func LoadKey(scheme, hexKey string) (sigverify.Signer, error) {
	switch scheme {
	case sigverify.SchemeSecp256k1:
		key, err := sigverify.Secp256k1FromHex(hexKey)
		if err != nil {
			return nil, err
		}
		return key, nil
	case sigverify.SchemeBLS:
		key, err := sigverify.BLSFromSeed(common.FromHex(hexKey))
		if err != nil {
			return nil, err
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}
