package signer

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/types"
	"github.com/nikhlu07/Credo/pkg/logger"
)

// Relay signs payloads with a Builder and submits them through a Client.
type Relay struct {
	client  *Client
	builder *Builder
	log     logger.Logger
}

// NewRelay creates a Relay.
func NewRelay(client *Client, builder *Builder, log logger.Logger) *Relay {
	if log == nil {
		log = logger.Nop()
	}
	return &Relay{client: client, builder: builder, log: log}
}

// Update fetches the subject's nonce, signs and submits one update.
func (r *Relay) Update(ctx context.Context, subject common.Address, score, version uint64) (types.SubmitResponse, error) {
	nonce, err := r.client.Nonce(ctx, subject)
	if err != nil {
		return types.SubmitResponse{}, fmt.Errorf("fetch nonce: %w", err)
	}
	req, err := r.builder.Update(subject, score, version, nonce)
	if err != nil {
		return types.SubmitResponse{}, err
	}
	return r.client.Submit(ctx, req)
}

// Batches submits entries in chunks of chunkSize. Batch nonces belong to the
// signer, so chunks go out one after another.
func (r *Relay) Batches(ctx context.Context, subjects []common.Address, scores []uint64, version uint64, chunkSize int) ([]types.SubmitResponse, error) {
	if len(subjects) != len(scores) {
		return nil, fmt.Errorf("%d subjects but %d scores", len(subjects), len(scores))
	}
	nonce, err := r.client.Nonce(ctx, r.builder.Address())
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}

	subs, scs := Chunk(subjects, scores, chunkSize)
	out := make([]types.SubmitResponse, 0, len(subs))
	for i := range subs {
		req, err := r.builder.Batch(subs[i], scs[i], version, nonce)
		if err != nil {
			return out, err
		}
		resp, err := r.client.SubmitBatch(ctx, req)
		if err != nil {
			return out, fmt.Errorf("chunk %d/%d: %w", i+1, len(subs), err)
		}
		r.log.Info(ctx, "batch accepted",
			logger.Int("chunk", i+1), logger.Int("size", len(subs[i])), logger.Uint64("nonce", resp.Nonce))
		out = append(out, resp)
		nonce++
	}
	return out, nil
}

// LoadConfig drives a load run.
type LoadConfig struct {
	Subjects int           // number of fresh subjects to score
	Workers  int           // concurrent submissions
	Version  uint64        // model version stamped on every update
	TopN     int           // leaderboard depth to verify
	Settle   time.Duration // how long to wait for the ranking to catch up
}

// LoadStats summarizes a load run.
type LoadStats struct {
	Submitted int64
	Accepted  int64
	Rejected  int64
	Failed    int64
	Duration  time.Duration
	Verified  bool
}

type scored struct {
	subject common.Address
	score   uint64
}

// Load scores cfg.Subjects random subjects with single updates, then checks
// that the node's leaderboard matches the submitted scores. Single update
// nonces are per subject, so distinct subjects can be submitted concurrently.
func (r *Relay) Load(ctx context.Context, cfg LoadConfig) (LoadStats, error) {
	var stats LoadStats
	start := time.Now()

	entries, err := generate(cfg.Subjects)
	if err != nil {
		return stats, err
	}
	r.log.Info(ctx, "submitting signed updates", logger.Int("subjects", len(entries)), logger.Int("workers", cfg.Workers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, e := range entries {
		g.Go(func() error {
			atomic.AddInt64(&stats.Submitted, 1)
			_, err := r.Update(gctx, e.subject, e.score, cfg.Version)
			switch {
			case err == nil:
				atomic.AddInt64(&stats.Accepted, 1)
			case isRejection(err):
				atomic.AddInt64(&stats.Rejected, 1)
				r.log.Warn(gctx, "update rejected", logger.Stringer("subject", e.subject), logger.Error(err))
			default:
				atomic.AddInt64(&stats.Failed, 1)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		stats.Duration = time.Since(start)
		return stats, fmt.Errorf("load run aborted: %w", err)
	}

	stats.Verified = r.verify(ctx, entries, cfg)
	stats.Duration = time.Since(start)
	r.log.Info(ctx, "load run completed",
		logger.Int("accepted", int(stats.Accepted)),
		logger.Int("rejected", int(stats.Rejected)),
		logger.Bool("verified", stats.Verified),
		logger.String("duration", stats.Duration.String()))
	return stats, nil
}

// verify polls the leaderboard until every submitted subject in the expected
// top N shows up with its score. Other subjects on the node may interleave.
func (r *Relay) verify(ctx context.Context, entries []scored, cfg LoadConfig) bool {
	if cfg.TopN <= 0 || len(entries) == 0 {
		return true
	}
	expected := append([]scored(nil), entries...)
	sort.Slice(expected, func(i, j int) bool { return expected[i].score > expected[j].score })
	topN := min(cfg.TopN, len(expected))
	want := expected[0].score

	deadline := time.Now().Add(cfg.Settle)
	for {
		board, err := r.client.Leaderboard(ctx, topN)
		if err == nil && containsScores(board, expected[:topN]) {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			r.log.Warn(ctx, "leaderboard did not converge", logger.Uint64("expected_top_score", want))
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func containsScores(board []types.Entry, expected []scored) bool {
	got := make(map[common.Address]uint64, len(board))
	for _, e := range board {
		got[e.Address] = e.Score
	}
	for _, e := range expected {
		if s, ok := got[e.subject]; ok && s != e.score {
			return false
		}
	}
	return len(board) > 0 && board[0].Score >= expected[0].score
}

func isRejection(err error) bool {
	return IsStatus(err, http.StatusBadRequest) || IsStatus(err, http.StatusForbidden) || IsStatus(err, http.StatusConflict)
}

func generate(n int) ([]scored, error) {
	out := make([]scored, n)
	for i := range out {
		var subject common.Address
		if _, err := rand.Read(subject[:]); err != nil {
			return nil, fmt.Errorf("generate subject: %w", err)
		}
		score, err := rand.Int(rand.Reader, big.NewInt(int64(model.MaxScore)+1))
		if err != nil {
			return nil, fmt.Errorf("generate score: %w", err)
		}
		out[i] = scored{subject: subject, score: score.Uint64()}
	}
	return out, nil
}
