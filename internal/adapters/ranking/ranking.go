// Package ranking keeps an in-memory ordering of active scores.
//
// Ordering: score DESC, then subject address ASC (deterministic). The tree is
// a treap whose "less" means "ranks earlier", so in-order traversal yields the
// leaderboard from best to worst. Ranks use competition ranking: equal scores
// share a rank and the next distinct score skips the tied positions (1, 1, 3).
package ranking

import (
	"bytes"
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/pkg/metrics"
)

const defaultMetricsInterval = 5 * time.Second

// Entry is one leaderboard row.
type Entry struct {
	Rank    int
	Subject common.Address
	Score   uint64
}

type node struct {
	id    common.Address
	score uint64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) appears before (bScore, bID).
func less(aScore uint64, aID common.Address, bScore uint64, bID common.Address) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return bytes.Compare(aID[:], bID[:]) < 0
}


func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id common.Address, score uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: rand.Uint64(), size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id common.Address, score uint64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// countAbove counts nodes with a strictly higher score.
func countAbove(n *node, score uint64) int {
	c := 0
	for n != nil {
		if n.score > score {
			c += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return c
}

func collectTopN(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Entry{Subject: n.id, Score: n.score})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// Ranking is a concurrency-safe treap of subject scores.
type Ranking struct {
	mu   sync.RWMutex
	root *node
	byID map[common.Address]uint64

	metricsInterval time.Duration
	wg              sync.WaitGroup
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// New constructs an empty ranking and starts its metrics updater.
func New(ctx context.Context, opts ...Option) *Ranking {
	r := &Ranking{
		byID:            make(map[common.Address]uint64),
		metricsInterval: defaultMetricsInterval,
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startMetricsUpdater(ctx)
	return r
}

// Set places subject at score, replacing any previous position.
func (r *Ranking) Set(_ context.Context, subject common.Address, score uint64) {
	r.mu.Lock()
	if old, ok := r.byID[subject]; ok {
		if old == score {
			r.mu.Unlock()
			return
		}
		r.root = deleteNode(r.root, subject, old)
	}
	r.byID[subject] = score
	r.root = insert(r.root, subject, score)
	r.mu.Unlock()

	metrics.RecordRankingUpdate()
}

// Remove drops subject. Removing an absent subject is a no-op.
func (r *Ranking) Remove(_ context.Context, subject common.Address) {
	r.mu.Lock()
	old, ok := r.byID[subject]
	if ok {
		r.root = deleteNode(r.root, subject, old)
		delete(r.byID, subject)
	}
	r.mu.Unlock()

	if ok {
		metrics.RecordRankingUpdate()
	}
}

// Rank returns the position of subject.
func (r *Ranking) Rank(_ context.Context, subject common.Address) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	score, ok := r.byID[subject]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Rank: countAbove(r.root, score) + 1, Subject: subject, Score: score}, nil
}

// TopN returns the best n entries.
func (r *Ranking) TopN(_ context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, min(n, len(r.byID)))
	collectTopN(r.root, n, &out)
	assignRanks(out)
	return out, nil
}

// Count returns the number of ranked subjects.
func (r *Ranking) Count(_ context.Context) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Close stops the metrics updater.
func (r *Ranking) Close() error {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	return nil
}

// assignRanks applies competition ranking to an ordered prefix of the leaderboard.
func assignRanks(entries []Entry) {
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

func (r *Ranking) startMetricsUpdater(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.metricsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateRankingSize(r.Count(ctx))
			}
		}
	}()
}
