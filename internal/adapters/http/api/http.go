// Package api exposes the score protocol over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikhlu07/Credo/internal/adapters/ranking"
	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/types"
	"github.com/nikhlu07/Credo/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Submitter accepts signed updates.
type Submitter interface {
	SubmitScoreUpdate(ctx context.Context, u model.ScoreUpdate, signature []byte) (authorizer.Receipt, error)
	SubmitBatchScoreUpdate(ctx context.Context, b model.BatchScoreUpdate, signature []byte) (authorizer.Receipt, error)
	GetCurrentNonce(ctx context.Context, key common.Address) (uint64, error)
}

// ScoreReader answers registry queries.
type ScoreReader interface {
	GetScore(ctx context.Context, subject common.Address) (uint64, error)
	GetScoreData(ctx context.Context, subject common.Address) (model.ScoreRecord, error)
	History(ctx context.Context, subject common.Address) ([]model.ScoreRecord, error)
	IsScoreStale(ctx context.Context, subject common.Address, maxAge time.Duration) (bool, error)
	GetActiveScoreCount(ctx context.Context, subjects []common.Address) (int, error)
	Users(ctx context.Context) ([]common.Address, error)
}

// RankReader answers leaderboard queries.
type RankReader interface {
	TopN(ctx context.Context, n int) ([]ranking.Entry, error)
	Rank(ctx context.Context, subject common.Address) (ranking.Entry, error)
}

// Dependencies bundles what the handlers need.
type Dependencies struct {
	Submitter Submitter
	Scores    ScoreReader
	Ranks     RankReader
	Stats     StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	updatesHandler     *UpdatesHandler
	scoresHandler      *ScoresHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	limiter            *RateLimiter
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{maxLimit: 100, rps: 20, burst: 40, log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps.Stats),
		updatesHandler:     NewUpdatesHandler(deps.Submitter, cfg.log),
		scoresHandler:      NewScoresHandler(deps.Scores, deps.Submitter, cfg.log),
		leaderboardHandler: NewLeaderboardHandler(deps.Ranks, cfg.maxLimit),
		rankHandler:        NewRankHandler(deps.Ranks),
		limiter:            NewRateLimiter(cfg.rps, cfg.burst),
	}
}

// Register attaches all HTTP routes to mux. Submit routes are rate limited per client.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /v1/updates", MetricsMiddleware(s.limiter.Wrap(s.updatesHandler.HandleSubmit), "updates"))
	mux.HandleFunc("POST /v1/updates/batch", MetricsMiddleware(s.limiter.Wrap(s.updatesHandler.HandleSubmitBatch), "updates_batch"))
	mux.HandleFunc("POST /v1/hash", MetricsMiddleware(s.updatesHandler.HandleHash, "hash"))
	mux.HandleFunc("POST /v1/hash/batch", MetricsMiddleware(s.updatesHandler.HandleHashBatch, "hash_batch"))

	mux.HandleFunc("GET /v1/scores/{address}", MetricsMiddleware(s.scoresHandler.HandleGetScore, "score"))
	mux.HandleFunc("GET /v1/scores/{address}/history", MetricsMiddleware(s.scoresHandler.HandleHistory, "history"))
	mux.HandleFunc("GET /v1/scores/{address}/stale", MetricsMiddleware(s.scoresHandler.HandleStale, "stale"))
	mux.HandleFunc("POST /v1/scores/active-count", MetricsMiddleware(s.scoresHandler.HandleActiveCount, "active_count"))
	mux.HandleFunc("GET /v1/nonces/{address}", MetricsMiddleware(s.scoresHandler.HandleNonce, "nonce"))
	mux.HandleFunc("GET /v1/users", MetricsMiddleware(s.scoresHandler.HandleUsers, "users"))

	mux.HandleFunc("GET /v1/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /v1/rank/{address}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	switch {
	case status >= http.StatusInternalServerError:
		msg = ErrInternal.Error()
	case err != nil:
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: msg})
}

// decodeBody reads a bounded JSON body into v and rejects unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathAddress parses the {address} path value.
func pathAddress(r *http.Request) (common.Address, bool) {
	raw := r.PathValue("address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
