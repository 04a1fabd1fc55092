package api

import (
	"net/http"
	"strconv"

	"github.com/nikhlu07/Credo/internal/domain/types"
)

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps     RankReader
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps RankReader, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /v1/leaderboard?limit=N requests.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 || n > h.maxLimit {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	entries, err := h.deps.TopN(r.Context(), n)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[i] = types.Entry{Rank: e.Rank, Address: e.Subject, Score: e.Score}
	}
	writeJSON(w, http.StatusOK, out)
}
