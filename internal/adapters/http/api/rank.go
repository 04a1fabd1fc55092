package api

import (
	"net/http"

	"github.com/nikhlu07/Credo/internal/domain/types"
)

// RankHandler handles rank requests.
type RankHandler struct {
	deps RankReader
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankReader) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /v1/rank/{address} requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_rank"
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, WrapKind(op, ErrBadRequest, errBadAddress))
		return
	}
	e, err := h.deps.Rank(r.Context(), addr)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.Entry{Rank: e.Rank, Address: e.Subject, Score: e.Score})
}
