package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nikhlu07/Credo/internal/domain/types"
	"github.com/nikhlu07/Credo/pkg/logger"
)

var errBadAddress = errors.New("address must be 20 hex bytes")

// ScoresHandler serves registry reads and nonce lookups.
type ScoresHandler struct {
	scores ScoreReader
	nonces Submitter
	log    logger.Logger
}

// NewScoresHandler creates a new scores handler.
func NewScoresHandler(scores ScoreReader, nonces Submitter, log logger.Logger) *ScoresHandler {
	return &ScoresHandler{scores: scores, nonces: nonces, log: log}
}

// HandleGetScore handles GET /v1/scores/{address}.
func (h *ScoresHandler) HandleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, WrapKind(op, ErrBadRequest, errBadAddress))
		return
	}
	rec, err := h.scores.GetScoreData(r.Context(), addr)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.ScoreResponse{Address: addr, Score: rec.Visible(), Data: types.NewScoreData(rec)})
}

// HandleHistory handles GET /v1/scores/{address}/history.
func (h *ScoresHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, WrapKind(op, ErrBadRequest, errBadAddress))
		return
	}
	recs, err := h.scores.History(r.Context(), addr)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	out := types.HistoryResponse{Address: addr, History: make([]types.ScoreData, len(recs))}
	for i, rec := range recs {
		out.History[i] = types.NewScoreData(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleStale handles GET /v1/scores/{address}/stale?max_age=1h.
func (h *ScoresHandler) HandleStale(w http.ResponseWriter, r *http.Request) {
	const op = "api.is_stale"
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, WrapKind(op, ErrBadRequest, errBadAddress))
		return
	}
	maxAge, err := time.ParseDuration(r.URL.Query().Get("max_age"))
	if err != nil || maxAge < 0 {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("max_age must be a non-negative duration such as 3600s")))
		return
	}
	stale, err := h.scores.IsScoreStale(r.Context(), addr, maxAge)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.StaleResponse{Address: addr, MaxAge: maxAge.String(), Stale: stale})
}

// HandleActiveCount handles POST /v1/scores/active-count.
func (h *ScoresHandler) HandleActiveCount(w http.ResponseWriter, r *http.Request) {
	const op = "api.active_count"
	var req types.ActiveCountRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	n, err := h.scores.GetActiveScoreCount(r.Context(), req.Subjects)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.CountResponse{Count: n})
}

// HandleNonce handles GET /v1/nonces/{address}.
func (h *ScoresHandler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_nonce"
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, WrapKind(op, ErrBadRequest, errBadAddress))
		return
	}
	n, err := h.nonces.GetCurrentNonce(r.Context(), addr)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.NonceResponse{Address: addr, Nonce: n})
}

// HandleUsers handles GET /v1/users.
func (h *ScoresHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.scores.Users(r.Context())
	if err != nil {
		h.fail(w, r, Wrap("api.list_users", err))
		return
	}
	writeJSON(w, http.StatusOK, types.UsersResponse{Count: len(users), Users: users})
}

func (h *ScoresHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := statusFor(err); status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", logger.String("request_id", RequestID(r.Context())), logger.Error(err))
	}
	writeError(w, err)
}
