package api

import (
	"net/http"

	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/types"
	"github.com/nikhlu07/Credo/pkg/logger"
)

// UpdatesHandler handles signed update submission and hash helpers.
type UpdatesHandler struct {
	deps Submitter
	log  logger.Logger
}

// NewUpdatesHandler creates a new updates handler.
func NewUpdatesHandler(deps Submitter, log logger.Logger) *UpdatesHandler {
	return &UpdatesHandler{deps: deps, log: log}
}

// HandleSubmit handles POST /v1/updates.
func (h *UpdatesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_update"
	var req types.SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	rcpt, err := h.deps.SubmitScoreUpdate(r.Context(), req.Update, req.Signature)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.SubmitResponse{Status: "accepted", Signer: rcpt.Signer, Nonce: rcpt.Nonce, Hash: rcpt.Hash})
}

// HandleSubmitBatch handles POST /v1/updates/batch.
func (h *UpdatesHandler) HandleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_batch"
	var req types.BatchSubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	rcpt, err := h.deps.SubmitBatchScoreUpdate(r.Context(), req.BatchScoreUpdate, req.Signature)
	if err != nil {
		h.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.SubmitResponse{Status: "accepted", Signer: rcpt.Signer, Nonce: rcpt.Nonce, Hash: rcpt.Hash})
}

// HandleHash handles POST /v1/hash. The body is a bare update.
func (h *UpdatesHandler) HandleHash(w http.ResponseWriter, r *http.Request) {
	const op = "api.hash"
	var req types.SubmitRequest
	if err := decodeBody(w, r, &req.Update); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, types.HashResponse{
		Digest: authorizer.ScoreUpdateDigest(req.Update),
		Hash:   authorizer.ScoreUpdateHash(req.Update),
	})
}

// HandleHashBatch handles POST /v1/hash/batch.
func (h *UpdatesHandler) HandleHashBatch(w http.ResponseWriter, r *http.Request) {
	const op = "api.hash_batch"
	var req types.BatchSubmitRequest
	if err := decodeBody(w, r, &req.BatchScoreUpdate); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Subjects) != len(req.Scores) {
		writeError(w, WrapKind(op, ErrBadRequest, authorizer.ErrLengthMismatch))
		return
	}
	writeJSON(w, http.StatusOK, types.HashResponse{
		Digest: authorizer.BatchUpdateDigest(req.BatchScoreUpdate),
		Hash:   authorizer.BatchUpdateHash(req.BatchScoreUpdate),
	})
}

func (h *UpdatesHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := statusFor(err); status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", logger.String("request_id", RequestID(r.Context())), logger.Error(err))
	}
	writeError(w, err)
}
