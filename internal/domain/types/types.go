// Package types contains the wire shapes shared by the HTTP transport and its clients.
package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nikhlu07/Credo/internal/domain/model"
)

// Entry represents a leaderboard entry.
type Entry struct {
	Rank    int            `json:"rank"`
	Address common.Address `json:"address"`
	Score   uint64         `json:"score"`
}

// SubmitRequest is the body of POST /v1/updates.
type SubmitRequest struct {
	Update    model.ScoreUpdate `json:"update"`
	Signature hexutil.Bytes     `json:"signature"`
}

// BatchSubmitRequest is the body of POST /v1/updates/batch.
type BatchSubmitRequest struct {
	model.BatchScoreUpdate
	Signature hexutil.Bytes `json:"signature"`
}

// SubmitResponse acknowledges an accepted update.
type SubmitResponse struct {
	Status string         `json:"status"`
	Signer common.Address `json:"signer"`
	Nonce  uint64         `json:"nonce"`
	Hash   common.Hash    `json:"hash"`
}

// HashResponse returns the inner digest and the hash a signer signs.
type HashResponse struct {
	Digest common.Hash `json:"digest"`
	Hash   common.Hash `json:"hash"`
}

// ScoreData mirrors model.ScoreRecord on the wire.
type ScoreData struct {
	Score       uint64         `json:"score"`
	LastUpdated int64          `json:"last_updated"`
	Version     uint64         `json:"version"`
	Active      bool           `json:"active"`
	UpdatedBy   common.Address `json:"updated_by"`
}

// NewScoreData converts a record. A never written record reports last_updated 0.
func NewScoreData(r model.ScoreRecord) ScoreData {
	var ts int64
	if r.Exists() {
		ts = r.LastUpdated.Unix()
	}
	return ScoreData{
		Score:       r.Score,
		LastUpdated: ts,
		Version:     r.Version,
		Active:      r.Active,
		UpdatedBy:   r.UpdatedBy,
	}
}

// ScoreResponse is returned by GET /v1/scores/{address}.
type ScoreResponse struct {
	Address common.Address `json:"address"`
	Score   uint64         `json:"score"`
	Data    ScoreData      `json:"data"`
}

// HistoryResponse lists prior records, oldest first.
type HistoryResponse struct {
	Address common.Address `json:"address"`
	History []ScoreData    `json:"history"`
}

// StaleResponse answers a staleness query.
type StaleResponse struct {
	Address common.Address `json:"address"`
	MaxAge  string         `json:"max_age"`
	Stale   bool           `json:"stale"`
}

// ActiveCountRequest is the body of POST /v1/scores/active-count.
type ActiveCountRequest struct {
	Subjects []common.Address `json:"subjects"`
}

// CountResponse carries a single count.
type CountResponse struct {
	Count int `json:"count"`
}

// NonceResponse returns the next expected nonce of a key.
type NonceResponse struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}

// UsersResponse lists every subject ever scored, in registration order.
type UsersResponse struct {
	Count int              `json:"count"`
	Users []common.Address `json:"users"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Deadline returns now+ttl as unix seconds.
func Deadline(now time.Time, ttl time.Duration) uint64 {
	return uint64(now.Add(ttl).Unix())
}
