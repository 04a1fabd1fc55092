// Package model contains domain models passed between layers.
package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol limits.
const (
	// MaxScore is the inclusive upper bound of a credit score.
	MaxScore uint64 = 1000
	// MaxBatchSize caps the number of entries in one batch update.
	MaxBatchSize = 100
)

// Address identifies a subject, oracle, signer or owner.
type Address = common.Address

// Hash is a 32-byte digest.
type Hash = common.Hash

// ZeroAddress is the null identifier.
var ZeroAddress = Address{}

// ScoreRecord is the current score state of a subject.
type ScoreRecord struct {
	Score       uint64
	Version     uint64
	LastUpdated time.Time // whole seconds
	Active      bool
	UpdatedBy   Address
}

// Exists reports whether the record was ever written.
func (r ScoreRecord) Exists() bool {
	return !r.LastUpdated.IsZero()
}

// Visible returns the score external readers see: 0 unless active.
func (r ScoreRecord) Visible() uint64 {
	if !r.Active {
		return 0
	}
	return r.Score
}

// ScoreUpdate is the payload an off-chain signer authorizes for one subject.
type ScoreUpdate struct {
	Subject  Address `json:"subject"`
	Score    uint64  `json:"score"`
	Version  uint64  `json:"version"`
	Nonce    uint64  `json:"nonce"`
	Deadline uint64  `json:"deadline"` // unix seconds
}

// BatchScoreUpdate is the payload an off-chain signer authorizes for many subjects.
type BatchScoreUpdate struct {
	Subjects []Address `json:"subjects"`
	Scores   []uint64  `json:"scores"`
	Version  uint64    `json:"version"`
	Nonce    uint64    `json:"nonce"`
	Deadline uint64    `json:"deadline"` // unix seconds
}

// Unix truncates t to whole seconds, the resolution of every stored timestamp.
func Unix(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}
