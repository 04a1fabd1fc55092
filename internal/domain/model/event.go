package model

import (
	"context"
	"time"
)

// Event names, also used as event bus topics.
const (
	EventScoreUpdated              = "ScoreUpdated"
	EventUserRegistered            = "UserRegistered"
	EventScoreDeactivated          = "ScoreDeactivated"
	EventOracleAuthorized          = "OracleAuthorized"
	EventOwnershipTransferred      = "OwnershipTransferred"
	EventScoreUpdateSubmitted      = "ScoreUpdateSubmitted"
	EventBatchScoreUpdateSubmitted = "BatchScoreUpdateSubmitted"
	EventSignerAuthorized          = "SignerAuthorized"
	EventSignerUpdated             = "SignerUpdated"
	EventRegistryUpdated           = "RegistryUpdated"
)

// Event is a protocol event emitted after a state change has been committed.
type Event interface {
	EventName() string
}

// ScoreUpdated is emitted by the registry on every accepted write.
type ScoreUpdated struct {
	Subject   Address   `json:"subject"`
	Score     uint64    `json:"score"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Updater   Address   `json:"updater"`
}

// UserRegistered is emitted the first time a subject is scored.
type UserRegistered struct {
	Subject   Address   `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoreDeactivated is emitted when a subject's score is deactivated.
type ScoreDeactivated struct {
	Subject Address `json:"subject"`
}

// OracleAuthorized is emitted when an oracle's write access changes.
type OracleAuthorized struct {
	Account Address `json:"account"`
	Enabled bool    `json:"enabled"`
}

// OwnershipTransferred is emitted when a component changes owner.
type OwnershipTransferred struct {
	Component string  `json:"component"`
	Previous  Address `json:"previous"`
	Next      Address `json:"next"`
}

// ScoreUpdateSubmitted is emitted by the authorizer for an accepted single update.
type ScoreUpdateSubmitted struct {
	Subject Address `json:"subject"`
	Score   uint64  `json:"score"`
	Version uint64  `json:"version"`
	Signer  Address `json:"signer"`
	Nonce   uint64  `json:"nonce"`
}

// BatchScoreUpdateSubmitted is emitted by the authorizer for an accepted batch.
type BatchScoreUpdateSubmitted struct {
	Count   int     `json:"count"`
	Version uint64  `json:"version"`
	Signer  Address `json:"signer"`
	Nonce   uint64  `json:"nonce"`
}

// SignerAuthorized is emitted when a signer's authorization changes.
type SignerAuthorized struct {
	Account Address `json:"account"`
	Enabled bool    `json:"enabled"`
}

// SignerUpdated is emitted when the primary trusted signer is swapped.
type SignerUpdated struct {
	Previous Address `json:"previous"`
	Next     Address `json:"next"`
}

// RegistryUpdated is emitted when the authorizer is pointed at another registry.
type RegistryUpdated struct {
	Previous Address `json:"previous"`
	Next     Address `json:"next"`
}

func (ScoreUpdated) EventName() string              { return EventScoreUpdated }
func (UserRegistered) EventName() string            { return EventUserRegistered }
func (ScoreDeactivated) EventName() string          { return EventScoreDeactivated }
func (OracleAuthorized) EventName() string          { return EventOracleAuthorized }
func (OwnershipTransferred) EventName() string      { return EventOwnershipTransferred }
func (ScoreUpdateSubmitted) EventName() string      { return EventScoreUpdateSubmitted }
func (BatchScoreUpdateSubmitted) EventName() string { return EventBatchScoreUpdateSubmitted }
func (SignerAuthorized) EventName() string          { return EventSignerAuthorized }
func (SignerUpdated) EventName() string             { return EventSignerUpdated }
func (RegistryUpdated) EventName() string           { return EventRegistryUpdated }

// Emitter receives committed events. Emit runs while the emitting component
// still holds its lock, so implementations must not block for long and must
// not call back into that component.
type Emitter interface {
	Emit(ctx context.Context, events ...Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, events ...Event)

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, events ...Event) { f(ctx, events...) }

// NopEmitter drops every event.
var NopEmitter Emitter = EmitterFunc(func(context.Context, ...Event) {})
