package registry

import "github.com/nikhlu07/Credo/internal/domain/model"

// Sentinel errors. Each carries a model.Kind for transport mapping.
var (
	ErrUnauthorized    = model.NewError(model.KindAuthorization, "not authorized oracle")
	ErrNotOwner        = model.NewError(model.KindAuthorization, "caller is not the owner")
	ErrInvalidSubject  = model.NewError(model.KindValidation, "invalid user address")
	ErrScoreOutOfRange = model.NewError(model.KindValidation, "score must be <= 1000")
	ErrLengthMismatch  = model.NewError(model.KindValidation, "arrays length mismatch")
	ErrBatchTooLarge   = model.NewError(model.KindValidation, "batch size too large")
	ErrInvalidAccount  = model.NewError(model.KindValidation, "invalid account")
	ErrAlreadyInactive = model.NewError(model.KindState, "score already inactive")
	ErrIndexOutOfRange = model.NewError(model.KindNotFound, "user index out of range")
)
