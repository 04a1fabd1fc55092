package authorizer

import (
	"errors"

	"github.com/nikhlu07/Credo/internal/domain/model"
)

// Sentinel errors. Each carries a model.Kind for transport mapping.
var (
	ErrUnauthorizedSigner = model.NewError(model.KindAuthorization, "unauthorized signer")
	ErrInvalidSignature   = model.NewError(model.KindAuthorization, "invalid signature")
	ErrNotOwner           = model.NewError(model.KindAuthorization, "caller is not the owner")
	ErrInvalidUser        = model.NewError(model.KindValidation, "invalid user")
	ErrInvalidScore       = model.NewError(model.KindValidation, "invalid score")
	ErrLengthMismatch     = model.NewError(model.KindValidation, "array length mismatch")
	ErrInvalidBatchSize   = model.NewError(model.KindValidation, "invalid batch size")
	ErrInvalidAccount     = model.NewError(model.KindValidation, "invalid account")
	ErrExpiredDeadline    = model.NewError(model.KindTemporal, "signature expired")
	ErrInvalidNonce       = model.NewError(model.KindTemporal, "invalid nonce")
	ErrSignatureReplay    = model.NewError(model.KindTemporal, "signature already used")
)

var reasons = []struct {
	err   error
	label string
}{
	{ErrUnauthorizedSigner, "unauthorized_signer"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrInvalidUser, "invalid_user"},
	{ErrInvalidScore, "invalid_score"},
	{ErrLengthMismatch, "length_mismatch"},
	{ErrInvalidBatchSize, "invalid_batch_size"},
	{ErrExpiredDeadline, "expired_deadline"},
	{ErrInvalidNonce, "invalid_nonce"},
	{ErrSignatureReplay, "signature_replay"},
}

// reason labels err for the rejection metric.
func reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.label
		}
	}
	return "registry_" + model.KindOf(err).String()
}
