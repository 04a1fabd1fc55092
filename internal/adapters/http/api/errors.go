package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nikhlu07/Credo/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = model.NewError(model.KindValidation, "bad request")
	ErrRateLimited = errors.New("rate limited")
	ErrInternal    = errors.New("internal error")
)

// Wrap annotates err with the handler operation.
func Wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

// WrapKind annotates cause with op and classifies it as kind.
func WrapKind(op string, kind, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, cause)
}

// NewKind reports kind for op without a further cause.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// statusFor maps an error class to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	if errors.Is(err, ErrRateLimited) {
		return http.StatusTooManyRequests, "rate_limited"
	}
	switch model.KindOf(err) {
	case model.KindAuthorization:
		return http.StatusForbidden, "unauthorized"
	case model.KindValidation:
		return http.StatusBadRequest, "bad_request"
	case model.KindTemporal:
		return http.StatusConflict, "rejected"
	case model.KindState:
		return http.StatusConflict, "conflict"
	case model.KindNotFound:
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// StatusFor returns the HTTP status err maps to.
func StatusFor(err error) int {
	status, _ := statusFor(err)
	return status
}
