package model

import "errors"

// Kind classifies protocol errors so transports can map them without knowing every sentinel.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindValidation
	KindTemporal
	KindState
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindTemporal:
		return "temporal"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified sentinel. Compare with errors.Is against the package variables.
type Error struct {
	kind Kind
	msg  string
}

// NewError builds a classified sentinel.
func NewError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the error class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the class of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}
