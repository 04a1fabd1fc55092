package eventbus

import "errors"

var (
	ErrClosed       = errors.New("event bus closed")
	ErrUnknownEvent = errors.New("unknown event")
)
