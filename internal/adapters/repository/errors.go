package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrStorage = errors.New("storage failure")
	ErrCorrupt = errors.New("corrupt record")
	ErrClosed  = errors.New("store closed")
)
