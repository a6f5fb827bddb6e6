package soad

import "errors"

// Error taxonomy per spec.md §7, scoped to the socket layer.
var (
	ErrNotInitialized    = errors.New("soad: layer not initialized")
	ErrInvalidRole       = errors.New("soad: invalid role")
	ErrIOError           = errors.New("soad: i/o error")
	ErrNotConnected      = errors.New("soad: not connected")
	ErrTimedOut          = errors.New("soad: timed out")
	ErrConnectionAborted = errors.New("soad: connection aborted")
)
