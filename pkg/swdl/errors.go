package swdl

import "errors"

var (
	// ErrConfigError covers a malformed or unparseable VBF header.
	ErrConfigError = errors.New("swdl: malformed vbf header")

	// ErrIOError covers failures reading the VBF file's binary body.
	ErrIOError = errors.New("swdl: io error")

	// ErrExpectMismatch is returned when a flash-protocol response does not
	// match its expect pattern.
	ErrExpectMismatch = errors.New("swdl: expect mismatch")
)
