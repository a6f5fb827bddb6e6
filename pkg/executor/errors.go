package executor

import "errors"

var (
	// ErrConfigError covers a malformed sequence item (bad timeout string,
	// missing swdl path, unsupported socket action, ...).
	ErrConfigError = errors.New("executor: config error")

	// ErrExpectMismatch is returned when a send_diag response does not
	// match its expect pattern.
	ErrExpectMismatch = errors.New("executor: expect mismatch")

	// ErrNotConnected is returned when a sequence item other than
	// socket:connect runs before a connection has been established.
	ErrNotConnected = errors.New("executor: not connected")
)
