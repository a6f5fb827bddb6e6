package security

import "errors"

var (
	// ErrCryptoError covers key-length and key-parsing failures (spec.md §7).
	ErrCryptoError = errors.New("security: crypto error")

	// ErrAuthenticationFailed is returned verbatim as "SecurityAccess fail
	// authentication" when the server CMAC does not verify (spec.md §4.4,
	// scenario S4).
	ErrAuthenticationFailed = errors.New("security: SecurityAccess fail authentication")

	// ErrConfigError covers malformed or unsupported sequence parameters,
	// e.g. an algorithm other than AES128 (spec.md §7, SPEC_FULL.md §7).
	ErrConfigError = errors.New("security: config error")

	// ErrExpectMismatch is returned when a Security Access response does
	// not match its configured expect pattern.
	ErrExpectMismatch = errors.New("security: expect mismatch")
)
