package doip

import "errors"

// Error taxonomy per spec.md §7, scoped to the DoIP layer.
var (
	ErrInvalidData = errors.New("doip: invalid frame data")
	ErrWouldBlock  = errors.New("doip: routing not activated")
)
