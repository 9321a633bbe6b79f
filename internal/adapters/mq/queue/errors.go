package queue

import "errors"

// Sentinel kinds for group queue errors.
var (
	ErrClosed = errors.New("group queue closed")
	ErrFull   = errors.New("group queue full")
)
