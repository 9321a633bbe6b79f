package simulation

import "errors"

// Sentinel kinds for simulation errors.
var (
	// ErrInvalidParticipantCount is a configuration error; it is never retried.
	ErrInvalidParticipantCount = errors.New("race requires exactly 3 participants")
	ErrMatchNotFound           = errors.New("match not found")
	ErrDecodeRecord            = errors.New("decode match record")
)
