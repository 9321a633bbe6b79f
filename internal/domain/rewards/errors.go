package rewards

import "errors"

// Sentinel kinds for reward errors.
var (
	ErrInvalidRank = errors.New("no reward tier for rank")
	// ErrInvalidLevel marks a malformed level; it is a configuration error.
	ErrInvalidLevel = errors.New("invalid level")
	ErrNegativeXP   = errors.New("negative experience gain")
)
