package matchmaking

import "errors"

// Sentinel kinds for queue state errors. None of them mutate state.
var (
	ErrAlreadyQueued = errors.New("participant already queued")
	ErrNotQueued     = errors.New("participant not queued")
	ErrUnknownMode   = errors.New("unknown game mode")
)
