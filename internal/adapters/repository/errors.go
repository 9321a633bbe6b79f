package repository

import "errors"

// Sentinel kinds for leaderboard errors.
var (
	ErrNotFound       = errors.New("participant unranked")
	ErrInvalidLimit   = errors.New("invalid leaderboard limit")
	ErrInvalidScope   = errors.New("invalid leaderboard scope")
	ErrInvalidOutcome = errors.New("invalid match outcome")
)
