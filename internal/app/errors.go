package service

import "errors"

// Sentinel errors returned while resolving groups.
var (
	ErrInvalidGroup    = errors.New("group must hold exactly three entries")
	ErrDuplicateGroup  = errors.New("group already resolved")
	ErrParticipantBusy = errors.New("participant is already in a live match")

	ErrInvalidQuery = errors.New("invalid history query")
)
