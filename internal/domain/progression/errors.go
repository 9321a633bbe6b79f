package progression

import "errors"

// Sentinel kinds for progression errors.
var (
	// Admission errors: recoverable, nothing was mutated.
	ErrInsufficientEnergy  = errors.New("insufficient energy")
	ErrNotOwner            = errors.New("entrant not owned by participant")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrEntrantNotFound     = errors.New("entrant not found")

	// ErrAlreadySettled means the grant for (match, participant) was applied before.
	ErrAlreadySettled    = errors.New("match already settled for participant")
	ErrSettlementMissing = errors.New("settlement not found")

	// ErrConflict is transient contention on a record; retried with backoff.
	ErrConflict = errors.New("record store conflict")

	ErrInvalidAmount = errors.New("invalid amount")
)
