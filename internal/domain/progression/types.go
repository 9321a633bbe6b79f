// Package progression applies match rewards and entry costs to participant
// and entrant records. Every mutation runs inside one record-store
// transaction together with its ledger entries, and transient conflicts are
// retried with exponential backoff.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/spiritrace/internal/domain/model"
)

// Resource names a balance tracked by the ledger.
type Resource string

// Ledger resources.
const (
	Lumens Resource = "lumens"
	Energy Resource = "energy"
)

// Participant is the account that owns entrants and receives currency.
type Participant struct {
	ID        int64     `json:"id"`
	Currency  int64     `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entrant is the unit a participant fields into a match.
type Entrant struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Level     int       `json:"level"`
	XP        int64     `json:"xp"`
	Energy    int64     `json:"energy"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is an immutable signed balance change.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	ParticipantID int64     `json:"participant_id"`
	EntrantID     int64     `json:"entrant_id,omitempty"`
	Resource      Resource  `json:"resource"`
	Delta         int64     `json:"delta"`
	Balance       int64     `json:"balance"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// Settlement records that a participant was paid for a match.
type Settlement struct {
	MatchID       string    `json:"match_id"`
	ParticipantID int64     `json:"participant_id"`
	EntrantID     int64     `json:"entrant_id"`
	Rank          int       `json:"rank"`
	XP            int64     `json:"xp"`
	Currency      int64     `json:"currency"`
	ItemID        string    `json:"item_id,omitempty"`
	Level         int       `json:"level"`
	LevelsGained  int       `json:"levels_gained"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryQuery selects a page of one participant's finished matches, newest
// first. An empty Mode means every mode.
type HistoryQuery struct {
	ParticipantID int64
	Mode          model.Mode
	Limit         int
	Offset        int
}

// HistoryEntry is one finished match seen from one participant. Settled is
// false while the payout is still pending.
type HistoryEntry struct {
	MatchID   string     `json:"match_id"`
	Mode      model.Mode `json:"mode"`
	EntrantID int64      `json:"entrant_id"`
	Rank      int        `json:"rank"`
	Score     int64      `json:"score"`
	XP        int64      `json:"xp"`
	Currency  int64      `json:"currency"`
	ItemID    string     `json:"item_id,omitempty"`
	Settled   bool       `json:"settled"`
	CreatedAt time.Time  `json:"created_at"`
}

// EntrantRef pairs an entrant with the participant fielding it.
type EntrantRef struct {
	ParticipantID int64
	EntrantID     int64
}

// Tx is the view of the record store inside one atomic unit. Writes become
// visible to other transactions only when the unit commits.
type Tx interface {
	Participant(ctx context.Context, id int64) (Participant, error)
	Entrant(ctx context.Context, id int64) (Entrant, error)
	PutParticipant(ctx context.Context, p Participant) error
	PutEntrant(ctx context.Context, e Entrant) error
	AppendLedger(ctx context.Context, e LedgerEntry) error
	// MarkSettled reserves (match, participant). It returns false when that
	// pair was already settled.
	MarkSettled(ctx context.Context, s Settlement) (bool, error)
}

// Store runs functions atomically against participant and entrant records.
type Store interface {
	// WithTx commits when fn returns nil and rolls back otherwise. A lost
	// race is reported as ErrConflict.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// Ledger returns the newest entries of a participant, newest first.
	Ledger(ctx context.Context, participantID int64, limit int) ([]LedgerEntry, error)
	// Settlement returns a stored payout.
	Settlement(ctx context.Context, matchID string, participantID int64) (Settlement, error)
}

// RewardReason is the ledger reason for a match payout.
func RewardReason(matchID string) string { return "battle_reward_match_" + matchID }

// EntryCostReason is the ledger reason for a match entry cost.
func EntryCostReason(matchID string) string { return "entry_cost_match_" + matchID }

// InsufficientEnergyError names the entrant that could not pay.
type InsufficientEnergyError struct {
	EntrantID int64
	Have      int64
	Need      int64
}

func (e *InsufficientEnergyError) Error() string {
	return fmt.Sprintf("entrant %d has %d energy, needs %d", e.EntrantID, e.Have, e.Need)
}

func (e *InsufficientEnergyError) Unwrap() error { return ErrInsufficientEnergy }

// EntrantError ties an admission failure to one entrant.
type EntrantError struct {
	EntrantID int64
	Err       error
}

func (e *EntrantError) Error() string {
	return fmt.Sprintf("entrant %d: %v", e.EntrantID, e.Err)
}

func (e *EntrantError) Unwrap() error { return e.Err }

// FailedEntrant reports which entrant an admission error is about, if any.
func FailedEntrant(err error) (int64, bool) {
	var ie *InsufficientEnergyError
	if errors.As(err, &ie) {
		return ie.EntrantID, true
	}
	var ee *EntrantError
	if errors.As(err, &ee) {
		return ee.EntrantID, true
	}
	return 0, false
}
