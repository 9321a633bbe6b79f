// Package repository holds the win/match leaderboards: an in-memory treap
// store and a Redis sorted-set store behind one interface.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scope selects a leaderboard window.
type Scope string

// Leaderboard scopes.
const (
	AllTime Scope = "alltime"
	Weekly  Scope = "weekly"
)

// DefaultWeeklyTTL is how long a weekly window stays readable after its last write.
const DefaultWeeklyTTL = 8 * 24 * time.Hour

// ParseScope resolves a scope name; empty means all-time.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", AllTime:
		return AllTime, nil
	case Weekly:
		return Weekly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Entry is one leaderboard row.
type Entry struct {
	Rank          int     `json:"rank"`
	ParticipantID int64   `json:"participant_id"`
	Wins          int64   `json:"wins"`
	Matches       int64   `json:"matches"`
	WinRate       float64 `json:"win_rate"`
}

// Placement is one participant's finish in a match.
type Placement struct {
	ParticipantID int64
	Rank          int
}

// Store keeps all-time and weekly win/match counters.
type Store interface {
	// RecordOutcome adds one match to every placed participant and one win to
	// the rank-1 participant, in both scopes, atomically.
	RecordOutcome(ctx context.Context, at time.Time, placements []Placement) error

	// TopN returns up to n entries ordered by wins desc, then participant id asc.
	TopN(ctx context.Context, scope Scope, n int) ([]Entry, error)

	// Rank returns the 1-based position of a participant.
	// Returns ErrNotFound if the participant is unranked in scope.
	Rank(ctx context.Context, scope Scope, participantID int64) (Entry, error)

	// Count returns the number of ranked participants in scope.
	Count(ctx context.Context, scope Scope) (int, error)

	// ResetWeekly discards the weekly window containing at.
	ResetWeekly(ctx context.Context, at time.Time) error

	Close() error
}

// WeekKey names the ISO week containing t, e.g. "2025-W07".
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func winRate(wins, matches int64) float64 {
	if matches == 0 {
		return 0
	}
	return float64(wins) / float64(matches)
}

// validatePlacements checks that exactly one participant won and nobody is
// listed twice.
func validatePlacements(placements []Placement) (winner int64, err error) {
	if len(placements) == 0 {
		return 0, fmt.Errorf("%w: no placements", ErrInvalidOutcome)
	}
	seen := make(map[int64]struct{}, len(placements))
	winners := 0
	for _, p := range placements {
		if _, dup := seen[p.ParticipantID]; dup {
			return 0, fmt.Errorf("%w: participant %d listed twice", ErrInvalidOutcome, p.ParticipantID)
		}
		seen[p.ParticipantID] = struct{}{}
		if p.Rank == 1 {
			winners++
			winner = p.ParticipantID
		}
	}
	if winners != 1 {
		return 0, fmt.Errorf("%w: %d winners", ErrInvalidOutcome, winners)
	}
	return winner, nil
}
