package model

import "time"

// GroupSize is the number of participants in every match.
const GroupSize = 3

// QueueEntry is a participant waiting in one mode's queue.
type QueueEntry struct {
	ParticipantID int64
	EntrantID     int64
	Mode          Mode
	Score         float64
	Profile       ParticipantProfile
	JoinedAt      time.Time
}

// MatchGroup is a set of GroupSize entries taken from one queue in a single step.
// ID is assigned by whoever hands the group off for resolution.
type MatchGroup struct {
	ID       string
	Mode     Mode
	Entries  []QueueEntry
	FormedAt time.Time
}

// Profiles returns the entry profiles in group order.
func (g MatchGroup) Profiles() []ParticipantProfile {
	out := make([]ParticipantProfile, len(g.Entries))
	for i, e := range g.Entries {
		out[i] = e.Profile
	}
	return out
}

// ParticipantIDs returns the participant ids in group order.
func (g MatchGroup) ParticipantIDs() []int64 {
	out := make([]int64, len(g.Entries))
	for i, e := range g.Entries {
		out[i] = e.ParticipantID
	}
	return out
}
