// Package scoring turns an entrant's attributes into a single comparable
// strength value. Matchmaking uses it for tolerance windows and the
// simulation reports it alongside results.
package scoring

import "github.com/okian/spiritrace/internal/domain/model"

// Weights is the per-mode linear combination applied to a profile.
// Attributes with a zero weight do not participate.
type Weights struct {
	Run      float64
	Jump     float64
	Swim     float64
	Dives    float64
	Fly      float64
	Maneuver float64
	Level    float64
}

// levelWeight is shared by every mode.
const levelWeight = 5

var modeWeights = map[model.Mode]Weights{
	model.FlowFlight:       {Fly: 2.0, Maneuver: 1.5, Run: 1.0, Level: levelWeight},
	model.DeepDive:         {Dives: 2.0, Swim: 1.5, Maneuver: 1.0, Level: levelWeight},
	model.RhythmPath:       {Maneuver: 2.0, Jump: 1.5, Run: 1.0, Level: levelWeight},
	model.JumpRush:         {Jump: 2.0, Run: 1.5, Maneuver: 1.0, Level: levelWeight},
	model.CollectingFrenzy: {Run: 2.0, Maneuver: 1.5, Swim: 1.0, Level: levelWeight},
}

// WeightsFor returns the weight table for mode.
func WeightsFor(mode model.Mode) (Weights, bool) {
	w, ok := modeWeights[mode]
	return w, ok
}

// Score computes the strength of profile in mode. Unknown modes use the
// default mode's weights. Negative inputs are a caller contract violation.
func Score(mode model.Mode, p model.ParticipantProfile) float64 {
	w, ok := modeWeights[mode]
	if !ok {
		w = modeWeights[model.DefaultMode]
	}
	a := p.Abilities
	sum := float64(a.Fly)*w.Fly +
		float64(a.Maneuver)*w.Maneuver +
		float64(a.Run)*w.Run +
		float64(a.Jump)*w.Jump +
		float64(a.Swim)*w.Swim +
		float64(a.Dives)*w.Dives +
		float64(p.Level)*w.Level
	return sum * p.Rarity
}
