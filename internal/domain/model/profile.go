// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// Ability names one of the six entrant attributes.
type Ability int

// Abilities in canonical order.
const (
	Run Ability = iota
	Jump
	Swim
	Dives
	Fly
	Maneuver
)

var abilityNames = [...]string{"run", "jump", "swim", "dives", "fly", "maneuver"}

func (a Ability) String() string {
	if a < Run || a > Maneuver {
		return fmt.Sprintf("ability(%d)", int(a))
	}
	return abilityNames[a]
}

// Abilities holds the six attribute values of an entrant.
type Abilities struct {
	Run      int `json:"run" msgpack:"run"`
	Jump     int `json:"jump" msgpack:"jump"`
	Swim     int `json:"swim" msgpack:"swim"`
	Dives    int `json:"dives" msgpack:"dives"`
	Fly      int `json:"fly" msgpack:"fly"`
	Maneuver int `json:"maneuver" msgpack:"maneuver"`
}

// Get returns the value of a single ability.
func (a Abilities) Get(ab Ability) int {
	switch ab {
	case Run:
		return a.Run
	case Jump:
		return a.Jump
	case Swim:
		return a.Swim
	case Dives:
		return a.Dives
	case Fly:
		return a.Fly
	case Maneuver:
		return a.Maneuver
	}
	return 0
}

// Rarity multipliers by rarity name.
var rarityFactors = map[string]float64{
	"common":    1.0,
	"rare":      1.2,
	"epic":      1.5,
	"legendary": 2.0,
	"mythical":  2.5,
}

// RarityFactor resolves a rarity name (case-insensitive) into its multiplier.
func RarityFactor(name string) (float64, bool) {
	f, ok := rarityFactors[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// ParticipantProfile is the per-match snapshot of an entrant fielded by a participant.
// It is never mutated once a match starts.
type ParticipantProfile struct {
	ParticipantID int64     `json:"participant_id" msgpack:"participant_id"`
	EntrantID     int64     `json:"entrant_id" msgpack:"entrant_id"`
	Abilities     Abilities `json:"abilities" msgpack:"abilities"`
	Level         int       `json:"level" msgpack:"level"`
	Rarity        float64   `json:"rarity" msgpack:"rarity"`
}

// Validate checks the caller contract for a profile.
func (p ParticipantProfile) Validate() error {
	switch {
	case p.ParticipantID == 0:
		return fmt.Errorf("%w: missing participant id", ErrInvalidProfile)
	case p.EntrantID == 0:
		return fmt.Errorf("%w: missing entrant id", ErrInvalidProfile)
	case p.Level < 1:
		return fmt.Errorf("%w: level must be >= 1", ErrInvalidProfile)
	case p.Rarity < 1.0:
		return fmt.Errorf("%w: rarity must be >= 1.0", ErrInvalidProfile)
	}
	for ab := Run; ab <= Maneuver; ab++ {
		if p.Abilities.Get(ab) < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalidProfile, ab)
		}
	}
	return nil
}
