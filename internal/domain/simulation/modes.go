package simulation

import "github.com/okian/spiritrace/internal/domain/model"

// Obstacle is a catalog entry: which ability resolves it and how hard it is.
type Obstacle struct {
	Name       string
	Ability    model.Ability
	Difficulty float64
}

// Constants parameterize one mode's race.
type Constants struct {
	Duration    float64 // seconds
	Tick        float64 // seconds per tick
	BaseSpeed   float64
	SpawnChance float64
	Obstacles   []Obstacle
}

// Ticks is the number of iterations a race runs for.
func (c Constants) Ticks() int {
	if c.Tick <= 0 {
		return 0
	}
	return int(c.Duration/c.Tick + 0.5)
}

const (
	raceDuration    = 60.0
	raceTick        = 0.1
	raceBaseSpeed   = 10.0
	raceSpawnChance = 0.15
)

var catalogs = map[model.Mode][]Obstacle{
	model.FlowFlight: {
		{Name: "wind_gust", Ability: model.Maneuver, Difficulty: 1.0},
		{Name: "narrow_gap", Ability: model.Maneuver, Difficulty: 1.2},
		{Name: "updraft", Ability: model.Fly, Difficulty: 0.8},
		{Name: "downdraft", Ability: model.Fly, Difficulty: 1.5},
		{Name: "cloud_wall", Ability: model.Run, Difficulty: 1.3},
	},
	model.DeepDive: {
		{Name: "current_surge", Ability: model.Maneuver, Difficulty: 1.0},
		{Name: "pressure_zone", Ability: model.Dives, Difficulty: 1.3},
		{Name: "kelp_tangle", Ability: model.Swim, Difficulty: 1.1},
		{Name: "whirlpool", Ability: model.Swim, Difficulty: 1.5},
		{Name: "reef_wall", Ability: model.Dives, Difficulty: 1.2},
	},
	model.RhythmPath: {
		{Name: "off_beat", Ability: model.Maneuver, Difficulty: 1.0},
		{Name: "stumble_stone", Ability: model.Run, Difficulty: 1.1},
		{Name: "hurdle", Ability: model.Jump, Difficulty: 1.2},
		{Name: "tempo_shift", Ability: model.Maneuver, Difficulty: 1.4},
	},
	model.JumpRush: {
		{Name: "gap", Ability: model.Jump, Difficulty: 1.0},
		{Name: "high_ledge", Ability: model.Jump, Difficulty: 1.4},
		{Name: "loose_rock", Ability: model.Run, Difficulty: 1.1},
		{Name: "crosswind", Ability: model.Maneuver, Difficulty: 1.2},
	},
	model.CollectingFrenzy: {
		{Name: "bramble", Ability: model.Run, Difficulty: 1.0},
		{Name: "puddle", Ability: model.Swim, Difficulty: 0.9},
		{Name: "thornbush", Ability: model.Maneuver, Difficulty: 1.2},
		{Name: "log_jam", Ability: model.Jump, Difficulty: 1.1},
	},
}

// ConstantsFor returns the race constants of mode. Unknown modes get the
// default mode's catalog.
func ConstantsFor(mode model.Mode) Constants {
	obstacles, ok := catalogs[mode]
	if !ok {
		obstacles = catalogs[model.DefaultMode]
	}
	return Constants{
		Duration:    raceDuration,
		Tick:        raceTick,
		BaseSpeed:   raceBaseSpeed,
		SpawnChance: raceSpawnChance,
		Obstacles:   obstacles,
	}
}
