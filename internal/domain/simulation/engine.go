// Package simulation runs the seeded three-way race. A race is a pure function
// of (mode constants, seed, profiles): the same inputs always yield the same
// outcome and the same event log.
package simulation

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/scoring"
	"github.com/okian/spiritrace/internal/domain/seeded"
)

const (
	maxSuccessChance = 0.95
	difficultyScale  = 20.0
	minSpeedMult     = 0.1
	speedDecay       = 0.9
	jitterSpan       = 0.5
	avoidBonus       = 5
	hitPenalty       = 3
)

// EventKind enumerates replay events.
type EventKind string

// Replay event kinds.
const (
	ObstacleAvoided EventKind = "obstacle_avoided"
	ObstacleHit     EventKind = "obstacle_hit"
)

// Event is one replay record.
type Event struct {
	Time      float64   `json:"time" msgpack:"time"`
	Kind      EventKind `json:"type" msgpack:"type"`
	Obstacle  string    `json:"obstacle" msgpack:"obstacle"`
	SpeedMult float64   `json:"speed_mult" msgpack:"speed_mult"`
}

// Result is one participant's line in an outcome.
type Result struct {
	ParticipantID int64   `json:"participant_id" msgpack:"participant_id"`
	EntrantID     int64   `json:"entrant_id" msgpack:"entrant_id"`
	Score         int64   `json:"score" msgpack:"score"`
	Distance      float64 `json:"distance" msgpack:"distance"`
	PowerScore    float64 `json:"power_score" msgpack:"power_score"`
	Avoided       int     `json:"obstacles_avoided" msgpack:"obstacles_avoided"`
	Hit           int     `json:"obstacles_hit" msgpack:"obstacles_hit"`
	Rank          int     `json:"rank" msgpack:"rank"`
	Events        []Event `json:"events" msgpack:"events"`
}

// Outcome is the immutable product of a race. Results keep input order.
type Outcome struct {
	Mode     model.Mode `json:"mode" msgpack:"mode"`
	Seed     int64      `json:"seed" msgpack:"seed"`
	Duration float64    `json:"duration" msgpack:"duration"`
	Results  []Result   `json:"players" msgpack:"players"`
}

// Ranked returns a copy of the results ordered by rank.
func (o Outcome) Ranked() []Result {
	out := make([]Result, len(o.Results))
	copy(out, o.Results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Winner returns the rank-1 result.
func (o Outcome) Winner() (Result, bool) {
	for _, r := range o.Results {
		if r.Rank == 1 {
			return r, true
		}
	}
	return Result{}, false
}

// Engine simulates races for one mode.
type Engine struct {
	mode      model.Mode
	constants Constants
}

// Option configures an Engine.
type Option func(*Engine)

// WithConstants overrides the mode's race constants.
func WithConstants(c Constants) Option {
	return func(e *Engine) {
		if c.Tick > 0 && len(c.Obstacles) > 0 {
			e.constants = c
		}
	}
}

// New creates an engine for mode.
func New(mode model.Mode, opts ...Option) *Engine {
	e := &Engine{mode: mode, constants: ConstantsFor(mode)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the engine's mode.
func (e *Engine) Mode() model.Mode { return e.mode }

type racer struct {
	profile model.ParticipantProfile
	speed   float64
	result  Result
}

// Simulate runs the race. It fails only when not given exactly model.GroupSize profiles.
//
// Draw order per tick, per racer in input order: spawn check, then on spawn the
// obstacle index and the success check, then jitter. All draws share one stream.
func (e *Engine) Simulate(seed int64, profiles []model.ParticipantProfile) (Outcome, error) {
	if len(profiles) != model.GroupSize {
		return Outcome{}, fmt.Errorf("%w: got %d", ErrInvalidParticipantCount, len(profiles))
	}
	c := e.constants
	rng := seeded.New(seed, seeded.SimulationSalt)

	racers := make([]*racer, len(profiles))
	for i, p := range profiles {
		racers[i] = &racer{
			profile: p,
			speed:   c.BaseSpeed,
			result: Result{
				ParticipantID: p.ParticipantID,
				EntrantID:     p.EntrantID,
				PowerScore:    scoring.Score(e.mode, p),
				Events:        []Event{},
			},
		}
	}

	ticks := c.Ticks()
	for i := 0; i < ticks; i++ {
		now := float64(i) * c.Tick
		for _, r := range racers {
			e.step(rng, r, now)
		}
	}

	out := Outcome{Mode: e.mode, Seed: seed, Duration: c.Duration, Results: make([]Result, len(racers))}
	for i, r := range racers {
		res := r.result
		bonus := float64(avoidBonus*res.Avoided) - float64(hitPenalty*res.Hit)
		res.Score = int64(math.Floor(res.Distance + bonus))
		out.Results[i] = res
	}
	assignRanks(out.Results)
	return out, nil
}

// step advances one racer by one tick. Products are wrapped in explicit
// float64 conversions so no platform fuses them into FMA instructions.
func (e *Engine) step(rng *seeded.Stream, r *racer, now float64) {
	c := e.constants
	if rng.Float64() < c.SpawnChance {
		ob := c.Obstacles[rng.Index(len(c.Obstacles))]
		ability := float64(r.profile.Abilities.Get(ob.Ability))
		chance := math.Min(maxSuccessChance, ability/float64(ob.Difficulty*difficultyScale))

		var (
			mult float64
			kind EventKind
		)
		if rng.Float64() < chance {
			mult = 1.0 + ability/100.0
			kind = ObstacleAvoided
			r.result.Avoided++
		} else {
			mult = 0.5 - float64(ob.Difficulty*0.1)
			kind = ObstacleHit
			r.result.Hit++
		}
		mult = math.Max(minSpeedMult, mult)
		r.result.Events = append(r.result.Events, Event{Time: now, Kind: kind, Obstacle: ob.Name, SpeedMult: mult})
		r.speed = float64(c.BaseSpeed * mult)
	}

	advance := float64(r.speed*c.Tick) + rng.Uniform(-jitterSpan, jitterSpan)
	r.result.Distance += math.Max(0, advance)
	r.speed = float64(r.speed*speedDecay) + float64(c.BaseSpeed*(1-speedDecay))
}

// assignRanks orders by score desc; equal scores keep input order.
func assignRanks(results []Result) {
	idx := make([]int, len(results))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return results[idx[a]].Score > results[idx[b]].Score
	})
	for rank, i := range idx {
		results[i].Rank = rank + 1
	}
}
