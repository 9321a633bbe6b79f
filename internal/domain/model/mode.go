package model

// Mode identifies a game mode. Every mode has its own queue, scoring weights
// and obstacle catalog.
type Mode string

// Supported modes.
const (
	FlowFlight       Mode = "flow_flight"
	DeepDive         Mode = "deep_dive"
	RhythmPath       Mode = "rhythm_path"
	JumpRush         Mode = "jump_rush"
	CollectingFrenzy Mode = "collecting_frenzy"
)

// DefaultMode is used when a caller does not name one.
const DefaultMode = FlowFlight

// Modes returns all supported modes in a stable order.
func Modes() []Mode {
	return []Mode{FlowFlight, DeepDive, RhythmPath, JumpRush, CollectingFrenzy}
}

// ParseMode maps a mode name to a Mode. An empty name yields DefaultMode.
func ParseMode(s string) (Mode, bool) {
	if s == "" {
		return DefaultMode, true
	}
	m := Mode(s)
	return m, m.Valid()
}

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	switch m {
	case FlowFlight, DeepDive, RhythmPath, JumpRush, CollectingFrenzy:
		return true
	}
	return false
}

func (m Mode) String() string { return string(m) }
