package rewards

import (
	"fmt"
	"math"
)

const (
	thresholdBase     = 100.0
	thresholdExponent = 1.2
)

// Threshold is the experience consumed to advance from level to level+1:
// floor(100 * level^1.2).
func Threshold(level int) (int64, error) {
	if level < 1 {
		return 0, fmt.Errorf("%w: level %d", ErrInvalidLevel, level)
	}
	th := int64(math.Floor(thresholdBase * math.Pow(float64(level), thresholdExponent)))
	if th <= 0 {
		return 0, fmt.Errorf("%w: non-positive threshold at level %d", ErrInvalidLevel, level)
	}
	return th, nil
}

// Progress is the result of adding experience to an entrant.
type Progress struct {
	Level        int
	XP           int64
	LevelsGained int
}

// ApplyXP adds gain to (level, xp) and performs every level-up it pays for.
// The returned XP is always below Threshold(Level).
func ApplyXP(level int, xp, gain int64) (Progress, error) {
	if gain < 0 {
		return Progress{}, fmt.Errorf("%w: %d", ErrNegativeXP, gain)
	}
	p := Progress{Level: level, XP: xp + gain}
	for {
		th, err := Threshold(p.Level)
		if err != nil {
			return Progress{}, err
		}
		if p.XP < th {
			return p, nil
		}
		p.XP -= th
		p.Level++
		p.LevelsGained++
	}
}
