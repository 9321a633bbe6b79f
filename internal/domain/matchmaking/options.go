package matchmaking

import (
	"time"

	"github.com/okian/spiritrace/pkg/logger"
)

// Option applies a configuration option to a Queue.
type Option func(*Queue)

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithToleranceRatio sets the base fraction of an anchor's score it accepts.
func WithToleranceRatio(ratio float64) Option {
	return func(q *Queue) {
		if ratio > 0 {
			q.toleranceRatio = ratio
		}
	}
}

// WithToleranceGrowth sets how much the window widens per second of waiting.
func WithToleranceGrowth(perSecond float64) Option {
	return func(q *Queue) {
		if perSecond >= 0 {
			q.toleranceGrowth = perSecond
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}
