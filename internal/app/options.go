package service

import (
	"time"

	repository "github.com/okian/spiritrace/internal/adapters/repository"
	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/rewards"
	"github.com/okian/spiritrace/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of resolver goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithGroupQueueSize bounds how many formed groups may wait for a resolver.
func WithGroupQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.groupQueueSize = size
		}
	}
}

// WithSettlementCacheSize bounds the resolved-group tracker.
func WithSettlementCacheSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.settlementCacheSize = size
		}
	}
}

// WithMatchInterval sets how often the matcher polls every queue.
func WithMatchInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.matchInterval = d
		}
	}
}

// WithEntryCost sets the energy every entrant pays to enter a match.
func WithEntryCost(cost int64) Option {
	return func(s *Service) {
		if cost > 0 {
			s.entryCost = cost
		}
	}
}

// WithModes restricts the enabled game modes.
func WithModes(modes ...model.Mode) Option {
	return func(s *Service) {
		s.modes = append([]model.Mode(nil), modes...)
	}
}

// WithTolerance overrides the matchmaking window policy.
func WithTolerance(ratio, growthPerSecond float64) Option {
	return func(s *Service) {
		if ratio > 0 {
			s.toleranceRatio = ratio
		}
		if growthPerSecond >= 0 {
			s.toleranceGrowth = growthPerSecond
		}
	}
}

// WithConflictRetries bounds retries of conflicting record transactions.
func WithConflictRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.conflictRetries = n
		}
	}
}

// WithRecordStore sets the progression and match archive backend.
func WithRecordStore(store RecordStore) Option {
	return func(s *Service) {
		if store != nil {
			s.records = store
		}
	}
}

// WithLeaderboard sets the leaderboard backend.
func WithLeaderboard(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.leaderboard = store
		}
	}
}

// WithWeeklyTTL sets the weekly window lifetime of the default leaderboard.
func WithWeeklyTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.weeklyTTL = ttl
		}
	}
}

// WithRewardTable replaces the reward tiers and item catalog.
func WithRewardTable(t *rewards.Table) Option {
	return func(s *Service) {
		if t != nil {
			s.table = t
		}
	}
}

// WithSeedSource replaces the generator of simulation seeds.
func WithSeedSource(seed func() int64) Option {
	return func(s *Service) {
		if seed != nil {
			s.seed = seed
		}
	}
}

// WithClock replaces the time source of every owned component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
