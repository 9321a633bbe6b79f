package repository

import "time"

// Option applies a configuration option to the TreapStore.
type Option func(*TreapStore)

// WithClock replaces the time source used to pick and expire weekly windows.
func WithClock(now func() time.Time) Option {
	return func(s *TreapStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWeeklyTTL sets how long a weekly window outlives its last write.
func WithWeeklyTTL(ttl time.Duration) Option {
	return func(s *TreapStore) {
		if ttl > 0 {
			s.weeklyTTL = ttl
		}
	}
}

// WithSweepInterval sets how often expired weekly windows are dropped.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *TreapStore) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// RedisOption applies a configuration option to the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisClock replaces the time source used to pick the weekly key.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRedisWeeklyTTL sets the expiry placed on weekly keys.
func WithRedisWeeklyTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.weeklyTTL = ttl
		}
	}
}

// WithKeyPrefix sets the Redis key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}
