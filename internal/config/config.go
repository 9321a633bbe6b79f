// Package config defines process configuration and its layered loading:
// defaults, then an optional YAML file, then SPIRITRACE_* environment variables.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/okian/spiritrace/internal/domain/model"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// GroupQueueSize bounds formed groups waiting for a resolver.
	GroupQueueSize int `koanf:"group_queue_size"`

	// WorkerCount sets the number of resolver workers.
	WorkerCount int `koanf:"worker_count"`

	// SettlementCacheSize bounds the resolved-group tracker.
	SettlementCacheSize int `koanf:"settlement_cache_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// MatchIntervalMS is the matcher polling period.
	MatchIntervalMS int `koanf:"match_interval_ms"`

	EntryEnergyCost int64   `koanf:"entry_energy_cost"`
	ToleranceRatio  float64 `koanf:"tolerance_ratio"`
	ToleranceGrowth float64 `koanf:"tolerance_growth"`
	ConflictRetries int     `koanf:"conflict_retries"`

	// RecordsBackend is memory or sqlite.
	RecordsBackend string `koanf:"records_backend"`
	SQLitePath     string `koanf:"sqlite_path"`

	// LeaderboardBackend is memory or redis.
	LeaderboardBackend string `koanf:"leaderboard_backend"`
	RedisAddr          string `koanf:"redis_addr"`
	RedisDB            int    `koanf:"redis_db"`

	WeeklyTTLHours int `koanf:"weekly_ttl_hours"`

	// Modes lists the enabled game modes; empty enables all.
	Modes []string `koanf:"modes"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		GroupQueueSize:      4096,
		WorkerCount:         runtime.NumCPU() * 2,
		SettlementCacheSize: 100_000,
		MaxLeaderboardLimit: 100,
		MatchIntervalMS:     500,
		EntryEnergyCost:     15,
		ToleranceRatio:      0.2,
		ToleranceGrowth:     0.01,
		ConflictRetries:     5,
		RecordsBackend:      BackendMemory,
		SQLitePath:          "spiritrace.db",
		LeaderboardBackend:  BackendMemory,
		RedisAddr:           "localhost:6379",
		WeeklyTTLHours:      8 * 24,
	}
}

// MatchInterval returns MatchIntervalMS as a duration.
func (c *Config) MatchInterval() time.Duration {
	return time.Duration(c.MatchIntervalMS) * time.Millisecond
}

// WeeklyTTL returns WeeklyTTLHours as a duration.
func (c *Config) WeeklyTTL() time.Duration {
	return time.Duration(c.WeeklyTTLHours) * time.Hour
}

// GameModes resolves Modes. Unknown names are an error.
func (c *Config) GameModes() ([]model.Mode, error) {
	out := make([]model.Mode, 0, len(c.Modes))
	for _, name := range c.Modes {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m := model.Mode(name)
		if !m.Valid() {
			return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, name)
		}
		out = append(out, m)
	}
	return out, nil
}

// Validate checks fields that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.EntryEnergyCost <= 0:
		return fmt.Errorf("%w: entry_energy_cost must be positive", ErrInvalidConfig)
	case c.MatchIntervalMS <= 0:
		return fmt.Errorf("%w: match_interval_ms must be positive", ErrInvalidConfig)
	case c.ToleranceRatio <= 0 || c.ToleranceGrowth < 0:
		return fmt.Errorf("%w: tolerance must be positive", ErrInvalidConfig)
	case c.ConflictRetries < 0:
		return fmt.Errorf("%w: conflict_retries must not be negative", ErrInvalidConfig)
	case c.WeeklyTTLHours < 24*7:
		return fmt.Errorf("%w: weekly_ttl_hours must cover a week", ErrInvalidConfig)
	}

	switch c.RecordsBackend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: sqlite_path required for sqlite records", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown records_backend %q", ErrInvalidConfig, c.RecordsBackend)
	}

	switch c.LeaderboardBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("%w: redis_addr required for redis leaderboard", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown leaderboard_backend %q", ErrInvalidConfig, c.LeaderboardBackend)
	}

	_, err := c.GameModes()
	return err
}
