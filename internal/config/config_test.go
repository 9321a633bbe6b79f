package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/spiritrace/internal/config"
	"github.com/okian/spiritrace/internal/domain/model"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.EntryEnergyCost, convey.ShouldEqual, 15)
			convey.So(cfg.MatchInterval(), convey.ShouldEqual, 500*time.Millisecond)
			convey.So(cfg.WeeklyTTL(), convey.ShouldEqual, 8*24*time.Hour)
			convey.So(cfg.RecordsBackend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then an empty mode list enables nothing explicitly", func() {
			modes, err := cfg.GameModes()
			convey.So(err, convey.ShouldBeNil)
			convey.So(modes, convey.ShouldBeEmpty)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty addr", func(c *config.Config) { c.Addr = " " }},
		{"zero entry cost", func(c *config.Config) { c.EntryEnergyCost = 0 }},
		{"zero match interval", func(c *config.Config) { c.MatchIntervalMS = 0 }},
		{"zero tolerance ratio", func(c *config.Config) { c.ToleranceRatio = 0 }},
		{"negative retries", func(c *config.Config) { c.ConflictRetries = -1 }},
		{"weekly ttl under a week", func(c *config.Config) { c.WeeklyTTLHours = 24 }},
		{"unknown records backend", func(c *config.Config) { c.RecordsBackend = "postgres" }},
		{"sqlite without path", func(c *config.Config) {
			c.RecordsBackend = config.BackendSQLite
			c.SQLitePath = ""
		}},
		{"unknown leaderboard backend", func(c *config.Config) { c.LeaderboardBackend = "memcached" }},
		{"redis without addr", func(c *config.Config) {
			c.LeaderboardBackend = config.BackendRedis
			c.RedisAddr = ""
		}},
		{"unknown mode", func(c *config.Config) { c.Modes = []string{"flow_flight", "chess"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.New()
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, config.ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	t.Run("known modes resolve in order", func(t *testing.T) {
		cfg := config.New()
		cfg.Modes = []string{"jump_rush", " deep_dive "}
		modes, err := cfg.GameModes()
		if err != nil {
			t.Fatal(err)
		}
		if len(modes) != 2 || modes[0] != model.JumpRush || modes[1] != model.DeepDive {
			t.Fatalf("GameModes() = %v", modes)
		}
	})
}
