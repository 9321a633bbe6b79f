package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/spiritrace/internal/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleYAML = `
addr: ":9090"
worker_count: 24
group_queue_size: 300
records_backend: sqlite
sqlite_path: /var/lib/spiritrace/records.db
modes:
  - flow_flight
  - deep_dive
`

func TestLoad_Defaults(t *testing.T) {
	convey.Convey("Given no file and no environment", t, func() {
		t.Setenv(config.EnvConfig, "")
		cfg, err := config.Load(context.Background())

		convey.Convey("Then the defaults are returned", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.LeaderboardBackend, convey.ShouldEqual, config.BackendMemory)
		})
	})
}

func TestLoad_Env(t *testing.T) {
	convey.Convey("Given environment overrides", t, func() {
		t.Setenv(config.EnvConfig, "")
		t.Setenv("SPIRITRACE_ADDR", ":8080")
		t.Setenv("SPIRITRACE_WORKER_COUNT", "16")
		t.Setenv("SPIRITRACE_ENTRY_ENERGY_COST", "20")
		t.Setenv("SPIRITRACE_TOLERANCE_RATIO", "0.3")
		t.Setenv("SPIRITRACE_LEADERBOARD_BACKEND", "redis")
		t.Setenv("SPIRITRACE_REDIS_ADDR", "redis:6379")
		cfg, err := config.Load(context.Background())

		convey.Convey("Then they replace the defaults", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
			convey.So(cfg.EntryEnergyCost, convey.ShouldEqual, 20)
			convey.So(cfg.ToleranceRatio, convey.ShouldEqual, 0.3)
			convey.So(cfg.LeaderboardBackend, convey.ShouldEqual, config.BackendRedis)
			convey.So(cfg.RedisAddr, convey.ShouldEqual, "redis:6379")
		})
	})
}

func TestLoad_File(t *testing.T) {
	convey.Convey("Given a YAML file", t, func() {
		t.Setenv(config.EnvConfig, writeConfigFile(t, sampleYAML))
		cfg, err := config.Load(context.Background())

		convey.Convey("Then its values are loaded", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 24)
			convey.So(cfg.GroupQueueSize, convey.ShouldEqual, 300)
			convey.So(cfg.RecordsBackend, convey.ShouldEqual, config.BackendSQLite)
			convey.So(cfg.Modes, convey.ShouldResemble, []string{"flow_flight", "deep_dive"})
		})
	})
}

func TestLoad_FileAndEnv(t *testing.T) {
	convey.Convey("Given a YAML file and environment overrides", t, func() {
		t.Setenv(config.EnvConfig, writeConfigFile(t, sampleYAML))
		t.Setenv("SPIRITRACE_ADDR", ":8081")
		t.Setenv("SPIRITRACE_WORKER_COUNT", "32")
		cfg, err := config.Load(context.Background())

		convey.Convey("Then the environment wins and the file fills the rest", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8081")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
			convey.So(cfg.GroupQueueSize, convey.ShouldEqual, 300)
		})
	})
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(config.EnvConfig, "/non/existent/file.yaml")
		if _, err := config.Load(context.Background()); !errors.Is(err, config.ErrLoadConfig) {
			t.Fatalf("Load() = %v, want ErrLoadConfig", err)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Setenv(config.EnvConfig, writeConfigFile(t, "addr: [unterminated"))
		if _, err := config.Load(context.Background()); !errors.Is(err, config.ErrLoadConfig) {
			t.Fatalf("Load() = %v, want ErrLoadConfig", err)
		}
	})

	t.Run("non-numeric worker count", func(t *testing.T) {
		t.Setenv(config.EnvConfig, "")
		t.Setenv("SPIRITRACE_WORKER_COUNT", "not_a_number")
		if _, err := config.Load(context.Background()); !errors.Is(err, config.ErrLoadConfig) {
			t.Fatalf("Load() = %v, want ErrLoadConfig", err)
		}
	})

	t.Run("empty addr", func(t *testing.T) {
		t.Setenv(config.EnvConfig, "")
		t.Setenv("SPIRITRACE_ADDR", "")
		if _, err := config.Load(context.Background()); !errors.Is(err, config.ErrInvalidConfig) {
			t.Fatalf("Load() = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv(config.EnvConfig, "")
		t.Setenv("SPIRITRACE_RECORDS_BACKEND", "postgres")
		if _, err := config.Load(context.Background()); !errors.Is(err, config.ErrInvalidConfig) {
			t.Fatalf("Load() = %v, want ErrInvalidConfig", err)
		}
	})
}
