package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/spiritrace/internal/config"
	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/pkg/logger"
	"github.com/okian/spiritrace/pkg/metrics"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestBuildService(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		cfg := config.New()
		cfg.Modes = []string{"deep_dive"}

		convey.Convey("Then an in-memory service with the configured modes is built", func() {
			svc, err := buildService(context.Background(), cfg, logger.Get())
			convey.So(err, convey.ShouldBeNil)
			defer svc.Stop()
			convey.So(svc.Modes(), convey.ShouldResemble, []model.Mode{model.DeepDive})
		})
	})

	convey.Convey("Given SQLite records and a Redis leaderboard", t, func() {
		mr := miniredis.RunT(t)
		cfg := config.New()
		cfg.RecordsBackend = config.BackendSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "records.db")
		cfg.LeaderboardBackend = config.BackendRedis
		cfg.RedisAddr = mr.Addr()

		convey.Convey("Then both backends are opened", func() {
			svc, err := buildService(context.Background(), cfg, logger.Get())
			convey.So(err, convey.ShouldBeNil)
			defer svc.Stop()
			stats := svc.GetStats()
			convey.So(stats["alltimePlayers"], convey.ShouldEqual, 0)
		})
	})

	convey.Convey("Given an unreachable Redis", t, func() {
		cfg := config.New()
		cfg.LeaderboardBackend = config.BackendRedis
		cfg.RedisAddr = freeAddr(t)

		convey.Convey("Then building gives up when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			_, err := buildService(ctx, cfg, logger.Get())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Given an unknown mode", t, func() {
		cfg := config.New()
		cfg.Modes = []string{"chess"}

		convey.Convey("Then nothing is built", func() {
			_, err := buildService(context.Background(), cfg, logger.Get())
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a running server", t, func() {
		cfg := config.New()
		cfg.Addr = freeAddr(t)
		cfg.WorkerCount = 1
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- run(ctx, cfg, logger.Get()) }()

		var resp *http.Response
		var err error
		for i := 0; i < 100; i++ {
			resp, err = http.Get("http://" + cfg.Addr + "/stats")
			if err == nil {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}

		convey.Convey("Then it serves the API and stops cleanly on cancel", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			_ = resp.Body.Close()

			cancel()
			select {
			case err := <-done:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(10 * time.Second):
				convey.So("run did not return", convey.ShouldBeEmpty)
			}
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	convey.Convey("When system metrics are refreshed", t, func() {
		updateSystemMetrics()

		convey.Convey("Then the goroutine gauge is populated", func() {
			n, err := testutil.GatherAndCount(metrics.GetRegistry(), "spiritrace_arena_system_goroutine_count")
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 1)
		})
	})
}
