package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with defaults", func() {
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then collectors are registered under the default namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.Enabled(), ShouldBeTrue)
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)

				manager.grantsApplied.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "spiritrace_arena_grants_applied_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("race"),
				WithMetricPrefix("v2"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(false),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then names and const labels follow the options", func() {
				So(manager.Enabled(), ShouldBeFalse)
				So(manager.RefreshInterval(), ShouldEqual, 5*time.Second)

				manager.levelUps.Add(2)
				expected := `
# HELP test_race_v2_level_ups_total Entrant levels gained
# TYPE test_race_v2_level_ups_total counter
test_race_v2_level_ups_total{env="test"} 2
`
				err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_race_v2_level_ups_total")
				So(err, ShouldBeNil)
			})
		})

		Convey("When two managers share a registry", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Matchmaking recorders are labelled by mode", func() {
			before := testutil.ToFloat64(globalManager.matchmakingJoins.WithLabelValues("deep_dive"))
			RecordMatchmakingJoin("deep_dive")
			RecordMatchmakingJoin("deep_dive")
			So(testutil.ToFloat64(globalManager.matchmakingJoins.WithLabelValues("deep_dive")), ShouldEqual, before+2)

			UpdateMatchmakingDepth("deep_dive", 7)
			So(testutil.ToFloat64(globalManager.matchmakingDepth.WithLabelValues("deep_dive")), ShouldEqual, 7)

			So(func() {
				RecordMatchmakingLeave("deep_dive")
				RecordMatchFormed("deep_dive")
				RecordMatchWaitSeconds("deep_dive", 12.5)
				RecordSimulationDuration("deep_dive", 0.8)
				RecordMatchResolved("deep_dive")
			}, ShouldNotPanic)
		})

		Convey("Progression counters accumulate", func() {
			levels := testutil.ToFloat64(globalManager.levelUps)
			RecordLevelUps(3)
			RecordLevelUps(0)
			RecordLevelUps(-1)
			So(testutil.ToFloat64(globalManager.levelUps), ShouldEqual, levels+3)

			dupes := testutil.ToFloat64(globalManager.duplicateSettlements)
			RecordDuplicateSettlement()
			So(testutil.ToFloat64(globalManager.duplicateSettlements), ShouldEqual, dupes+1)

			So(func() {
				RecordGrantApplied()
				RecordItemDropped()
				RecordConflictRetry()
				RecordAdmissionFailure("insufficient_energy")
			}, ShouldNotPanic)
		})

		Convey("Leaderboard gauges are labelled by scope", func() {
			UpdateLeaderboardPlayers("weekly", 12)
			UpdateLeaderboardPlayers("alltime", 40)
			So(testutil.ToFloat64(globalManager.leaderboardPlayers.WithLabelValues("weekly")), ShouldEqual, 12)
			So(testutil.ToFloat64(globalManager.leaderboardPlayers.WithLabelValues("alltime")), ShouldEqual, 40)

			sweeps := testutil.ToFloat64(globalManager.leaderboardSweeps)
			RecordLeaderboardSweep(2)
			So(testutil.ToFloat64(globalManager.leaderboardSweeps), ShouldEqual, sweeps+2)

			So(func() {
				RecordLeaderboardUpdate()
				RecordLeaderboardError()
				RecordRepositoryUpdateLatency(0.2)
				RecordRepositoryQueryLatency(0.1)
			}, ShouldNotPanic)
		})

		Convey("Queue, worker, HTTP, error and system recorders do not panic", func() {
			So(func() {
				UpdateQueueCapacity(1024)
				UpdateQueueSize(10)
				UpdateQueueUtilization(10.0 / 1024)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.01)
				UpdateWorkerActiveCount(4)
				UpdateWorkerMessagesPerSecond(3.5)
				RecordWorkerProcessingLatency(2)
				RecordWorkerError()
				RecordHTTPRequest("/leaderboard", "GET", "200")
				RecordHTTPRequestDuration("/leaderboard", "GET", "200", 1.5)
				RecordErrorByComponent("resolver", "simulation")
				RecordErrorByType("validation_error", "warning")
				RecordErrorByEndpoint("/queue/join", "POST", "not_found")
				RecordErrorLatency("resolver", "timeout", 5)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 1024)
		})

		Convey("The exported registry is the one the recorders use", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
			n, err := testutil.GatherAndCount(GetRegistry(), "spiritrace_arena_matchmaking_queue_depth")
			So(err, ShouldBeNil)
			So(n, ShouldBeGreaterThan, 0)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent recorders", t, func() {
		before := testutil.ToFloat64(globalManager.grantsApplied)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					RecordGrantApplied()
					RecordMatchFormed("jump_rush")
				}
			}()
		}
		wg.Wait()
		So(testutil.ToFloat64(globalManager.grantsApplied), ShouldEqual, before+1000)
	})
}
