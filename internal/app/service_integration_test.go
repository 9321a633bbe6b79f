package service_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	. "github.com/smartystreets/goconvey/convey"

	recordsqlite "github.com/okian/spiritrace/internal/adapters/records/sqlite"
	repository "github.com/okian/spiritrace/internal/adapters/repository"
	service "github.com/okian/spiritrace/internal/app"
	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
)

// waitFor polls cond until it holds or timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func allPlayed(svc *service.Service, pids []int64) func() bool {
	return func() bool {
		return lo.EveryBy(pids, func(pid int64) bool {
			_, ok := svc.LastMatch(pid)
			return ok
		})
	}
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a running service over SQLite records and a Redis leaderboard", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		store, err := recordsqlite.Open(filepath.Join(t.TempDir(), "records.db"))
		So(err, ShouldBeNil)
		mr := miniredis.RunT(t)
		board := repository.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

		svc := service.New(
			service.WithRecordStore(store),
			service.WithLeaderboard(board),
			service.WithWorkerCount(4),
			service.WithMatchInterval(10*time.Millisecond),
		)
		defer svc.Stop()
		So(svc.Start(ctx), ShouldBeNil)
		So(svc.GetStats()["started"], ShouldBeTrue)

		pids := []int64{1, 2, 3, 4, 5, 6}
		for _, pid := range pids {
			enroll(ctx, svc, pid, 100)
		}

		Convey("When six participants join flow_flight", func() {
			for _, pid := range pids {
				So(svc.Join(ctx, model.FlowFlight, profile(pid)), ShouldBeNil)
			}

			Convey("Then the matcher resolves two matches end to end", func() {
				So(waitFor(5*time.Second, allPlayed(svc, pids)), ShouldBeTrue)

				matchIDs := lo.Uniq(lo.Map(pids, func(pid int64, _ int) string {
					id, _ := svc.LastMatch(pid)
					return id
				}))
				So(matchIDs, ShouldHaveLength, 2)

				for _, id := range matchIDs {
					rec, err := svc.Match(ctx, id)
					So(err, ShouldBeNil)
					So(rec.Outcome.Mode, ShouldEqual, model.FlowFlight)
				}

				top, err := svc.TopN(ctx, repository.AllTime, 10)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 6)
				So(lo.SumBy(top, func(e repository.Entry) int64 { return e.Wins }), ShouldEqual, 2)

				for _, pid := range pids {
					e, err := svc.Entrant(ctx, pid*10)
					So(err, ShouldBeNil)
					So(e.Energy, ShouldEqual, 85)

					id, _ := svc.LastMatch(pid)
					st, err := svc.Settlement(ctx, id, pid)
					So(err, ShouldBeNil)
					So(st.Rank, ShouldBeBetweenOrEqual, 1, 3)
				}
			})
		})
	})
}

func TestServiceConcurrency(t *testing.T) {
	Convey("Given a running in-memory service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		svc := service.New(
			service.WithWorkerCount(8),
			service.WithMatchInterval(5*time.Millisecond),
		)
		defer svc.Stop()
		So(svc.Start(ctx), ShouldBeNil)

		pids := lo.RangeFrom(int64(1), 30)
		for _, pid := range pids {
			enroll(ctx, svc, pid, 100)
		}

		Convey("When thirty participants join from separate goroutines", func() {
			var wg sync.WaitGroup
			errs := make(chan error, len(pids))
			for _, pid := range pids {
				wg.Add(1)
				go func(pid int64) {
					defer wg.Done()
					errs <- svc.Join(ctx, model.FlowFlight, profile(pid))
				}(pid)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}

			Convey("Then every participant plays exactly one match", func() {
				So(waitFor(10*time.Second, allPlayed(svc, pids)), ShouldBeTrue)

				top, err := svc.TopN(ctx, repository.Weekly, 100)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 30)
				So(lo.EveryBy(top, func(e repository.Entry) bool { return e.Matches == 1 }), ShouldBeTrue)
				So(lo.SumBy(top, func(e repository.Entry) int64 { return e.Wins }), ShouldEqual, 10)

				for _, pid := range pids {
					entries, err := svc.Ledger(ctx, pid, 10)
					So(err, ShouldBeNil)
					costs := lo.CountBy(entries, func(e progression.LedgerEntry) bool {
						return e.Resource == progression.Energy
					})
					So(costs, ShouldEqual, 1)
				}
			})
		})
	})
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithWorkerCount(1))
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When it is started again", func() {
			Convey("Then the second start is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
				svc.Stop()
			})
		})

		Convey("When it is stopped", func() {
			svc.Stop()

			Convey("Then it reports stopped and cannot be restarted", func() {
				So(svc.GetStats()["started"], ShouldBeFalse)
				So(svc.Start(ctx), ShouldNotBeNil)
			})
		})
	})
}
