package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
	"github.com/okian/spiritrace/internal/domain/rewards"
	"github.com/okian/spiritrace/internal/domain/simulation"
	"github.com/okian/spiritrace/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()

	var n int
	if err := second.sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 3 {
		t.Fatalf("applied migrations = %d, want 3", n)
	}
}

func TestUpSection(t *testing.T) {
	Convey("Given migration text", t, func() {
		So(upSection("-- +migrate Up\nCREATE x;\n-- +migrate Down\nDROP x;"), ShouldEqual, "\nCREATE x;\n")
		So(upSection("CREATE y;"), ShouldEqual, "CREATE y;")
		So(upSection("-- +migrate Up\nCREATE z;"), ShouldEqual, "\nCREATE z;")
	})
}

func TestProgressionOnSQLite(t *testing.T) {
	Convey("Given a progression service over SQLite", t, func() {
		ctx := context.Background()
		store := openTempStore(t)
		now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
		svc := progression.NewService(store, progression.WithClock(func() time.Time { return now }))

		So(svc.Enroll(ctx, progression.Participant{ID: 1},
			progression.Entrant{ID: 10, Level: 1, Energy: 30}), ShouldBeNil)
		So(svc.Enroll(ctx, progression.Participant{ID: 2},
			progression.Entrant{ID: 20, Level: 1, Energy: 5}), ShouldBeNil)
		ref := progression.EntrantRef{ParticipantID: 1, EntrantID: 10}

		Convey("Grants settle once and write a ledger entry", func() {
			st, err := svc.ApplyGrant(ctx, "m1", ref, rewards.Grant{Rank: 1, XP: 100, Currency: 150, ItemID: "spirit_capsule_common"})
			So(err, ShouldBeNil)
			So(st.Level, ShouldEqual, 2)

			_, err = svc.ApplyGrant(ctx, "m1", ref, rewards.Grant{Rank: 1, XP: 100, Currency: 150})
			So(errors.Is(err, progression.ErrAlreadySettled), ShouldBeTrue)

			p, err := svc.Participant(ctx, 1)
			So(err, ShouldBeNil)
			So(p.Currency, ShouldEqual, 150)
			So(p.UpdatedAt.Equal(now), ShouldBeTrue)

			entries, err := svc.Ledger(ctx, 1, 10)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].Reason, ShouldEqual, "battle_reward_match_m1")

			got, err := svc.Settlement(ctx, "m1", 1)
			So(err, ShouldBeNil)
			So(got.ItemID, ShouldEqual, "spirit_capsule_common")
		})

		Convey("Entry cost is all or nothing", func() {
			err := svc.DeductEntryCost(ctx, "m2", 15, ref, progression.EntrantRef{ParticipantID: 2, EntrantID: 20})
			So(errors.Is(err, progression.ErrInsufficientEnergy), ShouldBeTrue)

			e, err := svc.Entrant(ctx, 10)
			So(err, ShouldBeNil)
			So(e.Energy, ShouldEqual, 30)

			So(svc.DeductEntryCost(ctx, "m3", 15, ref), ShouldBeNil)
			e, _ = svc.Entrant(ctx, 10)
			So(e.Energy, ShouldEqual, 15)
		})

		Convey("Missing settlements are reported", func() {
			_, err := svc.Settlement(ctx, "none", 1)
			So(errors.Is(err, progression.ErrSettlementMissing), ShouldBeTrue)
		})

		Convey("Constraint violations map to domain errors", func() {
			err := store.WithTx(ctx, func(tx progression.Tx) error {
				return tx.PutEntrant(ctx, progression.Entrant{ID: 11, OwnerID: 1, Level: 1, Energy: -5})
			})
			So(errors.Is(err, progression.ErrInvalidAmount), ShouldBeTrue)

			err = store.WithTx(ctx, func(tx progression.Tx) error {
				return tx.PutEntrant(ctx, progression.Entrant{ID: 12, OwnerID: 404, Level: 1})
			})
			So(errors.Is(err, progression.ErrParticipantNotFound), ShouldBeTrue)
		})

		Convey("Concurrent duplicate grants settle exactly once", func() {
			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := svc.ApplyGrant(ctx, "race", ref, rewards.Grant{Rank: 2, XP: 70, Currency: 100})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			ok := 0
			for err := range errs {
				if err == nil {
					ok++
				} else {
					So(errors.Is(err, progression.ErrAlreadySettled), ShouldBeTrue)
				}
			}
			So(ok, ShouldEqual, 1)
			p, _ := svc.Participant(ctx, 1)
			So(p.Currency, ShouldEqual, 100)
		})
	})
}

func TestMatchArchive(t *testing.T) {
	Convey("Given an archived match", t, func() {
		ctx := context.Background()
		store := openTempStore(t)
		outcome, err := simulation.New(model.DeepDive).Simulate(7, []model.ParticipantProfile{
			{ParticipantID: 1, EntrantID: 10, Level: 1, Rarity: 1, Abilities: model.Abilities{Swim: 30, Dives: 30}},
			{ParticipantID: 2, EntrantID: 20, Level: 2, Rarity: 1.2, Abilities: model.Abilities{Swim: 20, Dives: 25}},
			{ParticipantID: 3, EntrantID: 30, Level: 3, Rarity: 1, Abilities: model.Abilities{Swim: 10, Dives: 40}},
		})
		So(err, ShouldBeNil)
		created := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
		So(store.SaveMatch(ctx, simulation.MatchRecord{MatchID: "m-7", CreatedAt: created, Outcome: outcome}), ShouldBeNil)

		Convey("It decodes to the same outcome", func() {
			rec, err := store.Match(ctx, "m-7")
			So(err, ShouldBeNil)
			So(rec.CreatedAt.Equal(created), ShouldBeTrue)
			So(rec.Outcome.Mode, ShouldEqual, model.DeepDive)
			want, _ := simulation.EncodeOutcome(outcome)
			got, _ := simulation.EncodeOutcome(rec.Outcome)
			So(got, ShouldResemble, want)
		})

		Convey("Saving the same id again keeps the first copy", func() {
			So(store.SaveMatch(ctx, simulation.MatchRecord{MatchID: "m-7", CreatedAt: created.Add(time.Hour), Outcome: outcome}), ShouldBeNil)
			rec, _ := store.Match(ctx, "m-7")
			So(rec.CreatedAt.Equal(created), ShouldBeTrue)
		})

		Convey("History joins results with settlements, newest first", func() {
			So(store.SaveMatch(ctx, simulation.MatchRecord{MatchID: "m-8", CreatedAt: created.Add(time.Minute), Outcome: outcome}), ShouldBeNil)
			So(store.WithTx(ctx, func(tx progression.Tx) error {
				_, err := tx.MarkSettled(ctx, progression.Settlement{
					MatchID: "m-7", ParticipantID: 2, EntrantID: 20, Rank: outcome.Results[1].Rank,
					XP: 60, Currency: 9, ItemID: "pearl", Level: 2, CreatedAt: created,
				})
				return err
			}), ShouldBeNil)

			got, err := store.History(ctx, progression.HistoryQuery{ParticipantID: 2})
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].MatchID, ShouldEqual, "m-8")
			So(got[0].Settled, ShouldBeFalse)
			So(got[0].ItemID, ShouldEqual, "")
			So(got[1].MatchID, ShouldEqual, "m-7")
			So(got[1].Mode, ShouldEqual, model.DeepDive)
			So(got[1].EntrantID, ShouldEqual, 20)
			So(got[1].Rank, ShouldEqual, outcome.Results[1].Rank)
			So(got[1].Score, ShouldEqual, outcome.Results[1].Score)
			So(got[1].CreatedAt.Equal(created), ShouldBeTrue)
			So(got[1].Settled, ShouldBeTrue)
			So(got[1].XP, ShouldEqual, 60)
			So(got[1].Currency, ShouldEqual, 9)
			So(got[1].ItemID, ShouldEqual, "pearl")

			page, err := store.History(ctx, progression.HistoryQuery{ParticipantID: 2, Limit: 1, Offset: 1})
			So(err, ShouldBeNil)
			So(page, ShouldHaveLength, 1)
			So(page[0].MatchID, ShouldEqual, "m-7")

			other, err := store.History(ctx, progression.HistoryQuery{ParticipantID: 2, Mode: model.FlowFlight})
			So(err, ShouldBeNil)
			So(other, ShouldBeEmpty)

			nobody, err := store.History(ctx, progression.HistoryQuery{ParticipantID: 99})
			So(err, ShouldBeNil)
			So(nobody, ShouldBeEmpty)
		})

		Convey("A repeated save does not duplicate history", func() {
			So(store.SaveMatch(ctx, simulation.MatchRecord{MatchID: "m-7", CreatedAt: created.Add(time.Hour), Outcome: outcome}), ShouldBeNil)
			got, err := store.History(ctx, progression.HistoryQuery{ParticipantID: 1})
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)
		})

		Convey("Unknown ids are reported", func() {
			_, err := store.Match(ctx, "missing")
			So(errors.Is(err, simulation.ErrMatchNotFound), ShouldBeTrue)
		})
	})
}
