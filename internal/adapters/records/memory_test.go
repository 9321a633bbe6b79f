package records

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
	"github.com/okian/spiritrace/internal/domain/simulation"
)

func TestStoreTransactions(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		s := NewStore()

		Convey("A committed transaction is visible afterwards", func() {
			err := s.WithTx(ctx, func(tx progression.Tx) error {
				if err := tx.PutParticipant(ctx, progression.Participant{ID: 1, Currency: 5}); err != nil {
					return err
				}
				return tx.AppendLedger(ctx, progression.LedgerEntry{ParticipantID: 1, Resource: progression.Lumens, Delta: 5, Balance: 5})
			})
			So(err, ShouldBeNil)

			_ = s.WithTx(ctx, func(tx progression.Tx) error {
				p, err := tx.Participant(ctx, 1)
				So(err, ShouldBeNil)
				So(p.Currency, ShouldEqual, 5)
				return nil
			})
			entries, _ := s.Ledger(ctx, 1, 0)
			So(entries, ShouldHaveLength, 1)
			So(entries[0].ID, ShouldEqual, 1)
		})

		Convey("A failed transaction leaves nothing behind", func() {
			boom := errors.New("boom")
			err := s.WithTx(ctx, func(tx progression.Tx) error {
				_ = tx.PutParticipant(ctx, progression.Participant{ID: 1})
				fresh, err := tx.MarkSettled(ctx, progression.Settlement{MatchID: "m", ParticipantID: 1})
				So(fresh, ShouldBeTrue)
				So(err, ShouldBeNil)
				return boom
			})
			So(errors.Is(err, boom), ShouldBeTrue)

			_ = s.WithTx(ctx, func(tx progression.Tx) error {
				_, err := tx.Participant(ctx, 1)
				So(errors.Is(err, progression.ErrParticipantNotFound), ShouldBeTrue)
				fresh, _ := tx.MarkSettled(ctx, progression.Settlement{MatchID: "m", ParticipantID: 1})
				So(fresh, ShouldBeTrue)
				return nil
			})
			_, err = s.Settlement(ctx, "m", 1)
			So(err, ShouldBeNil)
		})

		Convey("Negative energy is refused", func() {
			err := s.WithTx(ctx, func(tx progression.Tx) error {
				return tx.PutEntrant(ctx, progression.Entrant{ID: 1, OwnerID: 1, Energy: -1})
			})
			So(errors.Is(err, progression.ErrInvalidAmount), ShouldBeTrue)
		})

		Convey("Ledger pages newest first", func() {
			for i := int64(1); i <= 5; i++ {
				delta := i
				So(s.WithTx(ctx, func(tx progression.Tx) error {
					return tx.AppendLedger(ctx, progression.LedgerEntry{ParticipantID: 7, Delta: delta})
				}), ShouldBeNil)
			}
			entries, err := s.Ledger(ctx, 7, 2)
			So(err, ShouldBeNil)
			So(entries, ShouldHaveLength, 2)
			So(entries[0].Delta, ShouldEqual, 5)
			So(entries[1].Delta, ShouldEqual, 4)
		})

		Convey("A cancelled context is refused up front", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(s.WithTx(cctx, func(progression.Tx) error { return nil }), ShouldEqual, context.Canceled)
		})
	})
}

func TestStoreMatches(t *testing.T) {
	Convey("Given a simulated match", t, func() {
		ctx := context.Background()
		s := NewStore()
		engine := simulation.New(model.FlowFlight)
		profiles := []model.ParticipantProfile{
			{ParticipantID: 1, EntrantID: 10, Level: 3, Rarity: 1, Abilities: model.Abilities{Run: 20, Fly: 30, Maneuver: 10}},
			{ParticipantID: 2, EntrantID: 20, Level: 2, Rarity: 1, Abilities: model.Abilities{Run: 25, Fly: 20, Maneuver: 15}},
			{ParticipantID: 3, EntrantID: 30, Level: 4, Rarity: 1, Abilities: model.Abilities{Run: 10, Fly: 35, Maneuver: 5}},
		}
		outcome, err := engine.Simulate(99, profiles)
		So(err, ShouldBeNil)
		created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

		Convey("It round-trips through the archive", func() {
			So(s.SaveMatch(ctx, simulation.MatchRecord{MatchID: "abc", CreatedAt: created, Outcome: outcome}), ShouldBeNil)
			rec, err := s.Match(ctx, "abc")
			So(err, ShouldBeNil)
			So(rec.CreatedAt.Equal(created), ShouldBeTrue)
			So(rec.Outcome.Seed, ShouldEqual, 99)
			So(rec.Outcome.Results, ShouldHaveLength, 3)
		})

		Convey("History pages a participant's matches newest first with payouts", func() {
			So(s.SaveMatch(ctx, simulation.MatchRecord{MatchID: "m1", CreatedAt: created, Outcome: outcome}), ShouldBeNil)
			So(s.SaveMatch(ctx, simulation.MatchRecord{MatchID: "m2", CreatedAt: created.Add(time.Minute), Outcome: outcome}), ShouldBeNil)
			So(s.SaveMatch(ctx, simulation.MatchRecord{MatchID: "m2", CreatedAt: created.Add(time.Hour), Outcome: outcome}), ShouldBeNil)
			So(s.WithTx(ctx, func(tx progression.Tx) error {
				_, err := tx.MarkSettled(ctx, progression.Settlement{MatchID: "m1", ParticipantID: 2, EntrantID: 20, XP: 40, Currency: 7, ItemID: "feather"})
				return err
			}), ShouldBeNil)

			got, err := s.History(ctx, progression.HistoryQuery{ParticipantID: 2})
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 2)
			So(got[0].MatchID, ShouldEqual, "m2")
			So(got[0].CreatedAt.Equal(created.Add(time.Minute)), ShouldBeTrue)
			So(got[0].Settled, ShouldBeFalse)
			So(got[1].MatchID, ShouldEqual, "m1")
			So(got[1].EntrantID, ShouldEqual, 20)
			So(got[1].Mode, ShouldEqual, model.FlowFlight)
			So(got[1].Rank, ShouldEqual, outcome.Results[1].Rank)
			So(got[1].Score, ShouldEqual, outcome.Results[1].Score)
			So(got[1].Settled, ShouldBeTrue)
			So(got[1].XP, ShouldEqual, 40)
			So(got[1].Currency, ShouldEqual, 7)
			So(got[1].ItemID, ShouldEqual, "feather")

			page, err := s.History(ctx, progression.HistoryQuery{ParticipantID: 2, Limit: 1, Offset: 1})
			So(err, ShouldBeNil)
			So(page, ShouldHaveLength, 1)
			So(page[0].MatchID, ShouldEqual, "m1")

			other, err := s.History(ctx, progression.HistoryQuery{ParticipantID: 2, Mode: model.Mode("other")})
			So(err, ShouldBeNil)
			So(other, ShouldBeEmpty)

			past, err := s.History(ctx, progression.HistoryQuery{ParticipantID: 2, Offset: 5})
			So(err, ShouldBeNil)
			So(past, ShouldBeEmpty)
		})

		Convey("Unknown ids are reported", func() {
			_, err := s.Match(ctx, "nope")
			So(errors.Is(err, simulation.ErrMatchNotFound), ShouldBeTrue)
		})
	})
}
