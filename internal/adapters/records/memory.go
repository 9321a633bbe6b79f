// Package records holds participant, entrant, ledger and match records.
// The in-memory Store here serves tests and single-process deployments; the
// sqlite subpackage persists the same records durably.
package records

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/spiritrace/internal/domain/dedupe"
	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
	"github.com/okian/spiritrace/internal/domain/simulation"
)

// Store is an in-memory progression.Store and match archive. Transactions are
// serialized by a single mutex, so they never conflict.
type Store struct {
	mu           sync.Mutex
	participants map[int64]progression.Participant
	entrants     map[int64]progression.Entrant
	ledger       map[int64][]progression.LedgerEntry
	settlements  map[string]progression.Settlement
	settled      dedupe.Deduper
	nextLedgerID int64

	matchMu sync.RWMutex
	matches map[string]storedMatch
	results map[int64][]playedMatch
}

type storedMatch struct {
	createdAt time.Time
	blob      []byte
}

// playedMatch indexes one participant's line of an archived match.
type playedMatch struct {
	matchID   string
	mode      model.Mode
	entrantID int64
	rank      int
	score     int64
	createdAt time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		participants: make(map[int64]progression.Participant),
		entrants:     make(map[int64]progression.Entrant),
		ledger:       make(map[int64][]progression.LedgerEntry),
		settlements:  make(map[string]progression.Settlement),
		settled:      dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0)),
		matches:      make(map[string]storedMatch),
		results:      make(map[int64][]playedMatch),
	}
}

// WithTx runs fn against staged copies and publishes them only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx progression.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:        s,
		participants: make(map[int64]progression.Participant),
		entrants:     make(map[int64]progression.Entrant),
	}
	if err := fn(tx); err != nil {
		for _, key := range tx.reserved {
			s.settled.Unrecord(ctx, key)
		}
		return err
	}
	tx.commit()
	return nil
}

// Ledger returns up to limit newest entries of a participant, newest first.
func (s *Store) Ledger(_ context.Context, participantID int64, limit int) ([]progression.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.ledger[participantID]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]progression.LedgerEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// Settlement returns a stored payout.
func (s *Store) Settlement(_ context.Context, matchID string, participantID int64) (progression.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settlements[dedupe.SettlementKey(matchID, participantID)]
	if !ok {
		return progression.Settlement{}, fmt.Errorf("%w: match %s, participant %d", progression.ErrSettlementMissing, matchID, participantID)
	}
	return st, nil
}

// SaveMatch archives a match outcome as its replay blob. Saving an id twice
// keeps the first record.
func (s *Store) SaveMatch(_ context.Context, rec simulation.MatchRecord) error {
	blob, err := simulation.EncodeOutcome(rec.Outcome)
	if err != nil {
		return err
	}
	s.matchMu.Lock()
	defer s.matchMu.Unlock()
	if _, ok := s.matches[rec.MatchID]; ok {
		return nil
	}
	s.matches[rec.MatchID] = storedMatch{createdAt: rec.CreatedAt, blob: blob}
	for _, r := range rec.Outcome.Results {
		s.results[r.ParticipantID] = append(s.results[r.ParticipantID], playedMatch{
			matchID:   rec.MatchID,
			mode:      rec.Outcome.Mode,
			entrantID: r.EntrantID,
			rank:      r.Rank,
			score:     r.Score,
			createdAt: rec.CreatedAt,
		})
	}
	return nil
}

// Match loads an archived match.
func (s *Store) Match(_ context.Context, matchID string) (simulation.MatchRecord, error) {
	s.matchMu.RLock()
	m, ok := s.matches[matchID]
	s.matchMu.RUnlock()
	if !ok {
		return simulation.MatchRecord{}, fmt.Errorf("%w: %s", simulation.ErrMatchNotFound, matchID)
	}
	o, err := simulation.DecodeOutcome(m.blob)
	if err != nil {
		return simulation.MatchRecord{}, err
	}
	return simulation.MatchRecord{MatchID: matchID, CreatedAt: m.createdAt, Outcome: o}, nil
}

// History pages through a participant's archived matches, newest first,
// joined with what they were paid.
func (s *Store) History(_ context.Context, q progression.HistoryQuery) ([]progression.HistoryEntry, error) {
	s.matchMu.RLock()
	var played []playedMatch
	for _, m := range s.results[q.ParticipantID] {
		if q.Mode == "" || m.mode == q.Mode {
			played = append(played, m)
		}
	}
	s.matchMu.RUnlock()

	sort.Slice(played, func(i, j int) bool {
		if played[i].createdAt.Equal(played[j].createdAt) {
			return played[i].matchID > played[j].matchID
		}
		return played[i].createdAt.After(played[j].createdAt)
	})
	if q.Offset >= len(played) {
		return []progression.HistoryEntry{}, nil
	}
	played = played[q.Offset:]
	if q.Limit > 0 && q.Limit < len(played) {
		played = played[:q.Limit]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]progression.HistoryEntry, 0, len(played))
	for _, m := range played {
		e := progression.HistoryEntry{
			MatchID:   m.matchID,
			Mode:      m.mode,
			EntrantID: m.entrantID,
			Rank:      m.rank,
			Score:     m.score,
			CreatedAt: m.createdAt,
		}
		if st, ok := s.settlements[dedupe.SettlementKey(m.matchID, q.ParticipantID)]; ok {
			e.XP, e.Currency, e.ItemID, e.Settled = st.XP, st.Currency, st.ItemID, true
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases nothing; it satisfies the same lifecycle as the sqlite store.
func (s *Store) Close() error { return nil }

// memTx stages writes on top of the committed maps. It is only used while
// the store mutex is held.
type memTx struct {
	store        *Store
	participants map[int64]progression.Participant
	entrants     map[int64]progression.Entrant
	ledger       []progression.LedgerEntry
	settlements  []progression.Settlement
	reserved     []string
}

func (t *memTx) Participant(_ context.Context, id int64) (progression.Participant, error) {
	if p, ok := t.participants[id]; ok {
		return p, nil
	}
	if p, ok := t.store.participants[id]; ok {
		return p, nil
	}
	return progression.Participant{}, fmt.Errorf("%w: %d", progression.ErrParticipantNotFound, id)
}

func (t *memTx) Entrant(_ context.Context, id int64) (progression.Entrant, error) {
	if e, ok := t.entrants[id]; ok {
		return e, nil
	}
	if e, ok := t.store.entrants[id]; ok {
		return e, nil
	}
	return progression.Entrant{}, fmt.Errorf("%w: %d", progression.ErrEntrantNotFound, id)
}

func (t *memTx) PutParticipant(_ context.Context, p progression.Participant) error {
	t.participants[p.ID] = p
	return nil
}

func (t *memTx) PutEntrant(_ context.Context, e progression.Entrant) error {
	if e.Energy < 0 {
		return fmt.Errorf("%w: entrant %d energy %d", progression.ErrInvalidAmount, e.ID, e.Energy)
	}
	t.entrants[e.ID] = e
	return nil
}

func (t *memTx) AppendLedger(_ context.Context, e progression.LedgerEntry) error {
	t.ledger = append(t.ledger, e)
	return nil
}

func (t *memTx) MarkSettled(ctx context.Context, st progression.Settlement) (bool, error) {
	key := dedupe.SettlementKey(st.MatchID, st.ParticipantID)
	if t.store.settled.SeenAndRecord(ctx, key) {
		return false, nil
	}
	t.reserved = append(t.reserved, key)
	t.settlements = append(t.settlements, st)
	return true, nil
}

func (t *memTx) commit() {
	s := t.store
	for id, p := range t.participants {
		s.participants[id] = p
	}
	for id, e := range t.entrants {
		s.entrants[id] = e
	}
	for _, e := range t.ledger {
		s.nextLedgerID++
		e.ID = s.nextLedgerID
		s.ledger[e.ParticipantID] = append(s.ledger[e.ParticipantID], e)
	}
	for _, st := range t.settlements {
		s.settlements[dedupe.SettlementKey(st.MatchID, st.ParticipantID)] = st
	}
}
