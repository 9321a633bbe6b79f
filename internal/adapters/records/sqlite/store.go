// Package sqlite persists progression records and match replays in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/okian/spiritrace/internal/adapters/records/sqlite/migrations"
	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
	"github.com/okian/spiritrace/internal/domain/simulation"
)

// Store is a progression.Store and match archive backed by one SQLite file.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
// Transactions take the write lock up front so lost races surface as
// SQLITE_BUSY at BEGIN, which the store reports as progression.ErrConflict.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// WithTx runs fn in one immediate transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx progression.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin: %w", err))
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Ledger returns up to limit newest entries of a participant, newest first.
func (s *Store) Ledger(ctx context.Context, participantID int64, limit int) ([]progression.LedgerEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, participant_id, entrant_id, resource, delta, balance, reason, created_at
		   FROM ledger WHERE participant_id = ? ORDER BY id DESC LIMIT ?`,
		participantID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []progression.LedgerEntry
	for rows.Next() {
		var (
			e        progression.LedgerEntry
			resource string
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.ParticipantID, &e.EntrantID, &resource, &e.Delta, &e.Balance, &e.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		e.Resource = progression.Resource(resource)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Settlement returns a stored payout.
func (s *Store) Settlement(ctx context.Context, matchID string, participantID int64) (progression.Settlement, error) {
	var (
		st      progression.Settlement
		created int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT match_id, participant_id, entrant_id, rank, xp, currency, item_id, level, levels_gained, created_at
		   FROM settlements WHERE match_id = ? AND participant_id = ?`,
		matchID, participantID,
	).Scan(&st.MatchID, &st.ParticipantID, &st.EntrantID, &st.Rank, &st.XP, &st.Currency, &st.ItemID, &st.Level, &st.LevelsGained, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return progression.Settlement{}, fmt.Errorf("%w: match %s, participant %d", progression.ErrSettlementMissing, matchID, participantID)
	}
	if err != nil {
		return progression.Settlement{}, fmt.Errorf("query settlement: %w", err)
	}
	st.CreatedAt = fromMillis(created)
	return st, nil
}

// SaveMatch archives a match outcome as its replay blob and indexes each
// participant's line for History. Saving an id twice keeps the first record.
func (s *Store) SaveMatch(ctx context.Context, rec simulation.MatchRecord) error {
	blob, err := simulation.EncodeOutcome(rec.Outcome)
	if err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return mapError(fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	created := toMillis(rec.CreatedAt)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (id, mode, seed, created_at, replay) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.MatchID, string(rec.Outcome.Mode), rec.Outcome.Seed, created, blob,
	)
	if err != nil {
		return mapError(fmt.Errorf("insert match: %w", err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("match rows: %w", err)
	} else if n == 0 {
		return nil
	}
	for _, r := range rec.Outcome.Results {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO match_results (match_id, participant_id, entrant_id, mode, rank, score, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.MatchID, r.ParticipantID, r.EntrantID, string(rec.Outcome.Mode), r.Rank, r.Score, created,
		); err != nil {
			return mapError(fmt.Errorf("insert match result: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// History pages through a participant's archived matches, newest first,
// joined with what they were paid.
func (s *Store) History(ctx context.Context, q progression.HistoryQuery) ([]progression.HistoryEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT r.match_id, r.mode, r.entrant_id, r.rank, r.score, r.created_at,
		        COALESCE(st.xp, 0), COALESCE(st.currency, 0), COALESCE(st.item_id, ''),
		        st.match_id IS NOT NULL
		   FROM match_results r
		   LEFT JOIN settlements st
		     ON st.match_id = r.match_id AND st.participant_id = r.participant_id
		  WHERE r.participant_id = ? AND (? = '' OR r.mode = ?)
		  ORDER BY r.created_at DESC, r.match_id DESC
		  LIMIT ? OFFSET ?`,
		q.ParticipantID, string(q.Mode), string(q.Mode), limit, q.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []progression.HistoryEntry{}
	for rows.Next() {
		var (
			e       progression.HistoryEntry
			mode    string
			created int64
		)
		if err := rows.Scan(&e.MatchID, &mode, &e.EntrantID, &e.Rank, &e.Score, &created,
			&e.XP, &e.Currency, &e.ItemID, &e.Settled); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Mode = model.Mode(mode)
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Match loads an archived match.
func (s *Store) Match(ctx context.Context, matchID string) (simulation.MatchRecord, error) {
	var (
		created int64
		blob    []byte
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT created_at, replay FROM matches WHERE id = ?`, matchID,
	).Scan(&created, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return simulation.MatchRecord{}, fmt.Errorf("%w: %s", simulation.ErrMatchNotFound, matchID)
	}
	if err != nil {
		return simulation.MatchRecord{}, fmt.Errorf("query match: %w", err)
	}
	o, err := simulation.DecodeOutcome(blob)
	if err != nil {
		return simulation.MatchRecord{}, err
	}
	return simulation.MatchRecord{MatchID: matchID, CreatedAt: fromMillis(created), Outcome: o}, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Participant(ctx context.Context, id int64) (progression.Participant, error) {
	var (
		p       progression.Participant
		updated int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, currency, updated_at FROM participants WHERE id = ?`, id,
	).Scan(&p.ID, &p.Currency, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return progression.Participant{}, fmt.Errorf("%w: %d", progression.ErrParticipantNotFound, id)
	}
	if err != nil {
		return progression.Participant{}, fmt.Errorf("query participant: %w", err)
	}
	p.UpdatedAt = fromMillis(updated)
	return p, nil
}

func (t *sqlTx) Entrant(ctx context.Context, id int64) (progression.Entrant, error) {
	var (
		e       progression.Entrant
		updated int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, owner_id, level, xp, energy, updated_at FROM entrants WHERE id = ?`, id,
	).Scan(&e.ID, &e.OwnerID, &e.Level, &e.XP, &e.Energy, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return progression.Entrant{}, fmt.Errorf("%w: %d", progression.ErrEntrantNotFound, id)
	}
	if err != nil {
		return progression.Entrant{}, fmt.Errorf("query entrant: %w", err)
	}
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}

func (t *sqlTx) PutParticipant(ctx context.Context, p progression.Participant) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO participants (id, currency, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET currency = excluded.currency, updated_at = excluded.updated_at`,
		p.ID, p.Currency, toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert participant %d: %w", p.ID, err)
	}
	return nil
}

func (t *sqlTx) PutEntrant(ctx context.Context, e progression.Entrant) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO entrants (id, owner_id, level, xp, energy, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner_id = excluded.owner_id,
		   level = excluded.level,
		   xp = excluded.xp,
		   energy = excluded.energy,
		   updated_at = excluded.updated_at`,
		e.ID, e.OwnerID, e.Level, e.XP, e.Energy, toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert entrant %d: %w", e.ID, err)
	}
	return nil
}

func (t *sqlTx) AppendLedger(ctx context.Context, e progression.LedgerEntry) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO ledger (participant_id, entrant_id, resource, delta, balance, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ParticipantID, e.EntrantID, string(e.Resource), e.Delta, e.Balance, e.Reason, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

func (t *sqlTx) MarkSettled(ctx context.Context, st progression.Settlement) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO settlements
		   (match_id, participant_id, entrant_id, rank, xp, currency, item_id, level, levels_gained, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(match_id, participant_id) DO NOTHING`,
		st.MatchID, st.ParticipantID, st.EntrantID, st.Rank, st.XP, st.Currency, st.ItemID, st.Level, st.LevelsGained, toMillis(st.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert settlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settlement rows: %w", err)
	}
	return n == 1, nil
}

// mapError turns SQLite lock contention into progression.ErrConflict and
// check violations into progression.ErrInvalidAmount.
func mapError(err error) error {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	code := sqliteErr.Code()
	switch {
	case code&0xff == sqlite3lib.SQLITE_BUSY, code&0xff == sqlite3lib.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", progression.ErrConflict, err)
	case code == sqlite3lib.SQLITE_CONSTRAINT_CHECK:
		return fmt.Errorf("%w: %v", progression.ErrInvalidAmount, err)
	case code == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %v", progression.ErrParticipantNotFound, err)
	default:
		return err
	}
}
