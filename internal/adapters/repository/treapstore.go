package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/spiritrace/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: wins DESC, then participant id ASC. "less" means ranks earlier,
// so in-order traversal yields the leaderboard from best to worst and a
// participant's position is the size of everything to its left plus one.

type counter struct {
	wins    int64
	matches int64
}

type node struct {
	id    int64
	wins  int64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aWins, aID, bWins, bID int64) bool {
	if aWins != bWins {
		return aWins > bWins
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id, wins int64) *node {
	if n == nil {
		return &node{id: id, wins: wins, prio: rand.Uint64(), size: 1}
	}
	if less(wins, id, n.wins, n.id) {
		n.left = insert(n.left, id, wins)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, wins)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id, wins int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case id == n.id && wins == n.wins:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, wins)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, wins)
		}
	case less(wins, id, n.wins, n.id):
		n.left = deleteNode(n.left, id, wins)
	default:
		n.right = deleteNode(n.right, id, wins)
	}
	fix(n)
	return n
}

// position returns the 1-based rank of (id, wins), or 0 if absent.
func position(n *node, id, wins int64) int {
	before := 0
	for n != nil {
		switch {
		case id == n.id && wins == n.wins:
			return before + nsize(n.left) + 1
		case less(wins, id, n.wins, n.id):
			n = n.left
		default:
			before += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, counters map[int64]counter, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, counters, out)
	if len(*out) < limit {
		c := counters[n.id]
		*out = append(*out, Entry{
			Rank:          len(*out) + 1,
			ParticipantID: n.id,
			Wins:          c.wins,
			Matches:       c.matches,
			WinRate:       winRate(c.wins, c.matches),
		})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, counters, out)
	}
}

// board is one leaderboard window.
type board struct {
	root      *node
	counters  map[int64]counter
	expiresAt time.Time // zero for all-time
}

func newBoard() *board {
	return &board{counters: make(map[int64]counter)}
}

func (b *board) add(id int64, wins, matches int64) {
	old, ok := b.counters[id]
	if ok {
		b.root = deleteNode(b.root, id, old.wins)
	}
	c := counter{wins: old.wins + wins, matches: old.matches + matches}
	b.counters[id] = c
	b.root = insert(b.root, id, c.wins)
}

func (b *board) expired(now time.Time) bool {
	return !b.expiresAt.IsZero() && !now.Before(b.expiresAt)
}

// TreapStore keeps one treap per window key: "alltime" and "weekly:<iso week>".
type TreapStore struct {
	mu            sync.RWMutex
	boards        map[string]*board
	now           func() time.Time
	weeklyTTL     time.Duration
	sweepInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTreapStore constructs a treap store and starts its expiry sweeper.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		boards:        map[string]*board{string(AllTime): newBoard()},
		now:           time.Now,
		weeklyTTL:     DefaultWeeklyTTL,
		sweepInterval: time.Hour,
		stopChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startSweeper(ctx)
	return s
}

func windowKey(scope Scope, at time.Time) string {
	if scope == Weekly {
		return string(Weekly) + ":" + WeekKey(at)
	}
	return string(AllTime)
}

func (s *TreapStore) startSweeper(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep drops expired weekly windows and returns how many were dropped.
func (s *TreapStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	dropped := 0
	for key, b := range s.boards {
		if b.expired(now) {
			delete(s.boards, key)
			dropped++
		}
	}
	s.mu.Unlock()
	metrics.RecordLeaderboardSweep(dropped)
	return dropped
}

// Close stops the sweeper.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// RecordOutcome implements Store.RecordOutcome in O(k log n).
func (s *TreapStore) RecordOutcome(_ context.Context, at time.Time, placements []Placement) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	winner, err := validatePlacements(placements)
	if err != nil {
		metrics.RecordLeaderboardError()
		return err
	}

	weekKey := windowKey(Weekly, at)
	s.mu.Lock()
	all := s.boards[string(AllTime)]
	week, ok := s.boards[weekKey]
	if !ok || week.expired(s.now()) {
		week = newBoard()
		s.boards[weekKey] = week
	}
	for _, p := range placements {
		var w int64
		if p.ParticipantID == winner {
			w = 1
		}
		all.add(p.ParticipantID, w, 1)
		week.add(p.ParticipantID, w, 1)
	}
	week.expiresAt = at.Add(s.weeklyTTL)
	allCount, weekCount := len(all.counters), len(week.counters)
	s.mu.Unlock()

	metrics.RecordLeaderboardUpdate()
	metrics.UpdateLeaderboardPlayers(string(AllTime), allCount)
	metrics.UpdateLeaderboardPlayers(string(Weekly), weekCount)
	return nil
}

// current returns the live board for scope, or nil. Callers hold s.mu.
func (s *TreapStore) current(scope Scope) (*board, error) {
	switch scope {
	case AllTime, Weekly:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	now := s.now()
	b, ok := s.boards[windowKey(scope, now)]
	if !ok || b.expired(now) {
		return nil, nil
	}
	return b, nil
}

// TopN returns the top n entries of scope.
func (s *TreapStore) TopN(_ context.Context, scope Scope, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.current(scope)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, min(n, 64))
	if b != nil {
		collectTopN(b.root, n, b.counters, &out)
	}
	return out, nil
}

// Rank returns the position of a participant in O(log n).
func (s *TreapStore) Rank(_ context.Context, scope Scope, participantID int64) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.current(scope)
	if err != nil {
		return Entry{}, err
	}
	if b == nil {
		return Entry{}, ErrNotFound
	}
	c, ok := b.counters[participantID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Rank:          position(b.root, participantID, c.wins),
		ParticipantID: participantID,
		Wins:          c.wins,
		Matches:       c.matches,
		WinRate:       winRate(c.wins, c.matches),
	}, nil
}

// Count returns the number of ranked participants in scope.
func (s *TreapStore) Count(_ context.Context, scope Scope) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := s.current(scope)
	if err != nil || b == nil {
		return 0, err
	}
	return len(b.counters), nil
}

// ResetWeekly drops the weekly window containing at.
func (s *TreapStore) ResetWeekly(_ context.Context, at time.Time) error {
	s.mu.Lock()
	delete(s.boards, windowKey(Weekly, at))
	s.mu.Unlock()
	metrics.UpdateLeaderboardPlayers(string(Weekly), 0)
	return nil
}
