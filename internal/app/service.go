// Package service composes matchmaking, simulation, progression and the
// leaderboards into the process the HTTP API talks to.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/okian/spiritrace/internal/adapters/mq/queue"
	"github.com/okian/spiritrace/internal/adapters/mq/worker"
	"github.com/okian/spiritrace/internal/adapters/records"
	repository "github.com/okian/spiritrace/internal/adapters/repository"
	"github.com/okian/spiritrace/internal/domain/dedupe"
	"github.com/okian/spiritrace/internal/domain/matchmaking"
	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/progression"
	"github.com/okian/spiritrace/internal/domain/rewards"
	"github.com/okian/spiritrace/internal/domain/simulation"
	"github.com/okian/spiritrace/pkg/logger"
	"github.com/okian/spiritrace/pkg/metrics"
)

const (
	defaultGroupQueueSize      = 1024
	defaultSettlementCacheSize = 50000
	defaultMatchInterval       = 500 * time.Millisecond
	defaultEntryCost           = 15
	defaultConflictRetries     = 5
	shutdownTimeout            = 10 * time.Second
	defaultHistoryLimit        = 20
	maxHistoryLimit            = 100
)

// RecordStore persists progression records and finished matches.
type RecordStore interface {
	progression.Store
	SaveMatch(ctx context.Context, rec simulation.MatchRecord) error
	Match(ctx context.Context, matchID string) (simulation.MatchRecord, error)
	History(ctx context.Context, q progression.HistoryQuery) ([]progression.HistoryEntry, error)
	Close() error
}

// Resolution is everything one resolved group produced.
type Resolution struct {
	MatchID     string
	Outcome     simulation.Outcome
	Settlements []progression.Settlement
}

// QueueStatus is a participant's view of one mode. When the participant is
// no longer waiting, only LastMatchID is meaningful.
type QueueStatus struct {
	matchmaking.Status
	Queued      bool   `json:"queued"`
	LastMatchID string `json:"last_match_id,omitempty"`
}

// Service owns every long-lived component of the game core.
type Service struct {
	mu sync.RWMutex

	// Core components
	registry    *matchmaking.Registry
	progress    *progression.Service
	records     RecordStore
	leaderboard repository.Store
	table       *rewards.Table
	engines     map[model.Mode]*simulation.Engine
	resolved    dedupe.Deduper
	groups      *queue.InMemoryQueue
	pool        *worker.Pool

	// Configuration
	workerCount         int
	groupQueueSize      int
	settlementCacheSize int
	matchInterval       time.Duration
	entryCost           int64
	modes               []model.Mode
	toleranceRatio      float64
	toleranceGrowth     float64
	conflictRetries     int
	weeklyTTL           time.Duration
	now                 func() time.Time
	seed                func() int64
	newID               func() string

	// State
	started    bool
	loopCancel context.CancelFunc
	workCancel context.CancelFunc
	loopDone   chan struct{}

	activeMu sync.Mutex
	active   map[int64]string

	lastMu    sync.RWMutex
	lastMatch map[int64]string

	pendingMu sync.Mutex
	pending   []pendingGrant

	matchesResolved   atomic.Int64
	admissionFailures atomic.Int64

	logger logger.Logger
}

// New constructs a Service. Backends not supplied through options default to
// in-memory implementations.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:         runtime.NumCPU() * 2,
		groupQueueSize:      defaultGroupQueueSize,
		settlementCacheSize: defaultSettlementCacheSize,
		matchInterval:       defaultMatchInterval,
		entryCost:           defaultEntryCost,
		toleranceRatio:      -1,
		toleranceGrowth:     -1,
		conflictRetries:     defaultConflictRetries,
		weeklyTTL:           repository.DefaultWeeklyTTL,
		now:                 time.Now,
		seed:                rand.Int64,
		newID:               uuid.NewString,
		active:              make(map[int64]string),
		lastMatch:           make(map[int64]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	qopts := []matchmaking.Option{matchmaking.WithClock(s.now)}
	if s.toleranceRatio > 0 {
		qopts = append(qopts, matchmaking.WithToleranceRatio(s.toleranceRatio))
	}
	if s.toleranceGrowth >= 0 {
		qopts = append(qopts, matchmaking.WithToleranceGrowth(s.toleranceGrowth))
	}
	s.registry = matchmaking.NewRegistry(s.modes, qopts...)
	s.modes = s.registry.Modes()

	s.engines = make(map[model.Mode]*simulation.Engine, len(s.modes))
	for _, m := range s.modes {
		s.engines[m] = simulation.New(m)
	}
	if s.table == nil {
		s.table = rewards.NewTable()
	}
	if s.records == nil {
		s.records = records.NewStore()
	}
	if s.leaderboard == nil {
		s.leaderboard = repository.NewTreapStore(context.Background(),
			repository.WithClock(s.now),
			repository.WithWeeklyTTL(s.weeklyTTL),
		)
	}
	s.progress = progression.NewService(s.records,
		progression.WithConflictRetries(s.conflictRetries),
		progression.WithClock(s.now),
	)
	s.resolved = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.settlementCacheSize))
	s.groups = queue.NewInMemoryQueue(queue.WithCapacity(s.groupQueueSize))
	return s
}

// Start launches the matcher loop and the resolver pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.groups.IsClosed() {
		return fmt.Errorf("start: %w", queue.ErrClosed)
	}

	s.logger.Info(ctx, "starting game service...")

	// Resolvers outlive ctx so that Stop can drain admitted groups.
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, loopCancel := context.WithCancel(ctx)
	s.workCancel, s.loopCancel = workCancel, loopCancel
	s.pool = worker.NewPool(s.workerCount, s.groups, s)
	s.pool.Start(workCtx)

	s.loopDone = make(chan struct{})
	go s.matchLoop(loopCtx, s.loopDone)

	s.started = true
	s.logger.Info(ctx, "game service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("group_queue_size", s.groupQueueSize),
		logger.Duration("match_interval", s.matchInterval),
		logger.Any("modes", s.modes),
	)
	return nil
}

// Stop stops forming matches, drains formed groups through the pool, retries
// unpaid grants once and closes both backends.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping game service...")

	if s.started {
		s.loopCancel()
		<-s.loopDone
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := s.pool.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "resolver pool did not stop cleanly", logger.Error(err))
		}
		cancel()
		s.workCancel()
		s.started = false
	} else {
		_ = s.groups.Close()
	}
	if left := s.RetryPendingGrants(ctx); left > 0 {
		s.logger.Error(ctx, "grants left unpaid at shutdown", logger.Int("pending", left))
	}

	if err := s.leaderboard.Close(); err != nil {
		s.logger.Warn(ctx, "closing leaderboard", logger.Error(err))
	}
	if err := s.records.Close(); err != nil {
		s.logger.Warn(ctx, "closing record store", logger.Error(err))
	}
	s.logger.Info(ctx, "game service stopped")
}

func (s *Service) matchLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.matchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RetryPendingGrants(ctx)
			s.dispatch(ctx, s.FormMatches(ctx))
		}
	}
}

// dispatch hands groups to the resolver pool. A group that cannot be queued
// goes back to matchmaking with its original join times.
func (s *Service) dispatch(ctx context.Context, groups []model.MatchGroup) {
	for _, g := range groups {
		if err := s.groups.Enqueue(ctx, g); err != nil {
			s.logger.Warn(ctx, "group not dispatched, requeueing members",
				logger.String("match", g.ID),
				logger.Error(err),
			)
			s.requeue(ctx, g, func(model.QueueEntry) bool { return false })
		}
	}
}

// FormMatches runs matchmaking once over every mode and names each group.
func (s *Service) FormMatches(ctx context.Context) []model.MatchGroup {
	var out []model.MatchGroup
	for _, m := range s.modes {
		q, err := s.registry.Queue(m)
		if err != nil {
			continue
		}
		for _, g := range q.FindMatches(ctx) {
			g.ID = s.newID()
			out = append(out, g)
		}
	}
	return out
}

// Resolve satisfies worker.Resolver. Admission failures are already counted
// and the payers requeued, so they are not reported as worker errors.
func (s *Service) Resolve(ctx context.Context, g model.MatchGroup) error {
	_, err := s.ResolveGroup(ctx, g)
	if err != nil && isAdmissionFailure(err) {
		s.logger.Info(ctx, "group not admitted",
			logger.String("match", g.ID),
			logger.Error(err),
		)
		return nil
	}
	return err
}

// ResolveGroup admits, simulates and settles one group.
//
// Admission charges every entrant the entry cost in one transaction. If one
// entrant cannot be charged, nobody pays and the others go back to their
// queue. Once admitted the members leave every other queue, the race runs on
// a fresh seed, the record is archived, each participant is paid once and
// the leaderboards count the result. Cancelling ctx after admission does not
// interrupt settlement; grants that still fail are kept for RetryPendingGrants.
func (s *Service) ResolveGroup(ctx context.Context, g model.MatchGroup) (Resolution, error) {
	if len(g.Entries) != model.GroupSize {
		return Resolution{}, fmt.Errorf("%w: got %d", ErrInvalidGroup, len(g.Entries))
	}
	engine, ok := s.engines[g.Mode]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", matchmaking.ErrUnknownMode, g.Mode)
	}
	if g.ID == "" {
		g.ID = s.newID()
	}
	if s.resolved.SeenAndRecord(ctx, g.ID) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrDuplicateGroup, g.ID)
	}

	if busy, ok := s.claim(g); !ok {
		s.requeue(ctx, g, func(e model.QueueEntry) bool { return e.ParticipantID == busy })
		return Resolution{}, fmt.Errorf("%w: participant %d", ErrParticipantBusy, busy)
	}
	defer s.release(g)

	refs := lo.Map(g.Entries, func(e model.QueueEntry, _ int) progression.EntrantRef {
		return progression.EntrantRef{ParticipantID: e.ParticipantID, EntrantID: e.EntrantID}
	})
	if err := s.progress.DeductEntryCost(ctx, g.ID, s.entryCost, refs...); err != nil {
		s.admissionFailures.Add(1)
		failed, known := progression.FailedEntrant(err)
		s.requeue(ctx, g, func(e model.QueueEntry) bool { return known && e.EntrantID == failed })
		return Resolution{}, fmt.Errorf("admit %s: %w", g.ID, err)
	}
	ctx = context.WithoutCancel(ctx)
	for _, e := range g.Entries {
		s.registry.LeaveAll(ctx, e.ParticipantID)
	}

	seed := s.seed()
	start := time.Now()
	outcome, err := engine.Simulate(seed, g.Profiles())
	metrics.RecordSimulationDuration(g.Mode.String(), float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		return Resolution{}, fmt.Errorf("simulate %s: %w", g.ID, err)
	}

	now := s.now().UTC()
	var errs []error
	if err := s.records.SaveMatch(ctx, simulation.MatchRecord{MatchID: g.ID, CreatedAt: now, Outcome: outcome}); err != nil {
		metrics.RecordErrorByComponent("service", "save_match")
		s.logger.Error(ctx, "archiving match", logger.String("match", g.ID), logger.Error(err))
		errs = append(errs, err)
	}

	res := Resolution{MatchID: g.ID, Outcome: outcome}
	for _, r := range outcome.Ranked() {
		grant, err := s.table.ForRank(r.Rank, seed, r.ParticipantID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ref := progression.EntrantRef{ParticipantID: r.ParticipantID, EntrantID: r.EntrantID}
		st, err := s.progress.ApplyGrant(ctx, g.ID, ref, grant)
		switch {
		case errors.Is(err, progression.ErrAlreadySettled):
			continue
		case err != nil:
			s.logger.Error(ctx, "applying grant, will retry",
				logger.String("match", g.ID),
				logger.Int64("participant", r.ParticipantID),
				logger.Error(err),
			)
			s.deferGrant(pendingGrant{matchID: g.ID, ref: ref, grant: grant})
			errs = append(errs, err)
			continue
		}
		res.Settlements = append(res.Settlements, st)
	}

	placements := lo.Map(outcome.Results, func(r simulation.Result, _ int) repository.Placement {
		return repository.Placement{ParticipantID: r.ParticipantID, Rank: r.Rank}
	})
	if err := s.leaderboard.RecordOutcome(ctx, now, placements); err != nil {
		metrics.RecordLeaderboardError()
		s.logger.Error(ctx, "recording leaderboard outcome", logger.String("match", g.ID), logger.Error(err))
		errs = append(errs, err)
	}

	s.lastMu.Lock()
	for _, e := range g.Entries {
		s.lastMatch[e.ParticipantID] = g.ID
	}
	s.lastMu.Unlock()

	s.matchesResolved.Add(1)
	metrics.RecordMatchResolved(g.Mode.String())
	if w, ok := outcome.Winner(); ok {
		s.logger.Debug(ctx, "match resolved",
			logger.String("match", g.ID),
			logger.String("mode", g.Mode.String()),
			logger.Int64("seed", seed),
			logger.Int64("winner", w.ParticipantID),
		)
	}
	return res, errors.Join(errs...)
}

// pendingGrant is a payout whose match was admitted but not yet paid.
type pendingGrant struct {
	matchID string
	ref     progression.EntrantRef
	grant   rewards.Grant
}

func (s *Service) deferGrant(p pendingGrant) {
	s.pendingMu.Lock()
	s.pending = append(s.pending, p)
	s.pendingMu.Unlock()
}

// RetryPendingGrants applies deferred grants and returns how many are still
// unpaid. Grants are idempotent per (match, participant), so one that was
// paid after all is simply dropped.
func (s *Service) RetryPendingGrants(ctx context.Context) int {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendingMu.Unlock()
	if len(batch) == 0 {
		return 0
	}

	var left []pendingGrant
	for _, p := range batch {
		_, err := s.progress.ApplyGrant(context.WithoutCancel(ctx), p.matchID, p.ref, p.grant)
		if err != nil && !errors.Is(err, progression.ErrAlreadySettled) {
			s.logger.Warn(ctx, "grant retry failed",
				logger.String("match", p.matchID),
				logger.Int64("participant", p.ref.ParticipantID),
				logger.Error(err),
			)
			left = append(left, p)
		}
	}

	s.pendingMu.Lock()
	s.pending = append(left, s.pending...)
	n := len(s.pending)
	s.pendingMu.Unlock()
	return n
}

// PendingGrants returns how many admitted payouts are waiting for a retry.
func (s *Service) PendingGrants() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// claim marks every member as playing g. It fails with the first member
// already playing another group.
func (s *Service) claim(g model.MatchGroup) (int64, bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for _, e := range g.Entries {
		if _, busy := s.active[e.ParticipantID]; busy {
			return e.ParticipantID, false
		}
	}
	for _, e := range g.Entries {
		s.active[e.ParticipantID] = g.ID
	}
	return 0, true
}

func (s *Service) release(g model.MatchGroup) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	for _, e := range g.Entries {
		if s.active[e.ParticipantID] == g.ID {
			delete(s.active, e.ParticipantID)
		}
	}
}

// requeue returns group members to their queue, skipping those drop reports.
func (s *Service) requeue(ctx context.Context, g model.MatchGroup, drop func(model.QueueEntry) bool) {
	q, err := s.registry.Queue(g.Mode)
	if err != nil {
		return
	}
	for _, e := range g.Entries {
		if drop(e) {
			continue
		}
		if !q.Requeue(ctx, e) {
			s.logger.Debug(ctx, "member already back in queue",
				logger.Int64("participant", e.ParticipantID),
				logger.String("mode", g.Mode.String()),
			)
		}
	}
}

func isAdmissionFailure(err error) bool {
	return errors.Is(err, progression.ErrInsufficientEnergy) ||
		errors.Is(err, progression.ErrNotOwner) ||
		errors.Is(err, progression.ErrEntrantNotFound) ||
		errors.Is(err, progression.ErrParticipantNotFound) ||
		errors.Is(err, ErrParticipantBusy)
}

// Enroll creates or replaces a participant and the entrants they own.
func (s *Service) Enroll(ctx context.Context, p progression.Participant, entrants ...progression.Entrant) error {
	return s.progress.Enroll(ctx, p, entrants...)
}

// Participant returns a participant record.
func (s *Service) Participant(ctx context.Context, id int64) (progression.Participant, error) {
	return s.progress.Participant(ctx, id)
}

// Entrant returns an entrant record.
func (s *Service) Entrant(ctx context.Context, id int64) (progression.Entrant, error) {
	return s.progress.Entrant(ctx, id)
}

// Ledger returns a participant's newest ledger entries.
func (s *Service) Ledger(ctx context.Context, participantID int64, limit int) ([]progression.LedgerEntry, error) {
	return s.progress.Ledger(ctx, participantID, limit)
}

// Join queues an entrant for mode. The entrant must belong to the
// participant and hold at least the entry cost in energy; the profile is
// scored with the entrant's stored level, never the caller's.
func (s *Service) Join(ctx context.Context, mode model.Mode, profile model.ParticipantProfile) error {
	if _, err := s.registry.Queue(mode); err != nil {
		return err
	}
	e, err := s.progress.Entrant(ctx, profile.EntrantID)
	if err != nil {
		return err
	}
	if e.OwnerID != profile.ParticipantID {
		return fmt.Errorf("%w: entrant %d, participant %d", progression.ErrNotOwner, e.ID, profile.ParticipantID)
	}
	if e.Energy < s.entryCost {
		return &progression.InsufficientEnergyError{EntrantID: e.ID, Have: e.Energy, Need: s.entryCost}
	}
	profile.Level = e.Level
	return s.registry.Join(ctx, mode, profile)
}

// Leave removes a participant from mode's queue.
func (s *Service) Leave(ctx context.Context, mode model.Mode, participantID int64) error {
	return s.registry.Leave(ctx, mode, participantID)
}

// Status reports whether the participant is waiting in mode and the last
// match they finished. It fails with matchmaking.ErrNotQueued only when the
// participant is neither waiting nor has played.
func (s *Service) Status(ctx context.Context, mode model.Mode, participantID int64) (QueueStatus, error) {
	last, played := s.LastMatch(participantID)
	st, err := s.registry.Status(ctx, mode, participantID)
	switch {
	case err == nil:
		return QueueStatus{Status: st, Queued: true, LastMatchID: last}, nil
	case errors.Is(err, matchmaking.ErrNotQueued) && played:
		return QueueStatus{
			Status:      matchmaking.Status{Mode: mode, ParticipantID: participantID},
			LastMatchID: last,
		}, nil
	default:
		return QueueStatus{}, err
	}
}

// LastMatch returns the id of the participant's most recent match.
func (s *Service) LastMatch(participantID int64) (string, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	id, ok := s.lastMatch[participantID]
	return id, ok
}

// Match returns an archived match.
func (s *Service) Match(ctx context.Context, matchID string) (simulation.MatchRecord, error) {
	return s.records.Match(ctx, matchID)
}

// History pages through a participant's finished matches, newest first.
// An empty mode lists every mode; a zero limit means the default page.
func (s *Service) History(ctx context.Context, participantID int64, mode model.Mode, limit, offset int) ([]progression.HistoryEntry, error) {
	if mode != "" {
		if _, err := s.registry.Queue(mode); err != nil {
			return nil, err
		}
	}
	if limit < 0 || limit > maxHistoryLimit || offset < 0 {
		return nil, fmt.Errorf("%w: limit %d, offset %d", ErrInvalidQuery, limit, offset)
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	return s.records.History(ctx, progression.HistoryQuery{
		ParticipantID: participantID,
		Mode:          mode,
		Limit:         limit,
		Offset:        offset,
	})
}

// Settlement returns what a participant was paid for a match.
func (s *Service) Settlement(ctx context.Context, matchID string, participantID int64) (progression.Settlement, error) {
	return s.progress.Settlement(ctx, matchID, participantID)
}

// TopN returns the best n participants in scope.
func (s *Service) TopN(ctx context.Context, scope repository.Scope, n int) ([]repository.Entry, error) {
	return s.leaderboard.TopN(ctx, scope, n)
}

// Rank returns a participant's leaderboard entry in scope.
func (s *Service) Rank(ctx context.Context, scope repository.Scope, participantID int64) (repository.Entry, error) {
	return s.leaderboard.Rank(ctx, scope, participantID)
}

// ResetWeekly discards the current weekly window.
func (s *Service) ResetWeekly(ctx context.Context) error {
	return s.leaderboard.ResetWeekly(ctx, s.now())
}

// Modes returns the enabled modes.
func (s *Service) Modes() []model.Mode {
	return append([]model.Mode(nil), s.modes...)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	sizes := s.registry.Sizes()
	stats := map[string]interface{}{
		"started":            s.started,
		"workerCount":        s.workerCount,
		"groupQueueSize":     s.groupQueueSize,
		"entryCost":          s.entryCost,
		"modes":              lo.Map(s.modes, func(m model.Mode, _ int) string { return m.String() }),
		"waiting":            lo.MapKeys(sizes, func(_ int, m model.Mode) string { return m.String() }),
		"totalWaiting":       lo.Sum(lo.Values(sizes)),
		"pendingGroups":      s.groups.Len(ctx),
		"resolvedGroupCache": s.resolved.Size(),
		"matchesResolved":    s.matchesResolved.Load(),
		"admissionFailures":  s.admissionFailures.Load(),
		"pendingGrants":      s.PendingGrants(),
	}
	for _, scope := range []repository.Scope{repository.AllTime, repository.Weekly} {
		n, err := s.leaderboard.Count(ctx, scope)
		if err != nil {
			s.logger.Warn(ctx, "counting leaderboard", logger.String("scope", string(scope)), logger.Error(err))
			continue
		}
		stats[string(scope)+"Players"] = n
		metrics.UpdateLeaderboardPlayers(string(scope), n)
	}
	for m, n := range sizes {
		metrics.UpdateMatchmakingDepth(m.String(), n)
	}
	return stats
}
