// Package matchmaking holds waiting participants per mode and groups
// compatible ones into matches. Tolerance widens the longer an anchor waits,
// trading skill fit for latency.
package matchmaking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/internal/domain/scoring"
	"github.com/okian/spiritrace/pkg/logger"
	"github.com/okian/spiritrace/pkg/metrics"
)

// Default tolerance policy: window = score * (1 + wait_seconds*growth) * ratio,
// i.e. +10% every 10 seconds of waiting.
const (
	defaultToleranceRatio  = 0.2
	defaultToleranceGrowth = 0.01
)

// Estimated waits reported by Status.
const (
	estimateReady    = 5 * time.Second
	estimateOneShort = 20 * time.Second
	estimateTwoShort = 60 * time.Second
)

// Status describes a queued participant without mutating the queue.
type Status struct {
	Mode          model.Mode    `json:"mode"`
	ParticipantID int64         `json:"participant_id"`
	EntrantID     int64         `json:"entrant_id"`
	Score         float64       `json:"score"`
	QueueSize     int           `json:"queue_size"`
	Position      int           `json:"queue_position"`
	Wait          time.Duration `json:"wait"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// Queue is one mode's waiting room. Every operation holds the queue mutex,
// so FindMatch selects and removes its group in a single critical section.
type Queue struct {
	mu      sync.Mutex
	mode    model.Mode
	root    *node
	entries map[int64]model.QueueEntry

	now             func() time.Time
	toleranceRatio  float64
	toleranceGrowth float64
	logger          logger.Logger
}

// NewQueue creates an empty queue for mode.
func NewQueue(mode model.Mode, opts ...Option) *Queue {
	q := &Queue{
		mode:            mode,
		entries:         make(map[int64]model.QueueEntry),
		now:             time.Now,
		toleranceRatio:  defaultToleranceRatio,
		toleranceGrowth: defaultToleranceGrowth,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logger.Get().Named("matchmaking")
	}
	return q
}

// Mode returns the queue's mode.
func (q *Queue) Mode() model.Mode { return q.mode }

// Join inserts the participant. It returns false, changing nothing, when the
// participant already has a live entry here.
func (q *Queue) Join(ctx context.Context, participantID, entrantID int64, profile model.ParticipantProfile) bool {
	profile.ParticipantID = participantID
	profile.EntrantID = entrantID
	return q.Requeue(ctx, model.QueueEntry{
		ParticipantID: participantID,
		EntrantID:     entrantID,
		Mode:          q.mode,
		Score:         scoring.Score(q.mode, profile),
		Profile:       profile,
		JoinedAt:      q.now(),
	})
}

// Requeue inserts a previously formed entry, keeping its join time so the
// participant does not lose accumulated tolerance.
func (q *Queue) Requeue(ctx context.Context, e model.QueueEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[e.ParticipantID]; ok {
		return false
	}
	e.Mode = q.mode
	q.entries[e.ParticipantID] = e
	q.root = insert(q.root, e.ParticipantID, e.Score)

	metrics.RecordMatchmakingJoin(q.mode.String())
	metrics.UpdateMatchmakingDepth(q.mode.String(), len(q.entries))
	q.logger.Debug(ctx, "participant queued",
		logger.String("mode", q.mode.String()),
		logger.Int64("participant", e.ParticipantID),
		logger.Float64("score", e.Score),
	)
	return true
}

// Leave removes the participant's entry. It returns false when absent,
// including when a concurrent FindMatch already took it.
func (q *Queue) Leave(ctx context.Context, participantID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.removeLocked(participantID) {
		return false
	}
	metrics.RecordMatchmakingLeave(q.mode.String())
	metrics.UpdateMatchmakingDepth(q.mode.String(), len(q.entries))
	return true
}

func (q *Queue) removeLocked(participantID int64) bool {
	e, ok := q.entries[participantID]
	if !ok {
		return false
	}
	q.root = deleteNode(q.root, participantID, e.Score)
	delete(q.entries, participantID)
	return true
}

// Tolerance returns the anchor's acceptance window at time now.
func (q *Queue) Tolerance(anchor model.QueueEntry, now time.Time) float64 {
	wait := now.Sub(anchor.JoinedAt).Seconds()
	if wait < 0 {
		wait = 0
	}
	return anchor.Score * (1 + wait*q.toleranceGrowth) * q.toleranceRatio
}

// Accepts reports whether anchor considers other in range. The relation is
// not symmetric: a long-waiting anchor accepts entries that would not accept it.
func (q *Queue) Accepts(anchor, other model.QueueEntry, now time.Time) bool {
	return math.Abs(anchor.Score-other.Score) <= q.Tolerance(anchor, now)
}

// FindMatch forms at most one group. Anchors are tried in ascending score
// order and the first anchor with two accepted others wins; all three entries
// leave the queue before the lock is released.
func (q *Queue) FindMatch(ctx context.Context) (model.MatchGroup, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) < model.GroupSize {
		return model.MatchGroup{}, false
	}

	order := make([]int64, 0, len(q.entries))
	ascend(q.root, &order)
	now := q.now()

	for _, anchorID := range order {
		anchor := q.entries[anchorID]
		picked := []model.QueueEntry{anchor}
		for _, otherID := range order {
			if otherID == anchorID {
				continue
			}
			other := q.entries[otherID]
			if !q.Accepts(anchor, other, now) {
				continue
			}
			picked = append(picked, other)
			if len(picked) == model.GroupSize {
				return q.takeLocked(ctx, picked, now), true
			}
		}
	}
	return model.MatchGroup{}, false
}

// FindMatches drains every group currently formable.
func (q *Queue) FindMatches(ctx context.Context) []model.MatchGroup {
	var groups []model.MatchGroup
	for {
		g, ok := q.FindMatch(ctx)
		if !ok {
			return groups
		}
		groups = append(groups, g)
	}
}

func (q *Queue) takeLocked(ctx context.Context, picked []model.QueueEntry, now time.Time) model.MatchGroup {
	for _, e := range picked {
		q.removeLocked(e.ParticipantID)
		metrics.RecordMatchWaitSeconds(q.mode.String(), now.Sub(e.JoinedAt).Seconds())
	}
	metrics.RecordMatchFormed(q.mode.String())
	metrics.UpdateMatchmakingDepth(q.mode.String(), len(q.entries))
	q.logger.Info(ctx, "match group formed",
		logger.String("mode", q.mode.String()),
		logger.Int64("anchor", picked[0].ParticipantID),
		logger.Int("remaining", len(q.entries)),
	)
	return model.MatchGroup{Mode: q.mode, Entries: picked, FormedAt: now}
}

// Status reports the participant's queue state, or false if not queued.
func (q *Queue) Status(ctx context.Context, participantID int64) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[participantID]
	if !ok {
		return Status{}, false
	}
	size := len(q.entries)
	return Status{
		Mode:          q.mode,
		ParticipantID: participantID,
		EntrantID:     e.EntrantID,
		Score:         e.Score,
		QueueSize:     size,
		Position:      position(q.root, participantID, e.Score) + 1,
		Wait:          q.now().Sub(e.JoinedAt),
		EstimatedWait: estimateWait(size),
	}, true
}

// Len returns the number of queued participants.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func estimateWait(size int) time.Duration {
	switch {
	case size >= model.GroupSize:
		return estimateReady
	case size == model.GroupSize-1:
		return estimateOneShort
	default:
		return estimateTwoShort
	}
}
