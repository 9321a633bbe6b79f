package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/spiritrace/pkg/metrics"
)

const defaultKeyPrefix = "spiritrace:lb"

// RedisStore keeps each window as two sorted sets, wins and matches, keyed
// by participant id. Weekly keys carry a TTL refreshed on every write.
// Members are encoded so that Redis orders equal wins by participant id
// ascending, the same as TreapStore.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	weeklyTTL time.Duration
	now       func() time.Time
}

// NewRedisStore wraps an existing client. The caller owns the client unless
// Close is called.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    defaultKeyPrefix,
		weeklyTTL: DefaultWeeklyTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) keys(scope Scope, at time.Time) (wins, matches string) {
	window := windowKey(scope, at)
	return s.prefix + ":" + window + ":wins", s.prefix + ":" + window + ":matches"
}

// member stores MaxInt64-id zero padded. Reverse lexicographic order of
// equal-score members is then ascending id order.
func member(id int64) string {
	return fmt.Sprintf("%019d", uint64(math.MaxInt64-id))
}

func parseMember(m string) (int64, error) {
	v, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, err
	}
	return math.MaxInt64 - v, nil
}

// RecordOutcome writes both windows in one MULTI/EXEC block.
func (s *RedisStore) RecordOutcome(ctx context.Context, at time.Time, placements []Placement) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	winner, err := validatePlacements(placements)
	if err != nil {
		metrics.RecordLeaderboardError()
		return err
	}
	allWins, allMatches := s.keys(AllTime, at)
	weekWins, weekMatches := s.keys(Weekly, at)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range placements {
			m := member(p.ParticipantID)
			var w float64
			if p.ParticipantID == winner {
				w = 1
			}
			// ZINCRBY 0 still creates the member so non-winners are ranked.
			pipe.ZIncrBy(ctx, allWins, w, m)
			pipe.ZIncrBy(ctx, allMatches, 1, m)
			pipe.ZIncrBy(ctx, weekWins, w, m)
			pipe.ZIncrBy(ctx, weekMatches, 1, m)
		}
		pipe.Expire(ctx, weekWins, s.weeklyTTL)
		pipe.Expire(ctx, weekMatches, s.weeklyTTL)
		return nil
	})
	if err != nil {
		metrics.RecordLeaderboardError()
		return fmt.Errorf("record outcome: %w", err)
	}
	metrics.RecordLeaderboardUpdate()
	return nil
}

func checkScope(scope Scope) error {
	if scope != AllTime && scope != Weekly {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	return nil
}

// TopN returns up to n entries of scope ordered by wins desc.
func (s *RedisStore) TopN(ctx context.Context, scope Scope, n int) ([]Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	winsKey, matchesKey := s.keys(scope, s.now())

	top, err := s.client.ZRevRangeWithScores(ctx, winsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("top wins: %w", err)
	}
	if len(top) == 0 {
		return []Entry{}, nil
	}

	cmds := make([]*redis.FloatCmd, len(top))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, z := range top {
			cmds[i] = pipe.ZScore(ctx, matchesKey, z.Member.(string))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("top matches: %w", err)
	}

	out := make([]Entry, 0, len(top))
	for i, z := range top {
		id, err := parseMember(z.Member.(string))
		if err != nil {
			return nil, fmt.Errorf("member %v: %w", z.Member, err)
		}
		matches, err := cmds[i].Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("matches of %d: %w", id, err)
		}
		wins := int64(z.Score)
		out = append(out, Entry{
			Rank:          i + 1,
			ParticipantID: id,
			Wins:          wins,
			Matches:       int64(matches),
			WinRate:       winRate(wins, int64(matches)),
		})
	}
	return out, nil
}

// Rank returns the 1-based position of a participant in scope.
func (s *RedisStore) Rank(ctx context.Context, scope Scope, participantID int64) (Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := checkScope(scope); err != nil {
		return Entry{}, err
	}
	winsKey, matchesKey := s.keys(scope, s.now())
	m := member(participantID)

	var (
		rankCmd    *redis.IntCmd
		winsCmd    *redis.FloatCmd
		matchesCmd *redis.FloatCmd
	)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		rankCmd = pipe.ZRevRank(ctx, winsKey, m)
		winsCmd = pipe.ZScore(ctx, winsKey, m)
		matchesCmd = pipe.ZScore(ctx, matchesKey, m)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, fmt.Errorf("rank: %w", err)
	}
	if errors.Is(rankCmd.Err(), redis.Nil) {
		return Entry{}, ErrNotFound
	}

	rank := rankCmd.Val()
	wins := int64(winsCmd.Val())
	matches := int64(matchesCmd.Val())
	return Entry{
		Rank:          int(rank) + 1,
		ParticipantID: participantID,
		Wins:          wins,
		Matches:       matches,
		WinRate:       winRate(wins, matches),
	}, nil
}

// Count returns the number of ranked participants in scope.
func (s *RedisStore) Count(ctx context.Context, scope Scope) (int, error) {
	if err := checkScope(scope); err != nil {
		return 0, err
	}
	winsKey, _ := s.keys(scope, s.now())
	n, err := s.client.ZCard(ctx, winsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	metrics.UpdateLeaderboardPlayers(string(scope), int(n))
	return int(n), nil
}

// ResetWeekly deletes the weekly keys of the week containing at.
func (s *RedisStore) ResetWeekly(ctx context.Context, at time.Time) error {
	winsKey, matchesKey := s.keys(Weekly, at)
	if err := s.client.Del(ctx, winsKey, matchesKey).Err(); err != nil {
		return fmt.Errorf("reset weekly: %w", err)
	}
	metrics.UpdateLeaderboardPlayers(string(Weekly), 0)
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
