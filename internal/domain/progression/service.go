package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/spiritrace/internal/domain/rewards"
	"github.com/okian/spiritrace/pkg/logger"
	"github.com/okian/spiritrace/pkg/metrics"
)

const (
	defaultConflictRetries = 5
	defaultInitialBackoff  = 10 * time.Millisecond
	defaultMaxBackoff      = 250 * time.Millisecond
)

// Service mutates progression records. It is safe for concurrent use; all
// serialization happens in the Store.
type Service struct {
	store          Store
	retries        uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
	logger         logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConflictRetries bounds how many times a conflicting transaction is retried.
func WithConflictRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = uint64(n)
		}
	}
}

// WithBackoff sets the first and the largest retry delay.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(s *Service) {
		if initial > 0 && maxDelay >= initial {
			s.initialBackoff = initial
			s.maxBackoff = maxDelay
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		retries:        defaultConflictRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("progression")
	}
	return s
}

// Enroll creates or replaces a participant and its entrants.
func (s *Service) Enroll(ctx context.Context, p Participant, entrants ...Entrant) error {
	now := s.now().UTC()
	return s.inTx(ctx, "enroll", func(tx Tx) error {
		p.UpdatedAt = now
		if err := tx.PutParticipant(ctx, p); err != nil {
			return err
		}
		for _, e := range entrants {
			if e.OwnerID == 0 {
				e.OwnerID = p.ID
			}
			if e.OwnerID != p.ID {
				return fmt.Errorf("%w: entrant %d", ErrNotOwner, e.ID)
			}
			if e.Level < 1 {
				e.Level = 1
			}
			e.UpdatedAt = now
			if err := tx.PutEntrant(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Participant loads a participant record.
func (s *Service) Participant(ctx context.Context, id int64) (Participant, error) {
	var out Participant
	err := s.inTx(ctx, "participant", func(tx Tx) error {
		p, err := tx.Participant(ctx, id)
		out = p
		return err
	})
	return out, err
}

// Entrant loads an entrant record.
func (s *Service) Entrant(ctx context.Context, id int64) (Entrant, error) {
	var out Entrant
	err := s.inTx(ctx, "entrant", func(tx Tx) error {
		e, err := tx.Entrant(ctx, id)
		out = e
		return err
	})
	return out, err
}

// Ledger returns a participant's newest ledger entries.
func (s *Service) Ledger(ctx context.Context, participantID int64, limit int) ([]LedgerEntry, error) {
	return s.store.Ledger(ctx, participantID, limit)
}

// ApplyGrant pays one participant for one match: experience and level-ups on
// the entrant, currency plus a ledger entry on the participant. A second call
// for the same (match, participant) returns ErrAlreadySettled and changes nothing.
func (s *Service) ApplyGrant(ctx context.Context, matchID string, ref EntrantRef, g rewards.Grant) (Settlement, error) {
	if g.XP < 0 || g.Currency < 0 {
		return Settlement{}, fmt.Errorf("%w: negative grant", ErrInvalidAmount)
	}
	var out Settlement
	err := s.inTx(ctx, "apply_grant", func(tx Tx) error {
		now := s.now().UTC()
		p, err := tx.Participant(ctx, ref.ParticipantID)
		if err != nil {
			return err
		}
		e, err := tx.Entrant(ctx, ref.EntrantID)
		if err != nil {
			return err
		}
		if e.OwnerID != p.ID {
			return fmt.Errorf("%w: entrant %d, participant %d", ErrNotOwner, e.ID, p.ID)
		}

		progress, err := rewards.ApplyXP(e.Level, e.XP, g.XP)
		if err != nil {
			return err
		}
		settlement := Settlement{
			MatchID:       matchID,
			ParticipantID: p.ID,
			EntrantID:     e.ID,
			Rank:          g.Rank,
			XP:            g.XP,
			Currency:      g.Currency,
			ItemID:        g.ItemID,
			Level:         progress.Level,
			LevelsGained:  progress.LevelsGained,
			CreatedAt:     now,
		}
		fresh, err := tx.MarkSettled(ctx, settlement)
		if err != nil {
			return err
		}
		if !fresh {
			return fmt.Errorf("%w: match %s, participant %d", ErrAlreadySettled, matchID, p.ID)
		}

		e.Level, e.XP, e.UpdatedAt = progress.Level, progress.XP, now
		if err := tx.PutEntrant(ctx, e); err != nil {
			return err
		}
		if g.Currency != 0 {
			p.Currency += g.Currency
			p.UpdatedAt = now
			if err := tx.PutParticipant(ctx, p); err != nil {
				return err
			}
			if err := tx.AppendLedger(ctx, LedgerEntry{
				ParticipantID: p.ID,
				EntrantID:     e.ID,
				Resource:      Lumens,
				Delta:         g.Currency,
				Balance:       p.Currency,
				Reason:        RewardReason(matchID),
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		out = settlement
		return nil
	})
	switch {
	case errors.Is(err, ErrAlreadySettled):
		metrics.RecordDuplicateSettlement()
		return Settlement{}, err
	case err != nil:
		return Settlement{}, err
	}

	metrics.RecordGrantApplied()
	if out.LevelsGained > 0 {
		metrics.RecordLevelUps(out.LevelsGained)
	}
	if out.ItemID != "" {
		metrics.RecordItemDropped()
	}
	s.logger.Debug(ctx, "grant applied",
		logger.String("match", matchID),
		logger.Int64("participant", ref.ParticipantID),
		logger.Int("rank", out.Rank),
		logger.Int("level", out.Level),
	)
	return out, nil
}

// DeductEntryCost charges amount energy to every entrant in one atomic unit.
// Ownership and balances are checked first; if any entrant cannot pay, no
// entrant is charged.
func (s *Service) DeductEntryCost(ctx context.Context, matchID string, amount int64, refs ...EntrantRef) error {
	if amount <= 0 {
		return fmt.Errorf("%w: entry cost %d", ErrInvalidAmount, amount)
	}
	err := s.inTx(ctx, "deduct_entry_cost", func(tx Tx) error {
		now := s.now().UTC()
		for _, ref := range refs {
			e, err := tx.Entrant(ctx, ref.EntrantID)
			if errors.Is(err, ErrEntrantNotFound) {
				return &EntrantError{EntrantID: ref.EntrantID, Err: err}
			}
			if err != nil {
				return err
			}
			if e.OwnerID != ref.ParticipantID {
				return &EntrantError{
					EntrantID: e.ID,
					Err:       fmt.Errorf("%w: participant %d", ErrNotOwner, ref.ParticipantID),
				}
			}
			if e.Energy < amount {
				return &InsufficientEnergyError{EntrantID: e.ID, Have: e.Energy, Need: amount}
			}
			e.Energy -= amount
			e.UpdatedAt = now
			if err := tx.PutEntrant(ctx, e); err != nil {
				return err
			}
			if err := tx.AppendLedger(ctx, LedgerEntry{
				ParticipantID: ref.ParticipantID,
				EntrantID:     e.ID,
				Resource:      Energy,
				Delta:         -amount,
				Balance:       e.Energy,
				Reason:        EntryCostReason(matchID),
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordAdmissionFailure(admissionReason(err))
	}
	return err
}

// Settlement returns the stored payout for (match, participant).
func (s *Service) Settlement(ctx context.Context, matchID string, participantID int64) (Settlement, error) {
	return s.store.Settlement(ctx, matchID, participantID)
}

// inTx runs fn in a store transaction, retrying ErrConflict with exponential
// backoff up to the configured bound. Other errors end the loop at once.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.initialBackoff
	eb.MaxInterval = s.maxBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.retries), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := s.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) {
			metrics.RecordConflictRetry()
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil && errors.Is(err, ErrConflict) {
		s.logger.Warn(ctx, "giving up after conflicts",
			logger.String("op", op),
			logger.Int("attempts", attempts),
		)
		return fmt.Errorf("%s: %d attempts: %w", op, attempts, err)
	}
	return err
}

func admissionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientEnergy):
		return "insufficient_energy"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrEntrantNotFound), errors.Is(err, ErrParticipantNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "other"
	}
}
