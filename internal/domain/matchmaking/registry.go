package matchmaking

import (
	"context"
	"fmt"

	"github.com/okian/spiritrace/internal/domain/model"
)

// Registry owns one Queue per enabled mode. It is constructed once per
// process and shared by reference.
type Registry struct {
	modes  []model.Mode
	queues map[model.Mode]*Queue
}

// NewRegistry creates queues for modes; an empty list enables every mode.
func NewRegistry(modes []model.Mode, opts ...Option) *Registry {
	if len(modes) == 0 {
		modes = model.Modes()
	}
	r := &Registry{queues: make(map[model.Mode]*Queue, len(modes))}
	for _, m := range modes {
		if _, dup := r.queues[m]; dup {
			continue
		}
		r.modes = append(r.modes, m)
		r.queues[m] = NewQueue(m, opts...)
	}
	return r
}

// Modes returns the enabled modes in registration order.
func (r *Registry) Modes() []model.Mode {
	return append([]model.Mode(nil), r.modes...)
}

// Queue returns the queue for mode.
func (r *Registry) Queue(mode model.Mode) (*Queue, error) {
	q, ok := r.queues[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return q, nil
}

// Join validates the profile and queues it in mode.
func (r *Registry) Join(ctx context.Context, mode model.Mode, profile model.ParticipantProfile) error {
	q, err := r.Queue(mode)
	if err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	if !q.Join(ctx, profile.ParticipantID, profile.EntrantID, profile) {
		return fmt.Errorf("%w: participant %d in %s", ErrAlreadyQueued, profile.ParticipantID, mode)
	}
	return nil
}

// Leave removes the participant from mode's queue.
func (r *Registry) Leave(ctx context.Context, mode model.Mode, participantID int64) error {
	q, err := r.Queue(mode)
	if err != nil {
		return err
	}
	if !q.Leave(ctx, participantID) {
		return fmt.Errorf("%w: participant %d in %s", ErrNotQueued, participantID, mode)
	}
	return nil
}

// LeaveAll removes the participant from every queue and returns how many
// entries were dropped.
func (r *Registry) LeaveAll(ctx context.Context, participantID int64) int {
	n := 0
	for _, m := range r.modes {
		if r.queues[m].Leave(ctx, participantID) {
			n++
		}
	}
	return n
}

// Status returns the participant's state in mode.
func (r *Registry) Status(ctx context.Context, mode model.Mode, participantID int64) (Status, error) {
	q, err := r.Queue(mode)
	if err != nil {
		return Status{}, err
	}
	st, ok := q.Status(ctx, participantID)
	if !ok {
		return Status{}, fmt.Errorf("%w: participant %d in %s", ErrNotQueued, participantID, mode)
	}
	return st, nil
}

// Sizes returns the current depth of every queue.
func (r *Registry) Sizes() map[model.Mode]int {
	out := make(map[model.Mode]int, len(r.modes))
	for _, m := range r.modes {
		out[m] = r.queues[m].Len()
	}
	return out
}
