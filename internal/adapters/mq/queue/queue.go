// Package queue hands formed match groups from the matchmaker to the
// resolver workers.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/spiritrace/internal/domain/model"
	"github.com/okian/spiritrace/pkg/metrics"
)

const defaultQueueCapacity = 1024

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a group. It fails with ErrFull or ErrClosed instead of blocking.
	Enqueue(ctx context.Context, g model.MatchGroup) error

	// Dequeue returns a channel of groups. It is closed after Close once the
	// backlog is drained.
	Dequeue(ctx context.Context) <-chan model.MatchGroup

	Len(ctx context.Context) int
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue with a buffered channel.
type InMemoryQueue struct {
	groups   chan model.MatchGroup
	capacity int
	mu       sync.RWMutex
	closed   bool
}

// NewInMemoryQueue creates a queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.groups = make(chan model.MatchGroup, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.observe()
	return q
}

func (q *InMemoryQueue) observe() {
	size := len(q.groups)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}

// Enqueue adds a group without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, g model.MatchGroup) error {
	start := time.Now()
	defer func() {
		metrics.RecordQueueProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return err
	}

	select {
	case q.groups <- g:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue forwards groups until the queue is closed and drained or ctx ends.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan model.MatchGroup {
	out := make(chan model.MatchGroup)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case g, ok := <-q.groups:
				if !ok {
					return
				}
				select {
				case out <- g:
					metrics.RecordQueueDequeue()
					q.observe()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the number of waiting groups.
func (q *InMemoryQueue) Len(_ context.Context) int {
	q.observe()
	return len(q.groups)
}

// Close stops intake. Waiting groups are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.groups)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
