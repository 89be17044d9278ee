package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/job"
)

// Queue is a FIFO of jobs drained strictly one at a time. Jobs may be pushed
// while a drain is running; they are picked up by the same drain.
type Queue struct {
	sender Sender
	logger *slog.Logger

	mu         sync.Mutex
	items      []job.SyncJob
	inProgress bool
	// drains counts cycles whose OnDrained callback has not returned yet.
	// idle is closed when it reaches zero.
	drains int
	idle   chan struct{}
	onDrained  func(Result)
}

// NewQueue creates an empty queue.
func NewQueue(sender Sender, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{sender: sender, logger: logger, idle: idle}
}

// OnDrained sets the callback invoked once at the end of every drain cycle.
func (q *Queue) OnDrained(fn func(Result)) {
	q.mu.Lock()
	q.onDrained = fn
	q.mu.Unlock()
}

// Push appends jobs to the tail of the queue.
func (q *Queue) Push(jobs ...job.SyncJob) {
	q.mu.Lock()
	q.items = append(q.items, jobs...)
	q.mu.Unlock()
}

// Pending returns the number of jobs not yet taken by a drain.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start begins a drain cycle in the background. It returns false and does
// nothing when a drain is already running.
func (q *Queue) Start(ctx context.Context) bool {
	q.mu.Lock()
	if q.inProgress {
		q.mu.Unlock()
		return false
	}
	q.inProgress = true
	if q.drains == 0 {
		q.idle = make(chan struct{})
	}
	q.drains++
	q.mu.Unlock()

	go q.drain(ctx)
	return true
}

// Wait blocks until every started drain has finished and reported through
// OnDrained, or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return apperr.Wrap(apperr.CodeCancelled, "dispatch.wait", ctx.Err())
	}
}

func (q *Queue) drain(ctx context.Context) {
	var c counters
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.inProgress = false
			fn := q.onDrained
			q.mu.Unlock()

			if fn != nil {
				fn(c.result())
			}

			q.mu.Lock()
			q.drains--
			if q.drains == 0 {
				close(q.idle)
			}
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := ctx.Err(); err != nil {
			c.record(next, apperr.Wrap(apperr.CodeCancelled, "dispatch", err))
			continue
		}
		c.record(next, deliver(ctx, q.sender, next, q.logger))
	}
}
