// Package memory is an in-process task queue backed by buffered channels.
// It is used in single-process mode and in tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// DefaultBufferSize is the per-queue channel capacity
const DefaultBufferSize = 256

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("queue closed")

// Queue implements port.TaskQueue
type Queue struct {
	mu      sync.Mutex
	queues  map[string]chan *entity.AgentTask
	size    int
	done    chan struct{}
	closeMu sync.Once
	logger  *zap.Logger

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

// New creates a Queue. size <= 0 uses DefaultBufferSize.
func New(size int, logger *zap.Logger) *Queue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Queue{
		queues: make(map[string]chan *entity.AgentTask),
		size:   size,
		done:   make(chan struct{}),
		logger: logger,
		timers: make(map[*time.Timer]struct{}),
	}
}

func (q *Queue) channel(name string) chan *entity.AgentTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan *entity.AgentTask, q.size)
		q.queues[name] = ch
	}
	return ch
}

// Enqueue blocks while the queue is full
func (q *Queue) Enqueue(ctx context.Context, queue string, task *entity.AgentTask) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.channel(queue) <- task:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAt delivers the task from a timer goroutine once at has passed.
// The delivery waits for room in the buffer off the caller's goroutine, so
// a consumer rescheduling onto its own full queue does not deadlock.
func (q *Queue) EnqueueAt(ctx context.Context, queue string, task *entity.AgentTask, at time.Time) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	ch := q.channel(queue)
	q.timersMu.Lock()
	defer q.timersMu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		q.timersMu.Lock()
		delete(q.timers, timer)
		q.timersMu.Unlock()

		select {
		case ch <- task:
		case <-q.done:
			q.logger.Warn("Dropping scheduled task on close",
				zap.String("queue", queue),
				zap.String("task_id", task.ID),
			)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Scheduled returns the number of EnqueueAt tasks whose delay has not elapsed
func (q *Queue) Scheduled() int {
	q.timersMu.Lock()
	defer q.timersMu.Unlock()
	return len(q.timers)
}

// Consume hands tasks to handler one at a time until ctx is cancelled or
// the queue is closed. Handler errors are logged; the task is not
// redelivered.
func (q *Queue) Consume(ctx context.Context, queue string, handler port.TaskHandler) error {
	ch := q.channel(queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case task := <-ch:
			if err := handler(ctx, task); err != nil {
				q.logger.Error("Failed to handle task",
					zap.Error(err),
					zap.String("queue", queue),
					zap.String("task_id", task.ID),
				)
			}
		}
	}
}

// Len returns the number of buffered tasks on a queue
func (q *Queue) Len(queue string) int {
	return len(q.channel(queue))
}

// Close stops every consumer. Buffered and scheduled tasks are dropped.
func (q *Queue) Close() error {
	q.closeMu.Do(func() {
		close(q.done)

		q.timersMu.Lock()
		defer q.timersMu.Unlock()
		for timer := range q.timers {
			if timer.Stop() {
				delete(q.timers, timer)
			}
		}
	})
	return nil
}

var _ port.TaskQueue = (*Queue)(nil)
