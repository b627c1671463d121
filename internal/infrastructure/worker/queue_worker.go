package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// DefaultRestartDelay is the pause before consuming again after the
// transport gave up
const DefaultRestartDelay = 5 * time.Second

// QueueWorker consumes one queue and hands each task to the handler, one
// task at a time
type QueueWorker struct {
	name         string
	queue        port.TaskQueue
	queueName    string
	handler      port.TaskHandler
	restartDelay time.Duration
	logger       *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool

	handled atomic.Int64
	failed  atomic.Int64
}

// NewQueueWorker creates a worker. index distinguishes workers sharing a queue.
func NewQueueWorker(queue port.TaskQueue, queueName string, index int, handler port.TaskHandler, logger *zap.Logger) *QueueWorker {
	return &QueueWorker{
		name:         fmt.Sprintf("QueueWorker[%s#%d]", queueName, index),
		queue:        queue,
		queueName:    queueName,
		handler:      handler,
		restartDelay: DefaultRestartDelay,
		logger:       logger,
	}
}

// Start begins consuming in the background
func (w *QueueWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("%s already running", w.name)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	go w.consumeLoop(ctx, w.done)
	return nil
}

func (w *QueueWorker) consumeLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := w.queue.Consume(ctx, w.queueName, w.handle)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			w.logger.Info("Queue closed, worker exiting", zap.String("worker_name", w.name))
			return
		}

		w.logger.Error("Consumer stopped, restarting",
			zap.String("worker_name", w.name),
			zap.Duration("delay", w.restartDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.restartDelay):
		}
	}
}

func (w *QueueWorker) handle(ctx context.Context, task *entity.AgentTask) error {
	err := w.handler(ctx, task)
	if err != nil {
		w.failed.Add(1)
	} else {
		w.handled.Add(1)
	}
	return err
}

// Stop cancels consumption and waits for the in-flight task
func (w *QueueWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("QueueWorker stopped",
		zap.String("worker_name", w.name),
		zap.Int64("handled", w.handled.Load()),
		zap.Int64("failed", w.failed.Load()))
	return nil
}

// Name returns the worker name for identification
func (w *QueueWorker) Name() string {
	return w.name
}

// Handled returns the number of tasks handled without error
func (w *QueueWorker) Handled() int64 {
	return w.handled.Load()
}
