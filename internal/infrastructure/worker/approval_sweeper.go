package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// DefaultSweepInterval is how often expired approvals are swept
const DefaultSweepInterval = 10 * time.Minute

// JobSubmitter enqueues maintenance jobs
type JobSubmitter interface {
	SubmitJob(ctx context.Context, name string, payload map[string]interface{}) (string, error)
}

// ApprovalSweeper periodically submits the expiry sweep to the general
// queue. The sweep itself runs on whichever worker picks up the job.
type ApprovalSweeper struct {
	submitter JobSubmitter
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	lastRun   time.Time
}

// NewApprovalSweeper creates a sweeper
func NewApprovalSweeper(submitter JobSubmitter, interval time.Duration, logger *zap.Logger) *ApprovalSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ApprovalSweeper{submitter: submitter, interval: interval, logger: logger}
}

// Start begins the ticker loop
func (s *ApprovalSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("approval sweeper already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true

	s.logger.Info("ApprovalSweeper started", zap.Duration("interval", s.interval))
	go s.loop(ctx, s.done)
	return nil
}

func (s *ApprovalSweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Failed to submit approval sweep", zap.Error(err))
			}
		}
	}
}

// RunOnce submits a single sweep job
func (s *ApprovalSweeper) RunOnce(ctx context.Context) error {
	taskID, err := s.submitter.SubmitJob(ctx, entity.JobSweepExpiredApprovals, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
	s.logger.Debug("Approval sweep submitted", zap.String("task_id", taskID))
	return nil
}

// LastRun returns when a sweep was last submitted
func (s *ApprovalSweeper) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Stop terminates the loop
func (s *ApprovalSweeper) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("ApprovalSweeper stopped")
	return nil
}

// Name returns the worker name for identification
func (s *ApprovalSweeper) Name() string {
	return "ApprovalSweeper"
}
