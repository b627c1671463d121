package service

import (
	"context"
	"fmt"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
)

// ActivityService records outputs and the audit trail and serves the timeline
type ActivityService interface {
	RecordOutput(ctx context.Context, output *entity.AgentOutput) error
	RecordActivity(ctx context.Context, record *entity.ActivityRecord) error
	GetActivity(ctx context.Context, userID string, limit int) ([]*entity.ActivityRecord, error)
	GetTaskActivity(ctx context.Context, taskID string) ([]*entity.ActivityRecord, error)
	ListOutputs(ctx context.Context, userID string, limit int) ([]*entity.AgentOutput, error)
}

// MaxActivityLimit caps timeline page size
const MaxActivityLimit = 200

type activityServiceImpl struct {
	outputRepo   port.OutputRepository
	activityRepo port.ActivityRepository
	logger       Logger
}

// NewActivityService creates a new ActivityService
func NewActivityService(
	outputRepo port.OutputRepository,
	activityRepo port.ActivityRepository,
	logger Logger,
) ActivityService {
	return &activityServiceImpl{
		outputRepo:   outputRepo,
		activityRepo: activityRepo,
		logger:       logger,
	}
}

// RecordOutput persists an agent output
func (s *activityServiceImpl) RecordOutput(ctx context.Context, output *entity.AgentOutput) error {
	if err := s.outputRepo.Create(ctx, output); err != nil {
		return fmt.Errorf("record output: %w", err)
	}
	return nil
}

// RecordActivity persists an activity record
func (s *activityServiceImpl) RecordActivity(ctx context.Context, record *entity.ActivityRecord) error {
	if err := s.activityRepo.Create(ctx, record); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// GetActivity returns the user's timeline, newest first
func (s *activityServiceImpl) GetActivity(ctx context.Context, userID string, limit int) ([]*entity.ActivityRecord, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}
	records, err := s.activityRepo.ListByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		s.logger.Error("Failed to list activity", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return records, nil
}

// GetTaskActivity returns everything recorded for one task
func (s *activityServiceImpl) GetTaskActivity(ctx context.Context, taskID string) ([]*entity.ActivityRecord, error) {
	if taskID == "" {
		return nil, entity.NewValidationError("task_id", "required")
	}
	return s.activityRepo.ListByTask(ctx, taskID)
}

// ListOutputs returns the user's recent outputs, newest first
func (s *activityServiceImpl) ListOutputs(ctx context.Context, userID string, limit int) ([]*entity.AgentOutput, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}
	outputs, err := s.outputRepo.ListByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		s.logger.Error("Failed to list outputs", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	return outputs, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxActivityLimit {
		return MaxActivityLimit
	}
	return limit
}
