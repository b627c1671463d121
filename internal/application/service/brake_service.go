package service

import (
	"context"
	"fmt"

	"github.com/garyjia/agent-runtime/internal/application/besteffort"
	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
)

// Activity event type for brake toggles
const ActivityBrakeChanged = "brake.changed"

// BrakeService reads and toggles the per-user kill switch.
// IsActive is a fresh read every time; callers must not cache it.
type BrakeService interface {
	GetBrake(ctx context.Context, userID string) (*entity.BrakeState, error)
	SetBrake(ctx context.Context, userID string, active bool, reason string) (*entity.BrakeState, error)
	IsActive(ctx context.Context, userID string) (bool, *entity.BrakeState, error)
}

type brakeServiceImpl struct {
	brakeRepo port.BrakeRepository
	activity  ActivityService
	publisher EventPublisher
	now       Clock
	logger    Logger
}

// NewBrakeService creates a new BrakeService
func NewBrakeService(
	brakeRepo port.BrakeRepository,
	activity ActivityService,
	publisher EventPublisher,
	logger Logger,
) BrakeService {
	return &brakeServiceImpl{
		brakeRepo: brakeRepo,
		activity:  activity,
		publisher: publisher,
		now:       utcNow,
		logger:    logger,
	}
}

// GetBrake returns the current state, inactive if never set
func (s *brakeServiceImpl) GetBrake(ctx context.Context, userID string) (*entity.BrakeState, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}
	state, err := s.brakeRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get brake: %w", err)
	}
	return state, nil
}

// IsActive is the authoritative brake read used before every run
func (s *brakeServiceImpl) IsActive(ctx context.Context, userID string) (bool, *entity.BrakeState, error) {
	state, err := s.GetBrake(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	return state.Active, state, nil
}

// SetBrake activates or releases the brake
func (s *brakeServiceImpl) SetBrake(ctx context.Context, userID string, active bool, reason string) (*entity.BrakeState, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}

	now := s.now()
	state := &entity.BrakeState{
		UserID:    userID,
		Active:    active,
		UpdatedAt: now,
	}
	if active {
		state.Reason = reason
		state.ActivatedAt = &now
	}

	if err := s.brakeRepo.Upsert(ctx, state); err != nil {
		s.logger.Error("Failed to set brake", "error", err, "user_id", userID, "active", active)
		return nil, fmt.Errorf("set brake: %w", err)
	}

	s.logger.Info("Brake updated", "user_id", userID, "active", active, "reason", reason)

	data := map[string]interface{}{"active": active, "reason": reason}
	besteffort.Do(ctx, s.logger, "record_brake_change", func(ctx context.Context) error {
		return s.activity.RecordActivity(ctx, entity.NewActivityRecord(userID, "", ActivityBrakeChanged, entity.SeverityInfo, data))
	}, "user_id", userID)
	s.publisher.Publish(ctx, event.NewEvent(event.TypeBrakeChanged, userID, "", data))

	return state, nil
}
