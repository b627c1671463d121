package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrakeService_SetAndRead(t *testing.T) {
	states := map[string]*entity.BrakeState{}
	repo := &mockBrakeRepo{
		getFunc: func(ctx context.Context, userID string) (*entity.BrakeState, error) {
			if s, ok := states[userID]; ok {
				return s, nil
			}
			return entity.InactiveBrake(userID), nil
		},
		upsertFunc: func(ctx context.Context, state *entity.BrakeState) error {
			states[state.UserID] = state
			return nil
		},
	}
	activity := &mockActivityService{}
	pub := &recordingPublisher{}
	svc := NewBrakeService(repo, activity, pub, &mockLogger{}).(*brakeServiceImpl)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	active, _, err := svc.IsActive(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, active)

	state, err := svc.SetBrake(ctx, "u1", true, "job offer accepted")
	require.NoError(t, err)
	assert.True(t, state.Active)
	require.NotNil(t, state.ActivatedAt)
	assert.Equal(t, fixed, *state.ActivatedAt)

	active, state, err = svc.IsActive(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "job offer accepted", state.Reason)

	state, err = svc.SetBrake(ctx, "u1", false, "ignored")
	require.NoError(t, err)
	assert.False(t, state.Active)
	assert.Empty(t, state.Reason)
	assert.Nil(t, state.ActivatedAt)

	assert.Equal(t, []event.Type{event.TypeBrakeChanged, event.TypeBrakeChanged}, pub.types())
	assert.Equal(t, []string{ActivityBrakeChanged, ActivityBrakeChanged}, activity.eventTypes())
}

func TestBrakeService_Errors(t *testing.T) {
	repo := &mockBrakeRepo{
		getFunc: func(ctx context.Context, userID string) (*entity.BrakeState, error) {
			return nil, errors.New("db down")
		},
		upsertFunc: func(ctx context.Context, state *entity.BrakeState) error {
			return errors.New("db down")
		},
	}
	svc := NewBrakeService(repo, &mockActivityService{}, &recordingPublisher{}, &mockLogger{})
	ctx := context.Background()

	_, _, err := svc.IsActive(ctx, "u1")
	assert.Error(t, err)

	_, err = svc.SetBrake(ctx, "u1", true, "x")
	assert.Error(t, err)

	_, err = svc.GetBrake(ctx, "")
	assert.ErrorIs(t, err, entity.ErrValidation)
}
