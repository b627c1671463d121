package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type approvalFixture struct {
	svc       *approvalServiceImpl
	repo      *memApprovalRepo
	tx        *mockTxManager
	strategy  *recordingStrategy
	brakes    *mockBrakeChecker
	activity  *mockActivityService
	publisher *recordingPublisher
	metrics   *countingMetrics
	clock     time.Time
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()
	f := &approvalFixture{
		repo:      newMemApprovalRepo(),
		tx:        &mockTxManager{},
		strategy:  &recordingStrategy{},
		brakes:    &mockBrakeChecker{},
		activity:  &mockActivityService{},
		publisher: &recordingPublisher{},
		metrics:   &countingMetrics{},
		clock:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	resolver := &mockResolver{strategies: map[entity.AgentType]port.Strategy{
		entity.AgentTypeNetworking: f.strategy,
	}}
	svc := NewApprovalService(f.repo, f.tx, resolver, f.brakes, f.activity, f.publisher, f.metrics,
		ApprovalConfig{TTL: 48 * time.Hour}, &mockLogger{}).(*approvalServiceImpl)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}

func outreach(message string) entity.ProposedAction {
	return entity.ProposedAction{
		Kind:    entity.ActionKindOutreach,
		Name:    "send_intro",
		Payload: map[string]interface{}{"message": message},
		Context: map[string]interface{}{"recipient": "Ada Lovelace", "relationship": "strong"},
	}
}

func (f *approvalFixture) enqueue(t *testing.T) *entity.ApprovalItem {
	t.Helper()
	item, err := f.svc.Enqueue(context.Background(), "u1", entity.AgentTypeNetworking, "task-1", outreach("original"))
	require.NoError(t, err)
	return item
}

func TestApprovalService_Enqueue(t *testing.T) {
	f := newApprovalFixture(t)
	item := f.enqueue(t)

	assert.Equal(t, entity.ApprovalStatusPending, item.Status)
	assert.Equal(t, f.clock.Add(48*time.Hour), item.ExpiresAt)
	assert.Equal(t, "task-1", item.TaskID)
	assert.Equal(t, "Ada Lovelace", item.Context["recipient"], "context is persisted verbatim")

	stored, err := f.repo.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Context, stored.Context)

	assert.Equal(t, []event.Type{event.TypeApprovalCreated}, f.publisher.types())
	assert.Equal(t, []string{entity.ActivityApprovalCreated}, f.activity.eventTypes())
	assert.Zero(t, f.strategy.count(), "enqueue never performs")
}

func TestApprovalService_EnqueueIsIdempotentPerTask(t *testing.T) {
	f := newApprovalFixture(t)
	first := f.enqueue(t)

	again := f.enqueue(t)
	assert.Equal(t, first.ID, again.ID)

	_, err := f.svc.Resolve(context.Background(), first.ID, entity.ResolveReject, nil)
	require.NoError(t, err)
	afterResolve := f.enqueue(t)
	assert.Equal(t, first.ID, afterResolve.ID, "a resolved item is not queued again")
	assert.Equal(t, entity.ApprovalStatusRejected, afterResolve.Status)

	other, err := f.svc.Enqueue(context.Background(), "u1", entity.AgentTypeNetworking, "task-2", outreach("original"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	assert.Len(t, f.repo.items, 2)
	created := 0
	for _, typ := range f.activity.eventTypes() {
		if typ == entity.ActivityApprovalCreated {
			created++
		}
	}
	assert.Equal(t, 2, created, "one approval.created record per queued item")
}

func TestApprovalService_EnqueueValidation(t *testing.T) {
	f := newApprovalFixture(t)

	_, err := f.svc.Enqueue(context.Background(), "", entity.AgentTypeNetworking, "t", outreach("x"))
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = f.svc.Enqueue(context.Background(), "u1", entity.AgentTypeNetworking, "t", entity.ProposedAction{})
	assert.ErrorIs(t, err, entity.ErrValidation)

	f.repo.createErr = errors.New("disk full")
	_, err = f.svc.Enqueue(context.Background(), "u1", entity.AgentTypeNetworking, "t", outreach("x"))
	assert.Error(t, err)
}

func TestApprovalService_ResolveRoundTrip(t *testing.T) {
	tests := []struct {
		name          string
		action        entity.ResolveAction
		edited        map[string]interface{}
		wantStatus    entity.ApprovalStatus
		wantPerforms  int
		wantMessage   string
		wantPayloadDB string
	}{
		{
			name:          "approve executes original payload once",
			action:        entity.ResolveApprove,
			wantStatus:    entity.ApprovalStatusApproved,
			wantPerforms:  1,
			wantMessage:   "original",
			wantPayloadDB: "original",
		},
		{
			name:          "edit_approve executes edited payload",
			action:        entity.ResolveEditApprove,
			edited:        map[string]interface{}{"message": "edited"},
			wantStatus:    entity.ApprovalStatusEditedApproved,
			wantPerforms:  1,
			wantMessage:   "edited",
			wantPayloadDB: "edited",
		},
		{
			name:          "reject executes nothing",
			action:        entity.ResolveReject,
			wantStatus:    entity.ApprovalStatusRejected,
			wantPerforms:  0,
			wantPayloadDB: "original",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newApprovalFixture(t)
			item := f.enqueue(t)

			resolved, err := f.svc.Resolve(context.Background(), item.ID, tt.action, tt.edited)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resolved.Status)
			require.NotNil(t, resolved.ResolvedAt)

			require.Equal(t, tt.wantPerforms, f.strategy.count())
			if tt.wantPerforms > 0 {
				assert.Equal(t, tt.wantMessage, f.strategy.performs[0].Payload["message"])
			}

			stored, err := f.repo.GetByID(context.Background(), item.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantPayloadDB, stored.Payload["message"])

			_, err = f.svc.Resolve(context.Background(), item.ID, entity.ResolveApprove, nil)
			assert.ErrorIs(t, err, entity.ErrAlreadyResolved)
			assert.Equal(t, tt.wantPerforms, f.strategy.count(), "second resolve performs nothing")

			assert.Equal(t, 1, f.metrics.resolved[string(tt.wantStatus)])
			assert.Contains(t, f.activity.eventTypes(), entity.ActivityApprovalResolved)
			assert.Contains(t, f.publisher.types(), event.TypeApprovalResolved)
		})
	}
}

func TestApprovalService_ResolveValidation(t *testing.T) {
	f := newApprovalFixture(t)
	item := f.enqueue(t)

	_, err := f.svc.Resolve(context.Background(), item.ID, "maybe", nil)
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = f.svc.Resolve(context.Background(), item.ID, entity.ResolveEditApprove, nil)
	assert.ErrorIs(t, err, entity.ErrValidation)

	_, err = f.svc.Resolve(context.Background(), "missing", entity.ResolveApprove, nil)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestApprovalService_ResolveConcurrentPerformsOnce(t *testing.T) {
	f := newApprovalFixture(t)
	item := f.enqueue(t)

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, raced := 0, 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Resolve(context.Background(), item.ID, entity.ResolveApprove, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, entity.ErrAlreadyResolved) {
				raced++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, raced)
	assert.Equal(t, 1, f.strategy.count())
}

func TestApprovalService_ResolveBlockedByBrake(t *testing.T) {
	f := newApprovalFixture(t)
	item := f.enqueue(t)
	f.brakes.active = true
	f.brakes.reason = "paused"

	_, err := f.svc.Resolve(context.Background(), item.ID, entity.ResolveApprove, nil)
	var brakeErr *entity.BrakeActiveError
	require.ErrorAs(t, err, &brakeErr)
	assert.Equal(t, "paused", brakeErr.Reason)
	assert.Zero(t, f.strategy.count())

	stored, _ := f.repo.GetByID(context.Background(), item.ID)
	assert.Equal(t, entity.ApprovalStatusPending, stored.Status, "item stays pending")

	// Rejecting never needs the brake released
	_, err = f.svc.Resolve(context.Background(), item.ID, entity.ResolveReject, nil)
	assert.NoError(t, err)
}

func TestApprovalService_ResolvePerformFailure(t *testing.T) {
	f := newApprovalFixture(t)
	item := f.enqueue(t)
	f.strategy.performErr = errors.New("smtp down")

	resolved, err := f.svc.Resolve(context.Background(), item.ID, entity.ResolveApprove, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrStrategyExecution)
	require.NotNil(t, resolved)
	assert.Equal(t, entity.ApprovalStatusApproved, resolved.Status)
	assert.Contains(t, f.activity.eventTypes(), entity.ActivityActionFailed)
	assert.NotContains(t, f.publisher.types(), event.TypeActionExecuted)
}

func TestApprovalService_ExpiredItemsCannotBeResolved(t *testing.T) {
	f := newApprovalFixture(t)
	item := f.enqueue(t)

	f.clock = f.clock.Add(49 * time.Hour)

	_, err := f.svc.Resolve(context.Background(), item.ID, entity.ResolveApprove, nil)
	assert.ErrorIs(t, err, entity.ErrApprovalExpired)
	assert.Zero(t, f.strategy.count())

	stored, _ := f.repo.GetByID(context.Background(), item.ID)
	assert.Equal(t, entity.ApprovalStatusExpired, stored.Status)

	_, err = f.svc.Resolve(context.Background(), item.ID, entity.ResolveApprove, nil)
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)
}

func TestApprovalService_SweepExpired(t *testing.T) {
	f := newApprovalFixture(t)
	stale := f.enqueue(t)
	f.clock = f.clock.Add(47 * time.Hour)
	fresh := f.enqueue(t)
	f.clock = f.clock.Add(2 * time.Hour)

	count, err := f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, f.metrics.expired)

	_, err = f.svc.Resolve(context.Background(), stale.ID, entity.ResolveApprove, nil)
	assert.ErrorIs(t, err, entity.ErrAlreadyResolved)

	pending, err := f.svc.GetPendingApprovals(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	var expiredEvt *event.Event
	for _, e := range f.publisher.events {
		if e.Type == event.TypeApprovalExpired {
			expiredEvt = e
		}
	}
	require.NotNil(t, expiredEvt)
	assert.Equal(t, int64(1), expiredEvt.GetPayloadInt(event.KeyCount))

	count, err = f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, 2, f.tx.calls, "each sweep runs in its own transaction")
}

func TestApprovalService_RecordingFailureDoesNotFailResolve(t *testing.T) {
	f := newApprovalFixture(t)
	item := f.enqueue(t)
	f.activity.recordActivityFunc = func(ctx context.Context, record *entity.ActivityRecord) error {
		return errors.New("db locked")
	}

	_, err := f.svc.Resolve(context.Background(), item.ID, entity.ResolveApprove, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.strategy.count())
}
