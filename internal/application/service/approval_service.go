package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/agent-runtime/internal/application/besteffort"
	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
	"github.com/garyjia/agent-runtime/internal/domain/workflow"
)

// ApprovalService manages the approval queue. Approving an item is the only
// path through which a gated action takes effect.
type ApprovalService interface {
	Enqueue(ctx context.Context, userID string, agentType entity.AgentType, taskID string, action entity.ProposedAction) (*entity.ApprovalItem, error)
	GetPendingApprovals(ctx context.Context, userID string) ([]*entity.ApprovalItem, error)
	Get(ctx context.Context, id string) (*entity.ApprovalItem, error)
	Resolve(ctx context.Context, id string, action entity.ResolveAction, editedPayload map[string]interface{}) (*entity.ApprovalItem, error)
	SweepExpired(ctx context.Context) (int, error)
}

// BrakeChecker is the brake read the approval path needs
type BrakeChecker interface {
	IsActive(ctx context.Context, userID string) (bool, *entity.BrakeState, error)
}

// ApprovalConfig holds approval queue settings
type ApprovalConfig struct {
	TTL time.Duration
}

type approvalServiceImpl struct {
	approvalRepo port.ApprovalRepository
	txManager    port.TransactionManager
	strategies   port.StrategyResolver
	brakes       BrakeChecker
	activity     ActivityService
	publisher    EventPublisher
	metrics      port.Metrics
	ttl          time.Duration
	now          Clock
	logger       Logger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	approvalRepo port.ApprovalRepository,
	txManager port.TransactionManager,
	strategies port.StrategyResolver,
	brakes BrakeChecker,
	activity ActivityService,
	publisher EventPublisher,
	metrics port.Metrics,
	cfg ApprovalConfig,
	logger Logger,
) ApprovalService {
	if cfg.TTL <= 0 {
		cfg.TTL = entity.DefaultApprovalTTL
	}
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	if txManager == nil {
		txManager = noTransactions{}
	}
	return &approvalServiceImpl{
		approvalRepo: approvalRepo,
		txManager:    txManager,
		strategies:   strategies,
		brakes:       brakes,
		activity:     activity,
		publisher:    publisher,
		metrics:      metrics,
		ttl:          cfg.TTL,
		now:          utcNow,
		logger:       logger,
	}
}

// Enqueue stores a pending item. Context is persisted verbatim for display.
// A task queues each action at most once: a redelivered task gets back the
// item its first delivery created, whatever its status.
func (s *approvalServiceImpl) Enqueue(ctx context.Context, userID string, agentType entity.AgentType, taskID string, action entity.ProposedAction) (*entity.ApprovalItem, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}
	if action.Name == "" {
		return nil, entity.NewValidationError("action_name", "required")
	}

	if existing, err := s.existing(ctx, taskID, action.Name); err != nil || existing != nil {
		return existing, err
	}

	item := entity.NewApprovalItem(userID, agentType, action, s.ttl, s.now())
	item.TaskID = taskID

	if err := s.approvalRepo.Create(ctx, item); err != nil {
		// Lost a race with a concurrent delivery of the same task
		if existing, _ := s.existing(ctx, taskID, action.Name); existing != nil {
			return existing, nil
		}
		s.logger.Error("Failed to enqueue approval", "error", err, "user_id", userID, "action", action.Name)
		return nil, fmt.Errorf("enqueue approval: %w", err)
	}

	s.logger.Info("Approval enqueued",
		"item_id", item.ID,
		"user_id", userID,
		"agent_type", agentType.String(),
		"action", action.Name,
		"expires_at", item.ExpiresAt,
	)

	s.record(ctx, item, entity.ActivityApprovalCreated, entity.SeverityInfo, nil)
	s.publisher.Publish(ctx, s.itemEvent(event.TypeApprovalCreated, item))

	return item, nil
}

func (s *approvalServiceImpl) existing(ctx context.Context, taskID, actionName string) (*entity.ApprovalItem, error) {
	if taskID == "" {
		return nil, nil
	}
	item, err := s.approvalRepo.GetByTask(ctx, taskID, actionName)
	if errors.Is(err, entity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up approval for task %s: %w", taskID, err)
	}
	s.logger.Info("Approval already queued for task", "item_id", item.ID, "task_id", taskID, "action", actionName)
	return item, nil
}

// GetPendingApprovals returns the user's inbox, oldest first
func (s *approvalServiceImpl) GetPendingApprovals(ctx context.Context, userID string) ([]*entity.ApprovalItem, error) {
	if userID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}
	items, err := s.approvalRepo.ListPending(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	if items == nil {
		items = []*entity.ApprovalItem{}
	}
	return items, nil
}

// Get returns one item
func (s *approvalServiceImpl) Get(ctx context.Context, id string) (*entity.ApprovalItem, error) {
	if id == "" {
		return nil, entity.NewValidationError("id", "required")
	}
	return s.approvalRepo.GetByID(ctx, id)
}

// Resolve applies a human decision. Exactly one concurrent caller wins the
// conditional update; the others get entity.ErrAlreadyResolved.
func (s *approvalServiceImpl) Resolve(ctx context.Context, id string, action entity.ResolveAction, editedPayload map[string]interface{}) (*entity.ApprovalItem, error) {
	if !action.IsValid() {
		return nil, entity.NewValidationError("action", fmt.Sprintf("unknown action %q", action))
	}
	if action == entity.ResolveEditApprove && editedPayload == nil {
		return nil, entity.NewValidationError("edited_payload", "required for edit_approve")
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status.IsTerminal() {
		return item, entity.ErrAlreadyResolved
	}

	now := s.now()
	if item.IsExpiredAt(now) {
		return s.expireOnResolve(ctx, item, now)
	}

	status, trigger := resolution(action)
	machine := workflow.NewApprovalLifecycle(workflow.State(item.Status))
	if !machine.CanFire(trigger) {
		return item, entity.ErrAlreadyResolved
	}

	var strategy port.Strategy
	if action != entity.ResolveReject {
		// The brake blocks approved actions too; the item stays pending
		active, state, err := s.brakes.IsActive(ctx, item.UserID)
		if err != nil {
			return nil, fmt.Errorf("check brake: %w", err)
		}
		if active {
			return item, &entity.BrakeActiveError{UserID: item.UserID, Reason: state.Reason}
		}

		strategy, err = s.strategies.Resolve(item.AgentType)
		if err != nil {
			return nil, fmt.Errorf("resolve strategy: %w", err)
		}
	}

	var newPayload map[string]interface{}
	if action == entity.ResolveEditApprove {
		newPayload = editedPayload
	}
	if err := s.approvalRepo.Resolve(ctx, item.ID, status, newPayload, now); err != nil {
		if errors.Is(err, entity.ErrAlreadyResolved) {
			s.logger.Warn("Approval resolved concurrently", "item_id", item.ID, "action", string(action))
		}
		return nil, err
	}
	_ = machine.Fire(ctx, trigger)

	item.Status = status
	item.ResolvedAt = &now
	if newPayload != nil {
		item.Payload = newPayload
	}

	s.metrics.ApprovalResolved(string(status))
	s.logger.Info("Approval resolved", "item_id", item.ID, "user_id", item.UserID, "status", string(status))

	var performErr error
	if strategy != nil {
		performErr = strategy.Perform(ctx, item.UserID, item.Action())
	}

	s.record(ctx, item, entity.ActivityApprovalResolved, entity.SeverityInfo, nil)
	s.publisher.Publish(ctx, s.itemEvent(event.TypeApprovalResolved, item))

	if performErr != nil {
		s.logger.Error("Approved action failed", "error", performErr, "item_id", item.ID, "action", item.ActionName)
		s.record(ctx, item, entity.ActivityActionFailed, entity.SeverityError, map[string]interface{}{
			event.KeyError: performErr.Error(),
		})
		return item, &entity.StrategyExecutionError{AgentType: item.AgentType, UserID: item.UserID, Err: performErr}
	}

	if strategy != nil {
		s.publisher.Publish(ctx, s.itemEvent(event.TypeActionExecuted, item))
	}
	return item, nil
}

// SweepExpired expires every overdue pending item and returns how many changed
func (s *approvalServiceImpl) SweepExpired(ctx context.Context) (int, error) {
	// One sweep commits or rolls back as a unit
	var expired []*entity.ApprovalItem
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		expired, err = s.approvalRepo.ExpireStale(txCtx, s.now())
		return err
	})
	if err != nil {
		s.logger.Error("Approval sweep failed", "error", err)
		return 0, fmt.Errorf("expire stale approvals: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	s.metrics.ApprovalsExpired(len(expired))

	byUser := make(map[string][]string)
	for _, item := range expired {
		s.record(ctx, item, entity.ActivityApprovalExpired, entity.SeverityInfo, nil)
		byUser[item.UserID] = append(byUser[item.UserID], item.ID)
	}

	users := make([]string, 0, len(byUser))
	for userID := range byUser {
		users = append(users, userID)
	}
	sort.Strings(users)
	for _, userID := range users {
		ids := byUser[userID]
		s.publisher.Publish(ctx, event.NewEvent(event.TypeApprovalExpired, userID, "", map[string]interface{}{
			event.KeyCount: len(ids),
			"item_ids":     ids,
		}))
	}

	s.logger.Info("Expired stale approvals", "count", len(expired), "users", len(users))
	return len(expired), nil
}

func (s *approvalServiceImpl) expireOnResolve(ctx context.Context, item *entity.ApprovalItem, now time.Time) (*entity.ApprovalItem, error) {
	err := s.approvalRepo.Resolve(ctx, item.ID, entity.ApprovalStatusExpired, nil, now)
	if err != nil && !errors.Is(err, entity.ErrAlreadyResolved) {
		return nil, err
	}
	if errors.Is(err, entity.ErrAlreadyResolved) {
		return item, err
	}

	item.Status = entity.ApprovalStatusExpired
	item.ResolvedAt = &now
	s.metrics.ApprovalsExpired(1)
	s.record(ctx, item, entity.ActivityApprovalExpired, entity.SeverityInfo, nil)
	s.publisher.Publish(ctx, s.itemEvent(event.TypeApprovalExpired, item).WithPayload(event.KeyCount, 1))
	return item, entity.ErrApprovalExpired
}

func (s *approvalServiceImpl) record(ctx context.Context, item *entity.ApprovalItem, eventType string, severity entity.Severity, extra map[string]interface{}) {
	data := map[string]interface{}{
		event.KeyItemID: item.ID,
		event.KeyAction: item.ActionName,
		event.KeyStatus: string(item.Status),
	}
	for k, v := range extra {
		data[k] = v
	}
	record := entity.NewActivityRecord(item.UserID, item.AgentType, eventType, severity, data)
	record.TaskID = item.TaskID

	besteffort.Do(ctx, s.logger, "record_approval_activity", func(ctx context.Context) error {
		return s.activity.RecordActivity(ctx, record)
	}, "item_id", item.ID, "event_type", eventType)
}

func (s *approvalServiceImpl) itemEvent(eventType event.Type, item *entity.ApprovalItem) *event.Event {
	return event.NewEventWithCorrelation(eventType, item.UserID, item.AgentType.String(), map[string]interface{}{
		event.KeyItemID: item.ID,
		event.KeyAction: item.ActionName,
		event.KeyStatus: string(item.Status),
		event.KeyTaskID: item.TaskID,
		"action_kind":   string(item.ActionKind),
		"context":       item.Context,
	}, item.ID)
}

func resolution(action entity.ResolveAction) (entity.ApprovalStatus, workflow.Trigger) {
	switch action {
	case entity.ResolveEditApprove:
		return entity.ApprovalStatusEditedApproved, workflow.TriggerEditApprove
	case entity.ResolveReject:
		return entity.ApprovalStatusRejected, workflow.TriggerDecline
	default:
		return entity.ApprovalStatusApproved, workflow.TriggerApprove
	}
}

// noTransactions runs fn without a transaction
type noTransactions struct{}

func (noTransactions) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
