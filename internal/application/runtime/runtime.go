// Package runtime runs one strategy invocation through the fixed lifecycle:
// validate, brake check, execute, approval gate, record, publish. Only the
// execute step (and the gate's own side effects) produce retryable errors;
// recording and publishing never fail a run.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/garyjia/agent-runtime/internal/application/besteffort"
	"github.com/garyjia/agent-runtime/internal/application/port"
	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
	"github.com/garyjia/agent-runtime/internal/domain/policy"
	"github.com/garyjia/agent-runtime/internal/domain/workflow"
)

// BrakeChecker is the authoritative brake read
type BrakeChecker interface {
	IsActive(ctx context.Context, userID string) (bool, *entity.BrakeState, error)
}

// AutonomyResolver returns the effective autonomy for a user
type AutonomyResolver interface {
	ResolveAutonomy(ctx context.Context, userID string) (*entity.AutonomyConfig, error)
}

// ApprovalQueue stores gated actions
type ApprovalQueue interface {
	Enqueue(ctx context.Context, userID string, agentType entity.AgentType, taskID string, action entity.ProposedAction) (*entity.ApprovalItem, error)
}

// Recorder persists outputs and activity
type Recorder interface {
	RecordOutput(ctx context.Context, output *entity.AgentOutput) error
	RecordActivity(ctx context.Context, record *entity.ActivityRecord) error
}

// Publisher emits domain events
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event)
}

// Output data keys set by the gate
const (
	DataGate           = "gate"
	DataAutonomyLevel  = "autonomy_level"
	DataApprovalItemID = "approval_item_id"
	DataSuggestion     = "suggestion"
	DataExecuted       = "executed_action"
)

// Run outcomes reported to metrics
const (
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeBrake     = "brake"
	OutcomeFailed    = "failed"
)

// Runtime is the lifecycle controller
type Runtime struct {
	strategies port.StrategyResolver
	brakes     BrakeChecker
	autonomy   AutonomyResolver
	approvals  ApprovalQueue
	recorder   Recorder
	publisher  Publisher
	metrics    port.Metrics
	logger     port.Logger
	now        func() time.Time
}

// Deps groups the runtime's collaborators
type Deps struct {
	Strategies port.StrategyResolver
	Brakes     BrakeChecker
	Autonomy   AutonomyResolver
	Approvals  ApprovalQueue
	Recorder   Recorder
	Publisher  Publisher
	Metrics    port.Metrics
	Logger     port.Logger
}

// New creates a Runtime
func New(deps Deps) *Runtime {
	if deps.Metrics == nil {
		deps.Metrics = port.NopMetrics{}
	}
	return &Runtime{
		strategies: deps.Strategies,
		brakes:     deps.Brakes,
		autonomy:   deps.Autonomy,
		approvals:  deps.Approvals,
		recorder:   deps.Recorder,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one invocation. Errors are *entity.ValidationError,
// *entity.BrakeActiveError, *entity.StrategyExecutionError, or a plain
// error when the brake cannot be read.
func (r *Runtime) Run(ctx context.Context, inv port.Invocation) (*entity.AgentOutput, error) {
	started := time.Now()
	machine := workflow.NewRunLifecycle()
	agentType := inv.AgentType.String()

	// 1. Validate
	strategy, err := r.validate(inv)
	if err != nil {
		r.settle(ctx, machine, workflow.TriggerReject, inv)
		r.metrics.RunObserved(agentType, OutcomeRejected, time.Since(started).Seconds())
		return nil, err
	}
	if err := machine.Fire(ctx, workflow.TriggerValidate); err != nil {
		return nil, err
	}

	// 2. Brake
	active, state, err := r.brakes.IsActive(ctx, inv.UserID)
	if err != nil {
		// Unknown brake state: refuse to run
		r.settle(ctx, machine, workflow.TriggerReject, inv)
		r.metrics.RunObserved(agentType, OutcomeFailed, time.Since(started).Seconds())
		return nil, fmt.Errorf("check brake for user %s: %w", inv.UserID, err)
	}
	if active {
		r.settle(ctx, machine, workflow.TriggerReject, inv)
		r.metrics.RunObserved(agentType, OutcomeBrake, time.Since(started).Seconds())
		r.logger.Info("Run blocked by brake", "user_id", inv.UserID, "agent_type", agentType, "task_id", inv.TaskID)
		return nil, &entity.BrakeActiveError{UserID: inv.UserID, Reason: state.Reason}
	}
	if err := machine.Fire(ctx, workflow.TriggerClearBrake); err != nil {
		return nil, err
	}

	// 3. Execute
	output, err := r.execute(ctx, strategy, inv)
	if err != nil {
		r.settle(ctx, machine, workflow.TriggerFail, inv)
		r.metrics.RunObserved(agentType, OutcomeFailed, time.Since(started).Seconds())
		return nil, r.executionError(inv, err, "execute")
	}
	if err := machine.Fire(ctx, workflow.TriggerExecute); err != nil {
		return nil, err
	}

	// 4. Gate
	gate, activityType, err := r.gate(ctx, strategy, inv, output)
	if err != nil {
		r.settle(ctx, machine, workflow.TriggerFail, inv)
		r.metrics.RunObserved(agentType, OutcomeFailed, time.Since(started).Seconds())
		return nil, r.executionError(inv, err, "gate")
	}
	if err := machine.Fire(ctx, workflow.TriggerGate); err != nil {
		return nil, err
	}

	// 5. Record
	r.record(ctx, inv, output, gate, activityType)
	if err := machine.Fire(ctx, workflow.TriggerRecord); err != nil {
		return nil, err
	}

	// 6. Publish
	r.publish(ctx, inv, output, gate)
	if err := machine.Fire(ctx, workflow.TriggerPublish); err != nil {
		return nil, err
	}

	r.metrics.RunObserved(agentType, OutcomeCompleted, time.Since(started).Seconds())
	return output, nil
}

func (r *Runtime) validate(inv port.Invocation) (port.Strategy, error) {
	if inv.UserID == "" {
		return nil, entity.NewValidationError("user_id", "required")
	}

	strategy, err := r.strategies.Resolve(inv.AgentType)
	if errors.Is(err, entity.ErrUnknownAgentType) {
		return nil, entity.NewValidationError("agent_type", err.Error())
	}
	if err != nil {
		// Factory failures surface as execution errors so they are retried
		return nil, &entity.StrategyExecutionError{
			AgentType: inv.AgentType,
			UserID:    inv.UserID,
			Err:       err,
			Record:    r.failureRecord(inv, err, "resolve"),
		}
	}

	if v, ok := strategy.(port.Validator); ok {
		if err := v.Validate(inv.Payload); err != nil {
			var ve *entity.ValidationError
			if errors.As(err, &ve) {
				return nil, ve
			}
			return nil, entity.NewValidationError("payload", err.Error())
		}
	}
	return strategy, nil
}

// execute calls the strategy, turning panics and nil outputs into errors
func (r *Runtime) execute(ctx context.Context, strategy port.Strategy, inv port.Invocation) (output *entity.AgentOutput, err error) {
	defer func() {
		if p := recover(); p != nil {
			output = nil
			err = fmt.Errorf("strategy panicked: %v", p)
		}
	}()

	output, err = strategy.Execute(ctx, inv)
	if err != nil {
		return nil, err
	}
	if output == nil {
		return nil, errors.New("strategy returned no output")
	}

	output.TaskID = inv.TaskID
	output.AgentType = inv.AgentType
	output.UserID = inv.UserID
	if output.CreatedAt.IsZero() {
		output.CreatedAt = r.now()
	}
	if math.IsNaN(output.Confidence) {
		output.Confidence = 0
	}
	output.Confidence = math.Max(0, math.Min(1, output.Confidence))
	return output, nil
}

// gate applies the autonomy policy to the proposed action. It returns the
// gate taken and the activity type to record.
func (r *Runtime) gate(ctx context.Context, strategy port.Strategy, inv port.Invocation, output *entity.AgentOutput) (policy.Gate, string, error) {
	if !output.HasSideEffect() {
		// Nothing to approve
		output.RequiresApproval = false
		return policy.GateNone, entity.ActivityStepCompleted, nil
	}

	action := *output.Proposed
	if !action.Kind.IsValid() {
		return "", "", fmt.Errorf("unknown action kind %q", action.Kind)
	}

	level := entity.DefaultAutonomyLevel
	cfg, err := r.autonomy.ResolveAutonomy(ctx, inv.UserID)
	if err != nil {
		// Fall back to a level that queues rather than executes
		r.logger.Warn("Autonomy resolution failed, queueing for approval",
			"error", err, "user_id", inv.UserID, "task_id", inv.TaskID)
	} else {
		level = cfg.Level
	}

	gate := policy.GateFor(inv.AgentType, action.Kind, level, output.RequiresApproval)
	r.metrics.GateDecided(inv.AgentType.String(), string(gate))
	output.SetData(DataGate, string(gate))
	output.SetData(DataAutonomyLevel, level.String())

	switch gate {
	case policy.GateSuggest:
		output.RequiresApproval = false
		output.SetData(DataSuggestion, action)
		return gate, entity.ActivitySuggestion, nil

	case policy.GateQueue:
		item, err := r.approvals.Enqueue(ctx, inv.UserID, inv.AgentType, inv.TaskID, action)
		if err != nil {
			return "", "", fmt.Errorf("enqueue approval: %w", err)
		}
		output.RequiresApproval = true
		output.SetData(DataApprovalItemID, item.ID)
		// The approval queue records approval.created itself
		return gate, entity.ActivityStepCompleted, nil

	case policy.GateExecute:
		if err := strategy.Perform(ctx, inv.UserID, action); err != nil {
			return "", "", fmt.Errorf("perform %s: %w", action.Name, err)
		}
		output.RequiresApproval = false
		output.SetData(DataExecuted, action.Name)
		return gate, entity.ActivityActionExecuted, nil
	}

	return gate, entity.ActivityStepCompleted, nil
}

func (r *Runtime) record(ctx context.Context, inv port.Invocation, output *entity.AgentOutput, gate policy.Gate, activityType string) {
	besteffort.Do(ctx, r.logger, "record_output", func(ctx context.Context) error {
		return r.recorder.RecordOutput(ctx, output)
	}, "task_id", inv.TaskID, "agent_type", inv.AgentType.String())

	data := map[string]interface{}{
		event.KeyAction:     output.Action,
		event.KeyConfidence: output.Confidence,
		DataGate:            string(gate),
	}
	if id, ok := output.Data[DataApprovalItemID]; ok {
		data[DataApprovalItemID] = id
	}
	record := entity.NewActivityRecord(inv.UserID, inv.AgentType, activityType, entity.SeverityInfo, data)
	record.TaskID = inv.TaskID

	besteffort.Do(ctx, r.logger, "record_activity", func(ctx context.Context) error {
		return r.recorder.RecordActivity(ctx, record)
	}, "task_id", inv.TaskID, "event_type", activityType)
}

func (r *Runtime) publish(ctx context.Context, inv port.Invocation, output *entity.AgentOutput, gate policy.Gate) {
	payload := map[string]interface{}{
		event.KeyAction:     output.Action,
		event.KeyConfidence: output.Confidence,
		event.KeyTaskID:     inv.TaskID,
		event.KeyRationale:  output.Rationale,
		DataGate:            string(gate),
	}
	events := []*event.Event{
		event.NewEventWithCorrelation(event.TypeStepCompleted, inv.UserID, inv.AgentType.String(), payload, inv.TaskID),
	}
	if gate == policy.GateExecute {
		events = append(events, event.NewEventWithCorrelation(event.TypeActionExecuted, inv.UserID, inv.AgentType.String(), map[string]interface{}{
			event.KeyAction:     output.Proposed.Name,
			event.KeyConfidence: output.Confidence,
			event.KeyTaskID:     inv.TaskID,
		}, inv.TaskID))
	}

	for _, evt := range events {
		evt := evt
		besteffort.Do(ctx, r.logger, "publish_event", func(ctx context.Context) error {
			r.publisher.Publish(ctx, evt)
			return nil
		}, "task_id", inv.TaskID, "event_type", evt.Type.String())
	}
}

// settle moves the lifecycle to its terminal state on an early exit
func (r *Runtime) settle(ctx context.Context, machine workflow.StateMachine, trigger workflow.Trigger, inv port.Invocation) {
	if err := machine.Fire(ctx, trigger); err != nil {
		r.logger.Error("Run lifecycle transition failed",
			"error", err,
			"trigger", trigger.String(),
			"state", machine.State().String(),
			"task_id", inv.TaskID,
		)
	}
}

func (r *Runtime) executionError(inv port.Invocation, err error, step string) error {
	r.logger.Error("Strategy execution failed",
		"error", err,
		"step", step,
		"agent_type", inv.AgentType.String(),
		"user_id", inv.UserID,
		"task_id", inv.TaskID,
		"attempt", inv.Attempt,
	)
	return &entity.StrategyExecutionError{
		AgentType: inv.AgentType,
		UserID:    inv.UserID,
		Err:       err,
		Record:    r.failureRecord(inv, err, step),
	}
}

func (r *Runtime) failureRecord(inv port.Invocation, err error, step string) *entity.ActivityRecord {
	record := entity.NewActivityRecord(inv.UserID, inv.AgentType, entity.ActivityTaskFailed, entity.SeverityError, map[string]interface{}{
		event.KeyError: err.Error(),
		"step":         step,
		"attempt":      inv.Attempt,
	})
	record.TaskID = inv.TaskID
	return record
}
