package port

import (
	"context"
	"time"

	"github.com/garyjia/agent-runtime/internal/domain/entity"
	"github.com/garyjia/agent-runtime/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Invocation is one call into a strategy
type Invocation struct {
	// TaskID is stable across redeliveries and retries of the same task.
	// Strategies with external side effects must use it to skip work that
	// already completed.
	TaskID    string
	AgentType entity.AgentType
	UserID    string
	Payload   map[string]interface{}
	Attempt   int
}

// Strategy is one pluggable agent.
//
// Execute evaluates the situation and returns an output, optionally with a
// proposed action. It must not cause external side effects itself.
// Perform carries out a proposed action. It is called inline at L3 or when a
// human approves the action, and must be idempotent for a given action.
type Strategy interface {
	Execute(ctx context.Context, inv Invocation) (*entity.AgentOutput, error)
	Perform(ctx context.Context, userID string, action entity.ProposedAction) error
}

// Validator is implemented by strategies that check payload structure
// before the brake is consulted
type Validator interface {
	Validate(payload map[string]interface{}) error
}

// StrategyResolver looks up the strategy for an agent type
type StrategyResolver interface {
	Resolve(agentType entity.AgentType) (Strategy, error)
}

// TaskHandler processes a single dequeued task
type TaskHandler func(ctx context.Context, task *entity.AgentTask) error

// TaskQueue is the distributed task queue
type TaskQueue interface {
	Enqueue(ctx context.Context, queue string, task *entity.AgentTask) error

	// EnqueueAt hands the task to consumers once at has passed. It returns
	// without waiting for at or for room in the queue, so a consumer may
	// reschedule work onto its own queue.
	EnqueueAt(ctx context.Context, queue string, task *entity.AgentTask, at time.Time) error

	// Consume blocks, handing tasks from queue to handler one at a time,
	// until ctx is cancelled or the queue is closed
	Consume(ctx context.Context, queue string, handler TaskHandler) error

	Close() error
}

// EventRelay forwards events to listeners outside the process
type EventRelay interface {
	Publish(ctx context.Context, evt *event.Event) error
	Close() error
}

// MessageSender delivers a text message through the messaging channel
type MessageSender interface {
	SendText(ctx context.Context, receiveIDType, receiveID, content string) (string, error)
}

// Metrics receives runtime and approval counters. Implementations must be
// safe for concurrent use.
type Metrics interface {
	RunObserved(agentType, outcome string, seconds float64)
	GateDecided(agentType, gate string)
	TaskRetried(agentType string)
	TaskFailed(agentType string)
	ApprovalResolved(status string)
	ApprovalsExpired(count int)
}

// NopMetrics discards everything
type NopMetrics struct{}

func (NopMetrics) RunObserved(string, string, float64) {}
func (NopMetrics) GateDecided(string, string)          {}
func (NopMetrics) TaskRetried(string)                  {}
func (NopMetrics) TaskFailed(string)                   {}
func (NopMetrics) ApprovalResolved(string)             {}
func (NopMetrics) ApprovalsExpired(int)                {}
