package entity

import (
	"time"

	"github.com/google/uuid"
)

// AgentTask is the unit of dispatch placed on the task queue.
// ID doubles as the idempotency key: the queue may redeliver a task, so
// strategies with external side effects must check for prior completion.
type AgentTask struct {
	ID         string                 `json:"id"`
	AgentType  AgentType              `json:"agent_type"`
	UserID     string                 `json:"user_id"`
	Payload    map[string]interface{} `json:"payload"`
	EnqueuedAt time.Time              `json:"enqueued_at"`
	RetryCount int                    `json:"retry_count"`

	// Dispatch metadata
	Queue      string    `json:"queue"`
	MaxRetries int       `json:"max_retries"`
	NotBefore  time.Time `json:"not_before,omitempty"`

	// Job is set for general-queue maintenance work instead of AgentType
	Job string `json:"job,omitempty"`

	// TraceContext carries W3C trace headers across the queue boundary
	TraceContext map[string]string `json:"trace_context,omitempty"`
}

// NewAgentTask creates a task with a fresh idempotency key
func NewAgentTask(agentType AgentType, userID string, payload map[string]interface{}) *AgentTask {
	return &AgentTask{
		ID:           uuid.NewString(),
		AgentType:    agentType,
		UserID:       userID,
		Payload:      payload,
		EnqueuedAt:   time.Now().UTC(),
		TraceContext: make(map[string]string),
	}
}

// IsJob reports whether the task is a maintenance job rather than an agent run
func (t *AgentTask) IsJob() bool {
	return t.Job != ""
}

// RetriesExhausted reports whether another attempt is allowed by the retry ceiling
func (t *AgentTask) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// NextAttempt returns a copy scheduled for redelivery after the backoff delay.
// The ID is preserved so the copy keeps the same idempotency key.
func (t *AgentTask) NextAttempt(backoff time.Duration, now time.Time) *AgentTask {
	next := *t
	next.RetryCount = t.RetryCount + 1
	next.NotBefore = now.Add(backoff).UTC()

	next.TraceContext = make(map[string]string, len(t.TraceContext))
	for k, v := range t.TraceContext {
		next.TraceContext[k] = v
	}
	return &next
}
